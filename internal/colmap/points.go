package colmap

import (
	"io"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
)

const points3DTextHeader = "# 3D point list with one line of data per point:\n" +
	"#   POINT3D_ID, X, Y, Z, R, G, B, ERROR, TRACK[] as (IMAGE_ID, POINT2D_IDX)\n"

// Points3DBinarySize returns the exact size of points3D.bin for pts.
func Points3DBinarySize(pts []dataset.Point3D) int64 {
	n := int64(8)
	for _, p := range pts {
		n += 8 + 24 + 3 + 8 + 8 + 8*int64(len(p.Track))
	}
	return n
}

func validatePoints(op string, pts []dataset.Point3D) error {
	for _, p := range pts {
		if !geom.IsFinite(p.Position) {
			return errs.Conversionf(op, "point %d: non-finite position", p.ID)
		}
	}
	return nil
}

// WritePoints3DText writes points3D.txt.
func WritePoints3DText(w io.Writer, pts []dataset.Point3D) error {
	const op = "write points3D.txt"
	if err := validatePoints(op, pts); err != nil {
		return err
	}
	var track float64
	for _, p := range pts {
		track += float64(len(p.Track))
	}
	if len(pts) > 0 {
		track /= float64(len(pts))
	}
	t := newTextWriter(w)
	t.str(points3DTextHeader)
	t.str("# Number of points: ")
	t.uint(uint64(len(pts)))
	t.str(", mean track length: ")
	t.float(track)
	t.str("\n")
	for _, p := range pts {
		t.uint(p.ID)
		for _, v := range []float64{p.Position.X, p.Position.Y, p.Position.Z} {
			t.str(" ")
			t.float(v)
		}
		for _, c := range p.Color {
			t.str(" ")
			t.uint(uint64(c))
		}
		t.str(" ")
		t.float(p.Error)
		for _, e := range p.Track {
			t.str(" ")
			t.uint(uint64(e.ImageID))
			t.str(" ")
			t.uint(uint64(e.Point2DIdx))
		}
		t.str("\n")
	}
	return errs.IO(op, t.flush())
}

// WritePoints3DBinary writes points3D.bin.
func WritePoints3DBinary(w io.Writer, pts []dataset.Point3D) error {
	const op = "write points3D.bin"
	if err := validatePoints(op, pts); err != nil {
		return err
	}
	b := &binWriter{w: w}
	b.u64(uint64(len(pts)))
	for _, p := range pts {
		b.u64(p.ID)
		b.f64(p.Position.X)
		b.f64(p.Position.Y)
		b.f64(p.Position.Z)
		b.u8(p.Color[0])
		b.u8(p.Color[1])
		b.u8(p.Color[2])
		b.f64(p.Error)
		b.u64(uint64(len(p.Track)))
		for _, e := range p.Track {
			b.u32(e.ImageID)
			b.u32(e.Point2DIdx)
		}
	}
	return errs.IO(op, b.err)
}

// WritePoints3D writes pts in format f.
func WritePoints3D(w io.Writer, f dataset.Format, pts []dataset.Point3D) error {
	if f == dataset.Binary {
		return WritePoints3DBinary(w, pts)
	}
	return WritePoints3DText(w, pts)
}

// ReadPoints3DText parses points3D.txt.
func ReadPoints3DText(r io.Reader) ([]dataset.Point3D, error) {
	l := newLineScanner(r, "read points3D.txt")
	var pts []dataset.Point3D
	for {
		line, ok := l.nextRecord()
		if !ok {
			break
		}
		f := l.fields(line)
		if len(f.fields) < 8 || (len(f.fields)-8)%2 != 0 {
			return nil, l.errf("want 8 fields plus (IMAGE_ID, POINT2D_IDX) pairs, got %d fields", len(f.fields))
		}
		p := dataset.Point3D{
			ID:       f.uint(0, 64),
			Position: r3.Vec{X: f.float(1), Y: f.float(2), Z: f.float(3)},
			Color:    [3]uint8{uint8(f.uint(4, 8)), uint8(f.uint(5, 8)), uint8(f.uint(6, 8))},
			Error:    f.float(7),
		}
		for i := 8; i < len(f.fields); i += 2 {
			p.Track = append(p.Track, dataset.TrackElement{
				ImageID:    uint32(f.uint(i, 32)),
				Point2DIdx: uint32(f.uint(i+1, 32)),
			})
		}
		if f.err != nil {
			return nil, f.err
		}
		pts = append(pts, p)
	}
	return pts, l.close()
}

// ReadPoints3DBinary parses points3D.bin.
func ReadPoints3DBinary(r io.Reader) ([]dataset.Point3D, error) {
	b := newBinReader(r, "read points3D.bin")
	n := b.u64()
	pts := make([]dataset.Point3D, 0, prealloc(n))
	for i := uint64(0); i < n && b.err == nil; i++ {
		p := dataset.Point3D{
			ID:       b.u64(),
			Position: r3.Vec{X: b.f64(), Y: b.f64(), Z: b.f64()},
			Color:    [3]uint8{b.u8(), b.u8(), b.u8()},
			Error:    b.f64(),
		}
		tl := b.u64()
		if b.err != nil {
			break
		}
		if tl > 0 {
			p.Track = make([]dataset.TrackElement, 0, prealloc(tl))
		}
		for j := uint64(0); j < tl && b.err == nil; j++ {
			p.Track = append(p.Track, dataset.TrackElement{ImageID: b.u32(), Point2DIdx: b.u32()})
		}
		pts = append(pts, p)
	}
	b.expectEOF()
	if b.err != nil {
		return nil, b.err
	}
	return pts, nil
}

// ReadPoints3D parses pts in format f.
func ReadPoints3D(r io.Reader, f dataset.Format) ([]dataset.Point3D, error) {
	if f == dataset.Binary {
		return ReadPoints3DBinary(r)
	}
	return ReadPoints3DText(r)
}
