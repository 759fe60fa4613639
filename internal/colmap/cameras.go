// Package colmap reads and writes COLMAP sparse models (cameras, images and
// points3D) in both the text and the little-endian binary encodings, and
// writes complete dataset directories.
package colmap

import (
	"io"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/errs"
)

const camerasTextHeader = "# Camera list with one line of data per camera:\n" +
	"#   CAMERA_ID, MODEL, WIDTH, HEIGHT, PARAMS[]\n"

// cameraRecordSize is the binary size of one camera record.
func cameraRecordSize(m camera.Model) int64 {
	return 4 + 4 + 8 + 8 + 8*int64(len(m.Params))
}

// CamerasBinarySize returns the exact size of cameras.bin for cams.
func CamerasBinarySize(cams []camera.Model) int64 {
	n := int64(8)
	for _, c := range cams {
		n += cameraRecordSize(c)
	}
	return n
}

func validateCameras(op string, cams []camera.Model) error {
	seen := make(map[uint32]bool, len(cams))
	for _, c := range cams {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.ID] {
			return errs.Configf(op, "duplicate camera id %d", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// WriteCamerasText writes cameras.txt.
func WriteCamerasText(w io.Writer, cams []camera.Model) error {
	const op = "write cameras.txt"
	if err := validateCameras(op, cams); err != nil {
		return err
	}
	t := newTextWriter(w)
	t.str(camerasTextHeader)
	t.str("# Number of cameras: ")
	t.uint(uint64(len(cams)))
	t.str("\n")
	for _, c := range cams {
		t.uint(uint64(c.ID))
		t.str(" " + c.Kind.String() + " ")
		t.uint(uint64(c.Width))
		t.str(" ")
		t.uint(uint64(c.Height))
		for _, p := range c.Params {
			t.str(" ")
			t.float(p)
		}
		t.str("\n")
	}
	return errs.IO(op, t.flush())
}

// WriteCamerasBinary writes cameras.bin.
func WriteCamerasBinary(w io.Writer, cams []camera.Model) error {
	const op = "write cameras.bin"
	if err := validateCameras(op, cams); err != nil {
		return err
	}
	b := &binWriter{w: w}
	b.u64(uint64(len(cams)))
	for _, c := range cams {
		b.u32(c.ID)
		b.i32(int32(c.Kind))
		b.u64(uint64(c.Width))
		b.u64(uint64(c.Height))
		for _, p := range c.Params {
			b.f64(p)
		}
	}
	return errs.IO(op, b.err)
}

// WriteCameras writes cams in format f.
func WriteCameras(w io.Writer, f dataset.Format, cams []camera.Model) error {
	if f == dataset.Binary {
		return WriteCamerasBinary(w, cams)
	}
	return WriteCamerasText(w, cams)
}

// ReadCamerasText parses cameras.txt.
func ReadCamerasText(r io.Reader) ([]camera.Model, error) {
	l := newLineScanner(r, "read cameras.txt")
	var cams []camera.Model
	for {
		line, ok := l.nextRecord()
		if !ok {
			break
		}
		p := l.fields(line)
		if len(p.fields) < 4 {
			return nil, l.errf("want at least 4 fields, got %d", len(p.fields))
		}
		kind, err := camera.ParseKind(p.fields[1])
		if err != nil {
			return nil, l.errf("%v", err)
		}
		if want := 4 + kind.NumParams(); len(p.fields) != want {
			return nil, l.errf("%s wants %d fields, got %d", kind, want, len(p.fields))
		}
		id := p.uint(0, 32)
		width := p.uint(2, 31)
		height := p.uint(3, 31)
		params := make([]float64, kind.NumParams())
		for i := range params {
			params[i] = p.float(4 + i)
		}
		if p.err != nil {
			return nil, p.err
		}
		m, err := camera.NewModel(uint32(id), kind, int(width), int(height), params)
		if err != nil {
			return nil, l.errf("%v", err)
		}
		cams = append(cams, m)
	}
	return cams, l.close()
}

// ReadCamerasBinary parses cameras.bin.
func ReadCamerasBinary(r io.Reader) ([]camera.Model, error) {
	b := newBinReader(r, "read cameras.bin")
	n := b.u64()
	cams := make([]camera.Model, 0, prealloc(n))
	for i := uint64(0); i < n && b.err == nil; i++ {
		id := b.u32()
		kind := camera.Kind(b.i32())
		width, height := b.u64(), b.u64()
		if b.err != nil {
			break
		}
		if !kind.Valid() {
			return nil, errs.Formatf(b.op, "camera %d: unknown model id %d", id, int32(kind))
		}
		params := make([]float64, kind.NumParams())
		for j := range params {
			params[j] = b.f64()
		}
		if b.err != nil {
			break
		}
		m, err := camera.NewModel(id, kind, int(width), int(height), params)
		if err != nil {
			return nil, errs.Formatf(b.op, "camera %d: %v", id, err)
		}
		cams = append(cams, m)
	}
	b.expectEOF()
	if b.err != nil {
		return nil, b.err
	}
	return cams, nil
}

// ReadCameras parses cams in format f.
func ReadCameras(r io.Reader, f dataset.Format) ([]camera.Model, error) {
	if f == dataset.Binary {
		return ReadCamerasBinary(r)
	}
	return ReadCamerasText(r)
}
