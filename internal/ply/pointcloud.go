package ply

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
)

// PointRecordSize is six floats and three colour bytes.
const PointRecordSize = 27

// Point is one coloured point cloud vertex.
type Point struct {
	Position [3]float32
	Normal   [3]float32
	Color    [3]uint8
}

var pointProps = []string{"x", "y", "z", "nx", "ny", "nz", "red", "green", "blue"}
var pointTypes = []string{"float", "float", "float", "float", "float", "float", "uchar", "uchar", "uchar"}

// PointCloudHeader returns the header for count points.
func PointCloudHeader(count int) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "ply\nformat binary_little_endian 1.0\nelement vertex %d\n", count)
	for i, p := range pointProps {
		buf.WriteString("property " + pointTypes[i] + " " + p + "\n")
	}
	buf.WriteString("end_header\n")
	return buf.Bytes()
}

// PointCloudSize returns the exact file size for count points.
func PointCloudSize(count int) int64 {
	return int64(len(PointCloudHeader(count))) + int64(count)*PointRecordSize
}

// PointsFromDataset converts sparse points to point cloud vertices with zero
// normals.
func PointsFromDataset(pts []dataset.Point3D) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{
			Position: [3]float32{float32(p.Position.X), float32(p.Position.Y), float32(p.Position.Z)},
			Color:    p.Color,
		}
	}
	return out
}

// EncodePointCloud writes the header and every point to w.
func EncodePointCloud(ctx context.Context, w io.Writer, pts []Point) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := bw.Write(PointCloudHeader(len(pts))); err != nil {
		return errs.IO("write point cloud", err)
	}
	rec := make([]byte, 0, PointRecordSize)
	for i := range pts {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		p := &pts[i]
		rec = rec[:0]
		for _, v := range p.Position {
			rec = binary.LittleEndian.AppendUint32(rec, math.Float32bits(v))
		}
		for _, v := range p.Normal {
			rec = binary.LittleEndian.AppendUint32(rec, math.Float32bits(v))
		}
		rec = append(rec, p.Color[:]...)
		if _, err := bw.Write(rec); err != nil {
			return errs.IO("write point cloud", err)
		}
	}
	return errs.IO("write point cloud", bw.Flush())
}

// WritePointCloud writes pts to path with the same partial-file and size
// checks as WriteSplats. An empty cloud is valid.
func WritePointCloud(ctx context.Context, fsys fsutil.FileSystem, path string, pts []Point) (int64, error) {
	return writeChecked(fsys, path, PointCloudSize(len(pts)), func(w io.Writer) error {
		return EncodePointCloud(ctx, w, pts)
	}, fmt.Sprintf("%d points", len(pts)))
}

// ReadPointCloud parses a file written by WritePointCloud.
func ReadPointCloud(r io.Reader) ([]Point, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br, "read point cloud")
	if err != nil {
		return nil, err
	}
	if !equalStrings(h.props, pointProps) || !equalStrings(h.types, pointTypes) {
		return nil, errs.Formatf("read point cloud", "unexpected vertex properties")
	}
	pts := make([]Point, 0, min(h.count, 1<<16))
	rec := make([]byte, PointRecordSize)
	for i := 0; i < h.count; i++ {
		if _, err := io.ReadFull(br, rec); err != nil {
			return nil, errs.Formatf("read point cloud", "truncated at point %d of %d", i, h.count)
		}
		var p Point
		for j := 0; j < 3; j++ {
			p.Position[j] = math.Float32frombits(binary.LittleEndian.Uint32(rec[4*j:]))
			p.Normal[j] = math.Float32frombits(binary.LittleEndian.Uint32(rec[12+4*j:]))
		}
		copy(p.Color[:], rec[24:27])
		pts = append(pts, p)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, errs.Formatf("read point cloud", "trailing data after %d points", h.count)
	}
	return pts, nil
}
