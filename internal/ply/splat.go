// Package ply writes and reads the binary little-endian PLY files used for
// Gaussian splats and plain point clouds.
package ply

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
	"github.com/banshee-data/splatcapture/internal/monitoring"
)

// SHRestCount is the number of non-DC spherical-harmonic coefficients for
// degree 3 (15 per colour channel).
const SHRestCount = 45

// Splat is one Gaussian primitive. Opacity is stored before the sigmoid,
// Scale before the exponential, and Rotation is a unit quaternion w, x, y, z.
type Splat struct {
	Position [3]float32
	Normal   [3]float32
	SHDC     [3]float32
	SHRest   [SHRestCount]float32
	Opacity  float32
	Scale    [3]float32
	Rotation [4]float32
}

// Options selects optional properties.
type Options struct {
	Normals bool
}

// Properties returns the vertex property names in file order.
func (o Options) Properties() []string {
	props := []string{"x", "y", "z"}
	if o.Normals {
		props = append(props, "nx", "ny", "nz")
	}
	props = append(props, "f_dc_0", "f_dc_1", "f_dc_2")
	for i := 0; i < SHRestCount; i++ {
		props = append(props, "f_rest_"+strconv.Itoa(i))
	}
	props = append(props, "opacity", "scale_0", "scale_1", "scale_2", "rot_0", "rot_1", "rot_2", "rot_3")
	return props
}

// RecordSize is the byte size of one vertex: 236 without normals, 248 with.
func (o Options) RecordSize() int { return 4 * len(o.Properties()) }

// Header returns the PLY header for count splats.
func Header(count int, o Options) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "ply\nformat binary_little_endian 1.0\nelement vertex %d\n", count)
	for _, p := range o.Properties() {
		buf.WriteString("property float " + p + "\n")
	}
	buf.WriteString("end_header\n")
	return buf.Bytes()
}

// FileSize returns the exact size of a splat file holding count splats.
func FileSize(count int, o Options) int64 {
	return int64(len(Header(count, o))) + int64(count)*int64(o.RecordSize())
}

// appendRecord appends s in header property order.
func appendRecord(buf []byte, s *Splat, o Options) []byte {
	put := func(vs ...float32) {
		for _, v := range vs {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	put(s.Position[:]...)
	if o.Normals {
		put(s.Normal[:]...)
	}
	put(s.SHDC[:]...)
	put(s.SHRest[:]...)
	put(s.Opacity)
	put(s.Scale[:]...)
	put(s.Rotation[:]...)
	return buf
}

// Encode writes the header and every record to w. The context is checked
// every checkEvery records.
func Encode(ctx context.Context, w io.Writer, splats []Splat, o Options) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := bw.Write(Header(len(splats), o)); err != nil {
		return errs.IO("write splats", err)
	}
	rec := make([]byte, 0, o.RecordSize())
	for i := range splats {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec = appendRecord(rec[:0], &splats[i], o)
		if _, err := bw.Write(rec); err != nil {
			return errs.IO("write splats", err)
		}
	}
	return errs.IO("write splats", bw.Flush())
}

const checkEvery = 4096

// WriteSplats writes splats to path through a partial file and then checks
// the committed size against the header's element count. A mismatch is a
// format error and the file is removed. Splats that fail CheckSplats are a
// conversion error and nothing is written. It returns the file size.
func WriteSplats(ctx context.Context, fsys fsutil.FileSystem, path string, splats []Splat, o Options) (int64, error) {
	if len(splats) == 0 {
		return 0, errs.Configf("write splats", "no splats to write")
	}
	if err := CheckSplats(splats, o); err != nil {
		return 0, err
	}
	want := FileSize(len(splats), o)
	return writeChecked(fsys, path, want, func(w io.Writer) error {
		return Encode(ctx, w, splats, o)
	}, fmt.Sprintf("%d splats", len(splats)))
}

// writeChecked writes a file through a partial file, checks the bytes
// written before committing and the size on disk after.
func writeChecked(fsys fsutil.FileSystem, path string, want int64, fn func(io.Writer) error, what string) (int64, error) {
	p, err := fsutil.CreatePartial(fsys, path)
	if err != nil {
		return 0, errs.IO("create "+path, err)
	}
	if err := fn(p); err != nil {
		p.Abort()
		return 0, err
	}
	if p.Written() != want {
		p.Abort()
		return 0, errs.Formatf("ply", "%s: wrote %d bytes, expected %d", path, p.Written(), want)
	}
	if err := p.Commit(); err != nil {
		return 0, errs.IO("commit "+path, err)
	}
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, errs.IO("stat "+path, err)
	}
	if info.Size() != want {
		_ = fsys.Remove(path)
		return 0, errs.Formatf("ply", "%s is %d bytes on disk, expected %d", path, info.Size(), want)
	}
	monitoring.Logf("ply: wrote %s (%d bytes) to %s", what, want, path)
	return want, nil
}

// ReadSplats parses a splat file written by WriteSplats, with or without
// normals.
func ReadSplats(r io.Reader) ([]Splat, Options, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br, "read splats")
	if err != nil {
		return nil, Options{}, err
	}
	var o Options
	switch {
	case equalStrings(h.props, Options{}.Properties()):
	case equalStrings(h.props, Options{Normals: true}.Properties()):
		o.Normals = true
	default:
		return nil, o, errs.Formatf("read splats", "unexpected vertex properties")
	}
	if !h.allFloat {
		return nil, o, errs.Formatf("read splats", "splat properties must be float")
	}

	splats := make([]Splat, 0, min(h.count, 1<<16))
	rec := make([]byte, o.RecordSize())
	for i := 0; i < h.count; i++ {
		if _, err := io.ReadFull(br, rec); err != nil {
			return nil, o, errs.Formatf("read splats", "truncated at splat %d of %d", i, h.count)
		}
		splats = append(splats, decodeRecord(rec, o))
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, o, errs.Formatf("read splats", "trailing data after %d splats", h.count)
	}
	return splats, o, nil
}

func decodeRecord(rec []byte, o Options) Splat {
	var s Splat
	off := 0
	get := func(dst []float32) {
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(rec[off:]))
			off += 4
		}
	}
	get(s.Position[:])
	if o.Normals {
		get(s.Normal[:])
	}
	get(s.SHDC[:])
	get(s.SHRest[:])
	var op [1]float32
	get(op[:])
	s.Opacity = op[0]
	get(s.Scale[:])
	get(s.Rotation[:])
	return s
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
