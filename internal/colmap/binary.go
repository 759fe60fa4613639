package colmap

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/banshee-data/splatcapture/internal/errs"
)

// maxPrealloc bounds slice capacity taken from an untrusted count.
const maxPrealloc = 1 << 16

// binWriter writes little-endian values and keeps the first error.
type binWriter struct {
	w   io.Writer
	buf [8]byte
	n   int64
	err error
}

func (b *binWriter) write(p []byte) {
	if b.err != nil {
		return
	}
	n, err := b.w.Write(p)
	b.n += int64(n)
	b.err = err
}

func (b *binWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(b.buf[:4], v)
	b.write(b.buf[:4])
}

func (b *binWriter) i32(v int32) { b.u32(uint32(v)) }

func (b *binWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(b.buf[:8], v)
	b.write(b.buf[:8])
}

func (b *binWriter) f64(v float64) { b.u64(math.Float64bits(v)) }

func (b *binWriter) u8(v uint8) {
	b.buf[0] = v
	b.write(b.buf[:1])
}

// cstring writes s followed by a NUL byte.
func (b *binWriter) cstring(s string) {
	b.write([]byte(s))
	b.u8(0)
}

// binReader reads little-endian values and keeps the first error. A short
// read is reported as a format error.
type binReader struct {
	r   *bufio.Reader
	op  string
	buf [8]byte
	err error
}

func newBinReader(r io.Reader, op string) *binReader {
	return &binReader{r: bufio.NewReader(r), op: op}
}

func (b *binReader) read(n int) []byte {
	if b.err != nil {
		return b.buf[:n]
	}
	if _, err := io.ReadFull(b.r, b.buf[:n]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			b.err = errs.Formatf(b.op, "truncated record")
		} else {
			b.err = errs.IO(b.op, err)
		}
	}
	return b.buf[:n]
}

func (b *binReader) u32() uint32  { return binary.LittleEndian.Uint32(b.read(4)) }
func (b *binReader) i32() int32   { return int32(b.u32()) }
func (b *binReader) u64() uint64  { return binary.LittleEndian.Uint64(b.read(8)) }
func (b *binReader) f64() float64 { return math.Float64frombits(b.u64()) }
func (b *binReader) u8() uint8    { return b.read(1)[0] }

func (b *binReader) cstring() string {
	if b.err != nil {
		return ""
	}
	s, err := b.r.ReadString(0)
	if err != nil {
		b.err = errs.Formatf(b.op, "unterminated name")
		return ""
	}
	return s[:len(s)-1]
}

// expectEOF fails when bytes remain after the declared records.
func (b *binReader) expectEOF() {
	if b.err != nil {
		return
	}
	if _, err := b.r.ReadByte(); err != io.EOF {
		b.err = errs.Formatf(b.op, "trailing data after declared records")
	}
}

func prealloc(n uint64) int {
	if n > maxPrealloc {
		return maxPrealloc
	}
	return int(n)
}
