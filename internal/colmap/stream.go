package colmap

import (
	"io"

	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/errs"
)

// StreamWriter appends image records one at a time. The image count is
// declared up front because both encodings put it before the records, so
// Close fails with a format error when a different number was appended.
// Records must arrive in strictly increasing id order.
type StreamWriter struct {
	format   dataset.Format
	declared int
	n        int
	lastID   uint32
	bin      *binWriter
	text     *textWriter
	closed   bool
}

// NewStreamWriter writes the header for count images and returns a writer
// for the records. It does not close w.
func NewStreamWriter(w io.Writer, f dataset.Format, count int) (*StreamWriter, error) {
	if count < 0 {
		return nil, errs.Configf("images", "negative image count %d", count)
	}
	s := &StreamWriter{format: f, declared: count}
	if f == dataset.Binary {
		s.bin = &binWriter{w: w}
		s.bin.u64(uint64(count))
		return s, errs.IO("write images.bin", s.bin.err)
	}
	s.text = newTextWriter(w)
	s.text.str(imagesTextHeader)
	s.text.str("# Number of images: ")
	s.text.uint(uint64(count))
	s.text.str(", mean observations per image: 0\n")
	return s, errs.IO("write images.txt", s.text.err)
}

func (s *StreamWriter) op() string { return "write images" + s.format.Ext() }

// Append writes one record.
func (s *StreamWriter) Append(im Image) error {
	if s.closed {
		return errs.Formatf(s.op(), "append after close")
	}
	if err := validateImage(s.op(), im); err != nil {
		return err
	}
	if s.n > 0 && im.ID <= s.lastID {
		return errs.Formatf(s.op(), "image %d appended after image %d", im.ID, s.lastID)
	}
	if s.n == s.declared {
		return errs.Formatf(s.op(), "more than the declared %d images", s.declared)
	}
	if s.bin != nil {
		writeImageBinary(s.bin, im)
		if s.bin.err != nil {
			return errs.IO(s.op(), s.bin.err)
		}
	} else {
		writeImageText(s.text, im)
		if s.text.err != nil {
			return errs.IO(s.op(), s.text.err)
		}
	}
	s.n++
	s.lastID = im.ID
	return nil
}

// Count returns the number of records appended so far.
func (s *StreamWriter) Count() int { return s.n }

// Close flushes buffered text and checks the appended count.
func (s *StreamWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.text != nil {
		if err := s.text.flush(); err != nil {
			return errs.IO(s.op(), err)
		}
	}
	if s.n != s.declared {
		return errs.Formatf(s.op(), "declared %d images, wrote %d", s.declared, s.n)
	}
	return nil
}
