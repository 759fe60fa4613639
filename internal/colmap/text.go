package colmap

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/splatcapture/internal/errs"
)

// formatFloat prints v with 17 significant digits, enough to reproduce the
// float64 exactly.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// textWriter accumulates a line-oriented file and keeps the first error.
type textWriter struct {
	w   *bufio.Writer
	err error
}

func newTextWriter(w io.Writer) *textWriter {
	return &textWriter{w: bufio.NewWriter(w)}
}

func (t *textWriter) str(s string) {
	if t.err == nil {
		_, t.err = t.w.WriteString(s)
	}
}

func (t *textWriter) float(v float64) { t.str(formatFloat(v)) }

func (t *textWriter) uint(v uint64) { t.str(strconv.FormatUint(v, 10)) }

func (t *textWriter) int(v int64) { t.str(strconv.FormatInt(v, 10)) }

func (t *textWriter) flush() error {
	if t.err == nil {
		t.err = t.w.Flush()
	}
	return t.err
}

// lineScanner yields lines with their 1-based number.
type lineScanner struct {
	s    *bufio.Scanner
	op   string
	line int
}

func newLineScanner(r io.Reader, op string) *lineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &lineScanner{s: s, op: op}
}

// next returns the next line, or false at EOF.
func (l *lineScanner) next() (string, bool) {
	if !l.s.Scan() {
		return "", false
	}
	l.line++
	return strings.TrimRight(l.s.Text(), "\r"), true
}

// nextRecord skips comments and blank lines.
func (l *lineScanner) nextRecord() (string, bool) {
	for {
		s, ok := l.next()
		if !ok {
			return "", false
		}
		if t := strings.TrimSpace(s); t != "" && !strings.HasPrefix(t, "#") {
			return s, true
		}
	}
}

func (l *lineScanner) errf(format string, args ...interface{}) error {
	return errs.Formatf(l.op, "line %d: "+format, append([]interface{}{l.line}, args...)...)
}

func (l *lineScanner) close() error {
	if err := l.s.Err(); err != nil {
		return errs.IO(l.op, err)
	}
	return nil
}

// fieldParser parses whitespace-separated fields of one line and keeps the
// first error.
type fieldParser struct {
	l      *lineScanner
	fields []string
	err    error
}

func (l *lineScanner) fields(s string) *fieldParser {
	return &fieldParser{l: l, fields: strings.Fields(s)}
}

func (p *fieldParser) float(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.fields[i], 64)
	if err != nil {
		p.err = p.l.errf("field %d: %v", i+1, err)
	}
	return v
}

func (p *fieldParser) uint(i, bits int) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(p.fields[i], 10, bits)
	if err != nil {
		p.err = p.l.errf("field %d: %v", i+1, err)
	}
	return v
}

func (p *fieldParser) int(i, bits int) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.fields[i], 10, bits)
	if err != nil {
		p.err = p.l.errf("field %d: %v", i+1, err)
	}
	return v
}
