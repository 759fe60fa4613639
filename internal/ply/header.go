package ply

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/banshee-data/splatcapture/internal/errs"
)

// maxHeaderLines bounds header parsing on garbage input.
const maxHeaderLines = 512

type header struct {
	count    int
	props    []string
	types    []string
	allFloat bool
}

// readHeader consumes a binary little-endian PLY header with a single
// vertex element. Comment and obj_info lines are skipped.
func readHeader(br *bufio.Reader, op string) (header, error) {
	h := header{count: -1, allFloat: true}
	line := func() (string, error) {
		s, err := br.ReadString('\n')
		if err != nil {
			return "", errs.Formatf(op, "truncated header")
		}
		return strings.TrimRight(s, "\r\n"), nil
	}

	magic, err := line()
	if err != nil {
		return h, err
	}
	if magic != "ply" {
		return h, errs.Formatf(op, "not a PLY file")
	}
	for n := 0; ; n++ {
		if n > maxHeaderLines {
			return h, errs.Formatf(op, "header exceeds %d lines", maxHeaderLines)
		}
		l, err := line()
		if err != nil {
			return h, err
		}
		fields := strings.Fields(l)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "end_header":
			if h.count < 0 {
				return h, errs.Formatf(op, "missing vertex element")
			}
			return h, nil
		case "comment", "obj_info":
		case "format":
			if len(fields) != 3 || fields[1] != "binary_little_endian" || fields[2] != "1.0" {
				return h, errs.Formatf(op, "unsupported format %q", l)
			}
		case "element":
			if len(fields) != 3 || fields[1] != "vertex" || h.count >= 0 {
				return h, errs.Formatf(op, "unsupported element %q", l)
			}
			c, err := strconv.Atoi(fields[2])
			if err != nil || c < 0 {
				return h, errs.Formatf(op, "bad vertex count %q", fields[2])
			}
			h.count = c
		case "property":
			if len(fields) != 3 || h.count < 0 {
				return h, errs.Formatf(op, "unsupported property %q", l)
			}
			h.types = append(h.types, fields[1])
			h.props = append(h.props, fields[2])
			if fields[1] != "float" {
				h.allFloat = false
			}
		default:
			return h, errs.Formatf(op, "unexpected header line %q", l)
		}
	}
}
