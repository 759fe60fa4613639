package fsutil

import (
	"bufio"
	"io"
)

// PartialSuffix marks files that are still being written.
const PartialSuffix = ".partial"

// PartialFile writes to path+PartialSuffix and only moves the result to
// path on Commit. Abort, or any failed write, leaves nothing at path and
// removes the partial file.
type PartialFile struct {
	fs   FileSystem
	path string
	f    io.WriteCloser
	w    *bufio.Writer
	n    int64
	err  error
	done bool
}

// CreatePartial starts a partial write of path.
func CreatePartial(fsys FileSystem, path string) (*PartialFile, error) {
	f, err := fsys.Create(path + PartialSuffix)
	if err != nil {
		return nil, err
	}
	return &PartialFile{fs: fsys, path: path, f: f, w: bufio.NewWriterSize(f, 1<<16)}, nil
}

// Path is the final destination.
func (p *PartialFile) Path() string { return p.path }

// Written is the number of bytes accepted so far.
func (p *PartialFile) Written() int64 { return p.n }

// Write buffers data. The first error is sticky.
func (p *PartialFile) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.w.Write(b)
	p.n += int64(n)
	if err != nil {
		p.err = err
	}
	return n, err
}

// Commit flushes, closes and renames the file into place. On failure the
// partial file is removed.
func (p *PartialFile) Commit() error {
	if p.done {
		return p.err
	}
	p.done = true
	if p.err == nil {
		p.err = p.w.Flush()
	}
	if cerr := p.f.Close(); p.err == nil {
		p.err = cerr
	}
	if p.err == nil {
		p.err = p.fs.Rename(p.path+PartialSuffix, p.path)
	}
	if p.err != nil {
		_ = p.fs.Remove(p.path + PartialSuffix)
	}
	return p.err
}

// Abort discards the partial file. It is a no-op after Commit.
func (p *PartialFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	_ = p.f.Close()
	_ = p.fs.Remove(p.path + PartialSuffix)
}
