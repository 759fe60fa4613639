package capture

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 95

// WriteImage encodes img at path, choosing JPEG or PNG from the extension.
// The file is written through a partial file and only appears when complete.
func WriteImage(fsys fsutil.FileSystem, path string, img image.Image, quality int) (int64, error) {
	var encode func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		if quality < 1 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		encode = func(w io.Writer) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: quality}) }
	case ".png":
		encode = func(w io.Writer) error { return png.Encode(w, img) }
	default:
		return 0, errs.Configf("capture", "unsupported image extension %q", filepath.Ext(path))
	}

	p, err := fsutil.CreatePartial(fsys, path)
	if err != nil {
		return 0, errs.IO("create "+path, err)
	}
	if err := encode(p); err != nil {
		p.Abort()
		return 0, errs.IO("encode "+path, err)
	}
	n := p.Written()
	if err := p.Commit(); err != nil {
		return 0, errs.IO("commit "+path, err)
	}
	return n, nil
}
