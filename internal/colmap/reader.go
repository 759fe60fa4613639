package colmap

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
)

// MinRecommendedImages is the image count below which a dataset is flagged.
const MinRecommendedImages = 50

// DetectFormat reports which encoding the dataset under root uses, preferring
// binary when both are present.
func DetectFormat(fsys fsutil.FileSystem, root string) (dataset.Format, error) {
	for _, f := range []dataset.Format{dataset.Binary, dataset.Text} {
		if fsys.Exists(dataset.Layout{Root: root, Format: f}.CamerasPath()) {
			return f, nil
		}
	}
	return 0, errs.Formatf("read dataset", "no cameras file under %s", root)
}

func readFile(fsys fsutil.FileSystem, path string) (*bytes.Reader, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errs.IO("read "+path, err)
	}
	return bytes.NewReader(data), nil
}

// ReadDataset loads the sparse model under root. Frames carry the COLMAP
// convention, no timestamps and no depth. A missing points3D file reads as
// no points.
func ReadDataset(fsys fsutil.FileSystem, root string) (*dataset.Dataset, dataset.Format, error) {
	f, err := DetectFormat(fsys, root)
	if err != nil {
		return nil, 0, err
	}
	l := dataset.Layout{Root: root, Format: f}

	r, err := readFile(fsys, l.CamerasPath())
	if err != nil {
		return nil, f, err
	}
	cams, err := ReadCameras(r, f)
	if err != nil {
		return nil, f, err
	}

	r, err = readFile(fsys, l.ImagesPath())
	if err != nil {
		return nil, f, err
	}
	images, err := ReadImages(r, f)
	if err != nil {
		return nil, f, err
	}
	ds := &dataset.Dataset{Convention: convention.COLMAP, Cameras: cams}
	for _, im := range images {
		fr, err := im.Frame()
		if err != nil {
			return nil, f, fmt.Errorf("image %d: %w", im.ID, err)
		}
		ds.Frames = append(ds.Frames, fr)
	}

	if fsys.Exists(l.Points3DPath()) {
		r, err = readFile(fsys, l.Points3DPath())
		if err != nil {
			return nil, f, err
		}
		if ds.Points, err = ReadPoints3D(r, f); err != nil {
			return nil, f, err
		}
	}
	return ds, f, nil
}

// ValidateDataset checks that root holds a usable dataset. It returns false
// when the camera or image file is missing or unreadable, or when an image
// references an unknown camera. Warnings describe every problem found,
// including advisory ones that leave the dataset valid.
func ValidateDataset(fsys fsutil.FileSystem, root string) (bool, []string) {
	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	hasFile := func(name string) bool {
		for _, f := range []dataset.Format{dataset.Text, dataset.Binary} {
			l := dataset.Layout{Root: root, Format: f}
			path := l.CamerasPath()
			if name == "images" {
				path = l.ImagesPath()
			}
			if fsys.Exists(path) {
				return true
			}
		}
		return false
	}
	valid := true
	if !hasFile("cameras") {
		warn("Missing cameras file (cameras.txt or cameras.bin)")
		valid = false
	}
	if !hasFile("images") {
		warn("Missing images file (images.txt or images.bin)")
		valid = false
	}
	l := dataset.Layout{Root: root}
	if !fsys.Exists(l.ImagesDir()) {
		warn("Images directory does not exist")
	}
	if !valid {
		return false, warnings
	}

	ds, _, err := ReadDataset(fsys, root)
	if err != nil {
		warn("Unreadable sparse model: %v", err)
		return false, warnings
	}
	known := make(map[uint32]camera.Model, len(ds.Cameras))
	for _, c := range ds.Cameras {
		known[c.ID] = c
	}
	missing := 0
	for _, fr := range ds.Frames {
		if _, ok := known[fr.CameraID]; !ok {
			warn("Image %d references unknown camera %d", fr.ID, fr.CameraID)
			valid = false
		}
		if !fsys.Exists(filepath.Join(l.ImagesDir(), fr.Name)) {
			missing++
		}
	}
	if missing > 0 {
		warn("%d of %d image files not found in images directory", missing, len(ds.Frames))
	}
	switch n := len(ds.Frames); {
	case n == 0:
		warn("No images listed in the sparse model")
	case n < MinRecommendedImages:
		warn("Low image count (%d). 100+ recommended for quality training.", n)
	}
	for _, c := range ds.Cameras {
		for _, w := range camera.Validate3DGS(c) {
			warn("Camera %d: %s", c.ID, w)
		}
	}
	return valid, warnings
}
