package colmap

import (
	"io"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
)

// InvalidPoint3D marks a 2D observation without a triangulated point.
const InvalidPoint3D int64 = -1

// Point2D is a keypoint observation in an image.
type Point2D struct {
	X, Y      float64
	Point3DID int64
}

// Image is one images.txt/images.bin record. Rotation and Translation form
// the world-to-camera transform: x_cam = R·x_world + t.
type Image struct {
	ID          uint32
	Rotation    quat.Number
	Translation r3.Vec
	CameraID    uint32
	Name        string
	Points2D    []Point2D
}

// ImageFromFrame inverts a camera-to-world frame pose into an Image. The
// pose must already be in the COLMAP convention. The rotation is returned
// with a non-negative scalar part and t = -R·C.
func ImageFromFrame(f dataset.Frame) (Image, error) {
	pose, err := geom.NewPose(f.Pose.Position, f.Pose.Rotation)
	if err != nil {
		return Image{}, err
	}
	q := geom.Canonical(geom.Inverse(pose.Rotation))
	return Image{
		ID:          f.ID,
		Rotation:    q,
		Translation: r3.Scale(-1, geom.Rotate(q, pose.Position)),
		CameraID:    f.CameraID,
		Name:        f.Name,
	}, nil
}

// Center returns the camera centre in world coordinates, C = -Rᵀ·t.
func (im Image) Center() r3.Vec {
	return r3.Scale(-1, geom.Rotate(geom.Inverse(im.Rotation), im.Translation))
}

// Pose returns the camera-to-world pose of im.
func (im Image) Pose() (geom.Pose, error) {
	q, err := geom.NormalizeQuat(im.Rotation)
	if err != nil {
		return geom.Pose{}, err
	}
	return geom.NewPose(im.Center(), geom.Inverse(q))
}

// Frame returns im as a dataset frame without depth or timestamp.
func (im Image) Frame() (dataset.Frame, error) {
	p, err := im.Pose()
	if err != nil {
		return dataset.Frame{}, err
	}
	return dataset.Frame{ID: im.ID, Pose: p, CameraID: im.CameraID, Name: im.Name}, nil
}

// imageRecordSize is the binary size of one image record.
func imageRecordSize(im Image) int64 {
	return 4 + 8*4 + 8*3 + 4 + int64(len(im.Name)) + 1 + 8 + 24*int64(len(im.Points2D))
}

// ImagesBinarySize returns the exact size of images.bin for images.
func ImagesBinarySize(images []Image) int64 {
	n := int64(8)
	for _, im := range images {
		n += imageRecordSize(im)
	}
	return n
}

// validateImage rejects records that cannot be encoded in both formats.
func validateImage(op string, im Image) error {
	if im.ID == 0 {
		return errs.Configf(op, "image id must be >= 1")
	}
	if im.Name == "" || strings.ContainsAny(im.Name, " \t\r\n\x00") {
		return errs.Configf(op, "image %d: name %q must be non-empty without whitespace", im.ID, im.Name)
	}
	if !geom.IsFinite(im.Translation) {
		return errs.Conversionf(op, "image %d: non-finite translation", im.ID)
	}
	if _, err := geom.NormalizeQuat(im.Rotation); err != nil {
		return err
	}
	return nil
}

const imagesTextHeader = "# Image list with two lines of data per image:\n" +
	"#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME\n" +
	"#   POINTS2D[] as (X, Y, POINT3D_ID)\n"

func writeImageText(t *textWriter, im Image) {
	t.uint(uint64(im.ID))
	for _, v := range []float64{
		im.Rotation.Real, im.Rotation.Imag, im.Rotation.Jmag, im.Rotation.Kmag,
		im.Translation.X, im.Translation.Y, im.Translation.Z,
	} {
		t.str(" ")
		t.float(v)
	}
	t.str(" ")
	t.uint(uint64(im.CameraID))
	t.str(" " + im.Name + "\n")
	for i, p := range im.Points2D {
		if i > 0 {
			t.str(" ")
		}
		t.float(p.X)
		t.str(" ")
		t.float(p.Y)
		t.str(" ")
		t.int(p.Point3DID)
	}
	t.str("\n")
}

func writeImageBinary(b *binWriter, im Image) {
	b.u32(im.ID)
	b.f64(im.Rotation.Real)
	b.f64(im.Rotation.Imag)
	b.f64(im.Rotation.Jmag)
	b.f64(im.Rotation.Kmag)
	b.f64(im.Translation.X)
	b.f64(im.Translation.Y)
	b.f64(im.Translation.Z)
	b.u32(im.CameraID)
	b.cstring(im.Name)
	b.u64(uint64(len(im.Points2D)))
	for _, p := range im.Points2D {
		b.f64(p.X)
		b.f64(p.Y)
		b.u64(uint64(p.Point3DID))
	}
}

// WriteImagesText writes images.txt.
func WriteImagesText(w io.Writer, images []Image) error {
	return writeImages(w, dataset.Text, images)
}

// WriteImagesBinary writes images.bin.
func WriteImagesBinary(w io.Writer, images []Image) error {
	return writeImages(w, dataset.Binary, images)
}

// WriteImages writes images in format f.
func WriteImages(w io.Writer, f dataset.Format, images []Image) error {
	return writeImages(w, f, images)
}

func writeImages(w io.Writer, f dataset.Format, images []Image) error {
	s, err := NewStreamWriter(w, f, len(images))
	if err != nil {
		return err
	}
	for _, im := range images {
		if err := s.Append(im); err != nil {
			return err
		}
	}
	return s.Close()
}

// ReadImagesText parses images.txt.
func ReadImagesText(r io.Reader) ([]Image, error) {
	l := newLineScanner(r, "read images.txt")
	var images []Image
	for {
		line, ok := l.nextRecord()
		if !ok {
			break
		}
		p := l.fields(line)
		if len(p.fields) != 10 {
			return nil, l.errf("want 10 fields, got %d", len(p.fields))
		}
		im := Image{
			ID:          uint32(p.uint(0, 32)),
			Rotation:    quat.Number{Real: p.float(1), Imag: p.float(2), Jmag: p.float(3), Kmag: p.float(4)},
			Translation: r3.Vec{X: p.float(5), Y: p.float(6), Z: p.float(7)},
			CameraID:    uint32(p.uint(8, 32)),
			Name:        p.fields[9],
		}
		if p.err != nil {
			return nil, p.err
		}
		// The observation line always follows, even when empty.
		if obs, ok := l.next(); ok {
			q := l.fields(obs)
			if len(q.fields)%3 != 0 {
				return nil, l.errf("image %d: observations are not (X, Y, POINT3D_ID) triples", im.ID)
			}
			for i := 0; i < len(q.fields); i += 3 {
				im.Points2D = append(im.Points2D, Point2D{X: q.float(i), Y: q.float(i + 1), Point3DID: q.int(i+2, 64)})
			}
			if q.err != nil {
				return nil, q.err
			}
		}
		images = append(images, im)
	}
	return images, l.close()
}

// ReadImagesBinary parses images.bin.
func ReadImagesBinary(r io.Reader) ([]Image, error) {
	b := newBinReader(r, "read images.bin")
	n := b.u64()
	images := make([]Image, 0, prealloc(n))
	for i := uint64(0); i < n && b.err == nil; i++ {
		var im Image
		im.ID = b.u32()
		im.Rotation = quat.Number{Real: b.f64(), Imag: b.f64(), Jmag: b.f64(), Kmag: b.f64()}
		im.Translation = r3.Vec{X: b.f64(), Y: b.f64(), Z: b.f64()}
		im.CameraID = b.u32()
		im.Name = b.cstring()
		obs := b.u64()
		if b.err != nil {
			break
		}
		if obs > 0 {
			im.Points2D = make([]Point2D, 0, prealloc(obs))
		}
		for j := uint64(0); j < obs && b.err == nil; j++ {
			im.Points2D = append(im.Points2D, Point2D{X: b.f64(), Y: b.f64(), Point3DID: int64(b.u64())})
		}
		images = append(images, im)
	}
	b.expectEOF()
	if b.err != nil {
		return nil, b.err
	}
	return images, nil
}

// ReadImages parses images in format f.
func ReadImages(r io.Reader, f dataset.Format) ([]Image, error) {
	if f == dataset.Binary {
		return ReadImagesBinary(r)
	}
	return ReadImagesText(r)
}
