package colmap

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
	"github.com/banshee-data/splatcapture/internal/testutil"
)

var approx = cmpopts.EquateApprox(0, 1e-6)

// syntheticModel returns n cameras cycling through every model kind and n
// images with random poses, one per camera.
func syntheticModel(t *testing.T, rng *rand.Rand, n int) ([]camera.Model, []Image) {
	t.Helper()
	cams := make([]camera.Model, n)
	images := make([]Image, n)
	for i := 0; i < n; i++ {
		kind := camera.Kinds[i%len(camera.Kinds)]
		params := make([]float64, kind.NumParams())
		for j := range params {
			params[j] = 100 + rng.Float64()*900
			if j >= 4 {
				params[j] = rng.NormFloat64() * 0.05
			}
		}
		m, err := camera.NewModel(uint32(i+1), kind, 640+i, 480+i, params)
		require.NoError(t, err)
		cams[i] = m

		im, err := ImageFromFrame(dataset.Frame{
			ID:       uint32(i + 1),
			Pose:     testutil.RandomPose(rng, 100),
			CameraID: m.ID,
			Name:     dataset.ImageName(dataset.DefaultImagePrefix, i, dataset.DefaultImageExtension),
		})
		require.NoError(t, err)
		images[i] = im
	}
	return cams, images
}

func TestTextBinaryEquivalence(t *testing.T) {
	cams, images := syntheticModel(t, testutil.NewRand(50), 50)

	var camTxt, camBin, imTxt, imBin bytes.Buffer
	require.NoError(t, WriteCamerasText(&camTxt, cams))
	require.NoError(t, WriteCamerasBinary(&camBin, cams))
	require.NoError(t, WriteImagesText(&imTxt, images))
	require.NoError(t, WriteImagesBinary(&imBin, images))
	assert.EqualValues(t, CamerasBinarySize(cams), camBin.Len())
	assert.EqualValues(t, ImagesBinarySize(images), imBin.Len())

	camsFromText, err := ReadCamerasText(&camTxt)
	require.NoError(t, err)
	camsFromBin, err := ReadCamerasBinary(&camBin)
	require.NoError(t, err)
	imagesFromText, err := ReadImagesText(&imTxt)
	require.NoError(t, err)
	imagesFromBin, err := ReadImagesBinary(&imBin)
	require.NoError(t, err)

	if diff := cmp.Diff(camsFromBin, camsFromText, approx); diff != "" {
		t.Errorf("cameras text vs binary mismatch (-bin +text):\n%s", diff)
	}
	if diff := cmp.Diff(cams, camsFromBin, approx); diff != "" {
		t.Errorf("cameras round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(imagesFromBin, imagesFromText, approx); diff != "" {
		t.Errorf("images text vs binary mismatch (-bin +text):\n%s", diff)
	}
	if diff := cmp.Diff(images, imagesFromBin, approx); diff != "" {
		t.Errorf("images round trip mismatch (-want +got):\n%s", diff)
	}

	// 17 significant digits reproduce every float64 exactly.
	assert.Equal(t, camsFromBin, camsFromText)
	assert.Equal(t, imagesFromBin, imagesFromText)
}

func TestImageFromFrame(t *testing.T) {
	c := r3.Vec{X: 1, Y: 2, Z: 3}
	// 90 degrees about y, stored with a negative scalar part.
	rot := quat.Number{Real: -math.Sqrt2 / 2, Jmag: -math.Sqrt2 / 2}
	pose := geom.Pose{Position: c, Rotation: rot}

	im, err := ImageFromFrame(dataset.Frame{ID: 4, Pose: pose, CameraID: 2, Name: "a.jpg"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, im.ID)
	assert.EqualValues(t, 2, im.CameraID)
	assert.GreaterOrEqual(t, im.Rotation.Real, 0.0)
	testutil.AssertUnitQuat(t, im.Rotation)

	// The camera centre maps to the camera origin, and a point five units
	// along the optical axis maps to (0, 0, 5).
	toCam := func(x r3.Vec) r3.Vec { return r3.Add(geom.Rotate(im.Rotation, x), im.Translation) }
	testutil.AssertVecNear(t, r3.Vec{}, toCam(c), 1e-12)
	ahead := r3.Add(c, geom.Rotate(rot, r3.Vec{Z: 5}))
	testutil.AssertVecNear(t, r3.Vec{Z: 5}, toCam(ahead), 1e-12)

	testutil.AssertVecNear(t, c, im.Center(), 1e-12)
	back, err := im.Pose()
	require.NoError(t, err)
	testutil.AssertPoseNear(t, pose, back, 1e-12, 1e-12)

	_, err = ImageFromFrame(dataset.Frame{ID: 1, Pose: geom.Pose{Position: c}, Name: "a.jpg"})
	assert.ErrorIs(t, err, errs.ErrConversion)
}

func TestCamerasBinaryLayout(t *testing.T) {
	m, err := camera.NewModel(1, camera.Pinhole, 640, 480, []float64{500, 501, 320, 240})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteCamerasBinary(&buf, []camera.Model{m}))

	b := buf.Bytes()
	require.Len(t, b, 64)
	le := binary.LittleEndian
	assert.EqualValues(t, 1, le.Uint64(b[0:]))
	assert.EqualValues(t, 1, le.Uint32(b[8:]))
	assert.EqualValues(t, camera.Pinhole, int32(le.Uint32(b[12:])))
	assert.EqualValues(t, 640, le.Uint64(b[16:]))
	assert.EqualValues(t, 480, le.Uint64(b[24:]))
	for i, want := range m.Params {
		assert.Equal(t, want, math.Float64frombits(le.Uint64(b[32+8*i:])))
	}
}

func TestImagesBinaryLayout(t *testing.T) {
	im := Image{ID: 7, Rotation: geom.Identity, Translation: r3.Vec{X: 1, Y: 2, Z: 3}, CameraID: 9, Name: "a.jpg"}
	var buf bytes.Buffer
	require.NoError(t, WriteImagesBinary(&buf, []Image{im}))

	b := buf.Bytes()
	require.Len(t, b, 86)
	le := binary.LittleEndian
	assert.EqualValues(t, 1, le.Uint64(b[0:]))
	assert.EqualValues(t, 7, le.Uint32(b[8:]))
	assert.Equal(t, 1.0, math.Float64frombits(le.Uint64(b[12:])))
	assert.Equal(t, 3.0, math.Float64frombits(le.Uint64(b[60:])))
	assert.EqualValues(t, 9, le.Uint32(b[68:]))
	assert.Equal(t, "a.jpg\x00", string(b[72:78]))
	assert.Zero(t, le.Uint64(b[78:]))
}

func TestImagesWithObservations(t *testing.T) {
	images := []Image{
		{ID: 1, Rotation: geom.Identity, CameraID: 1, Name: "a.png", Points2D: []Point2D{
			{X: 1.5, Y: 2.25, Point3DID: InvalidPoint3D},
			{X: 100, Y: 200, Point3DID: 12},
		}},
		{ID: 3, Rotation: geom.Identity, CameraID: 1, Name: "b.png"},
	}
	for _, f := range []dataset.Format{dataset.Text, dataset.Binary} {
		t.Run(f.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteImages(&buf, f, images))
			got, err := ReadImages(&buf, f)
			require.NoError(t, err)
			assert.Equal(t, images, got)
		})
	}
}

func TestPoints3DRoundTrip(t *testing.T) {
	pts := []dataset.Point3D{
		{ID: 1, Position: r3.Vec{X: 0.1, Y: -2, Z: 3e5}, Color: [3]uint8{255, 0, 17}, Error: 0.25,
			Track: []dataset.TrackElement{{ImageID: 1, Point2DIdx: 0}, {ImageID: 4, Point2DIdx: 12}}},
		{ID: 99, Position: r3.Vec{Z: 1}},
	}
	for _, f := range []dataset.Format{dataset.Text, dataset.Binary} {
		t.Run(f.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WritePoints3D(&buf, f, pts))
			if f == dataset.Binary {
				assert.EqualValues(t, Points3DBinarySize(pts), buf.Len())
			}
			got, err := ReadPoints3D(&buf, f)
			require.NoError(t, err)
			assert.Equal(t, pts, got)
		})
	}

	var buf bytes.Buffer
	err := WritePoints3DBinary(&buf, []dataset.Point3D{{ID: 1, Position: r3.Vec{X: math.NaN()}}})
	assert.ErrorIs(t, err, errs.ErrConversion)
}

func TestStreamWriter(t *testing.T) {
	img := func(id uint32) Image {
		return Image{ID: id, Rotation: geom.Identity, CameraID: 1, Name: dataset.ImageName("f", int(id), ".png")}
	}
	for _, f := range []dataset.Format{dataset.Text, dataset.Binary} {
		t.Run(f.String()+" short", func(t *testing.T) {
			s, err := NewStreamWriter(&bytes.Buffer{}, f, 3)
			require.NoError(t, err)
			require.NoError(t, s.Append(img(1)))
			require.NoError(t, s.Append(img(2)))
			assert.Equal(t, 2, s.Count())
			assert.ErrorIs(t, s.Close(), errs.ErrFormat)
		})
		t.Run(f.String()+" order", func(t *testing.T) {
			s, err := NewStreamWriter(&bytes.Buffer{}, f, 3)
			require.NoError(t, err)
			require.NoError(t, s.Append(img(2)))
			assert.ErrorIs(t, s.Append(img(2)), errs.ErrFormat)
			assert.ErrorIs(t, s.Append(img(1)), errs.ErrFormat)
		})
		t.Run(f.String()+" overflow", func(t *testing.T) {
			s, err := NewStreamWriter(&bytes.Buffer{}, f, 1)
			require.NoError(t, err)
			require.NoError(t, s.Append(img(1)))
			assert.ErrorIs(t, s.Append(img(2)), errs.ErrFormat)
			require.NoError(t, s.Close())
			assert.ErrorIs(t, s.Append(img(3)), errs.ErrFormat)
		})
	}

	s, err := NewStreamWriter(&bytes.Buffer{}, dataset.Text, 1)
	require.NoError(t, err)
	bad := img(1)
	bad.Name = "has space.png"
	assert.ErrorIs(t, s.Append(bad), errs.ErrConfiguration)

	_, err = NewStreamWriter(&bytes.Buffer{}, dataset.Binary, -1)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestReadTextErrors(t *testing.T) {
	tests := []struct {
		name string
		read func(string) error
		in   string
	}{
		{"camera param count", camerasText, "1 PINHOLE 640 480 1 2 3\n"},
		{"camera model", camerasText, "1 FISHEYE 640 480 1 2 3\n"},
		{"camera width", camerasText, "1 SIMPLE_PINHOLE wide 480 1 2 3\n"},
		{"camera invalid", camerasText, "0 SIMPLE_PINHOLE 640 480 1 2 3\n"},
		{"image fields", imagesText, "1 1 0 0 0 0 0 0 1\n\n"},
		{"image number", imagesText, "1 one 0 0 0 0 0 0 1 a.png\n\n"},
		{"image observations", imagesText, "1 1 0 0 0 0 0 0 1 a.png\n1 2\n"},
		{"point fields", pointsText, "1 0 0 0 1 2 3\n"},
		{"point track", pointsText, "1 0 0 0 1 2 3 0.5 1\n"},
		{"point colour", pointsText, "1 0 0 0 1 2 300 0.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.read(tt.in), errs.ErrFormat)
		})
	}
}

func camerasText(s string) error { _, err := ReadCamerasText(strings.NewReader(s)); return err }
func imagesText(s string) error  { _, err := ReadImagesText(strings.NewReader(s)); return err }
func pointsText(s string) error  { _, err := ReadPoints3DText(strings.NewReader(s)); return err }

func TestReadTextSkipsComments(t *testing.T) {
	in := "# comment\n\n1 SIMPLE_PINHOLE 640 480 500 320 240\r\n# another\n"
	cams, err := ReadCamerasText(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, cams, 1)
	assert.Equal(t, []float64{500, 320, 240}, cams[0].Params)
}

func TestReadBinaryErrors(t *testing.T) {
	cams, images := syntheticModel(t, testutil.NewRand(3), 4)
	var camBin, imBin bytes.Buffer
	require.NoError(t, WriteCamerasBinary(&camBin, cams))
	require.NoError(t, WriteImagesBinary(&imBin, images))

	truncated := camBin.Bytes()[:camBin.Len()-1]
	_, err := ReadCamerasBinary(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, errs.ErrFormat)

	trailing := append(append([]byte(nil), camBin.Bytes()...), 0)
	_, err = ReadCamerasBinary(bytes.NewReader(trailing))
	assert.ErrorIs(t, err, errs.ErrFormat)

	badModel := append([]byte(nil), camBin.Bytes()...)
	binary.LittleEndian.PutUint32(badModel[12:], 5)
	_, err = ReadCamerasBinary(bytes.NewReader(badModel))
	assert.ErrorIs(t, err, errs.ErrFormat)

	_, err = ReadImagesBinary(bytes.NewReader(imBin.Bytes()[:imBin.Len()-3]))
	assert.ErrorIs(t, err, errs.ErrFormat)

	_, err = ReadPoints3DBinary(bytes.NewReader([]byte{1, 0, 0, 0, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, errs.ErrFormat)

	// A huge declared count fails on the data, not on allocation.
	huge := make([]byte, 8)
	binary.LittleEndian.PutUint64(huge, math.MaxUint64)
	_, err = ReadImagesBinary(bytes.NewReader(huge))
	assert.ErrorIs(t, err, errs.ErrFormat)
}

func TestWriteCamerasRejectsDuplicates(t *testing.T) {
	m, err := camera.FromFOV(1, 1920, 1080, 90)
	require.NoError(t, err)
	err = WriteCameras(&bytes.Buffer{}, dataset.Binary, []camera.Model{m, m})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}
