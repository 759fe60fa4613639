package ply

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
	"github.com/banshee-data/splatcapture/internal/testutil"
)

func randomSplats(n int) []Splat {
	rng := testutil.NewRand(int64(n))
	out := make([]Splat, n)
	for i := range out {
		s := &out[i]
		for j := 0; j < 3; j++ {
			s.Position[j] = float32(rng.NormFloat64() * 5)
			s.Normal[j] = float32(rng.NormFloat64())
			s.SHDC[j] = float32(rng.NormFloat64())
			s.Scale[j] = float32(-3 - rng.Float64())
		}
		for j := range s.SHRest {
			s.SHRest[j] = float32(rng.NormFloat64() * 0.1)
		}
		s.Opacity = float32(rng.NormFloat64())
		q := testutil.RandomQuat(rng)
		s.Rotation = [4]float32{float32(q.Real), float32(q.Imag), float32(q.Jmag), float32(q.Kmag)}
	}
	return out
}

func TestRecordSize(t *testing.T) {
	assert.Equal(t, 236, Options{}.RecordSize())
	assert.Equal(t, 248, Options{Normals: true}.RecordSize())
	assert.Equal(t, 59, len(Options{}.Properties()))
}

func TestHeaderLayout(t *testing.T) {
	h := string(Header(3, Options{}))
	assert.True(t, strings.HasPrefix(h, "ply\nformat binary_little_endian 1.0\nelement vertex 3\nproperty float x\n"))
	assert.True(t, strings.HasSuffix(h, "property float rot_3\nend_header\n"))
	assert.NotContains(t, h, "nx")
	assert.Less(t, strings.Index(h, "f_dc_2"), strings.Index(h, "f_rest_0"))
	assert.Less(t, strings.Index(h, "f_rest_44"), strings.Index(h, "opacity"))
	assert.Contains(t, string(Header(3, Options{Normals: true})), "property float z\nproperty float nx\n")
}

func TestWriteSplatsSizeSelfCheck(t *testing.T) {
	const k = 10000
	splats := randomSplats(k)
	for _, tc := range []struct {
		name   string
		opts   Options
		header int64
		record int64
	}{
		{"plain", Options{}, 1476, 236},
		{"normals", Options{Normals: true}, 1530, 248},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := fsutil.NewMemoryFileSystem()
			n, err := WriteSplats(context.Background(), m, "out/splats.ply", splats, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.header+k*tc.record, n)
			assert.Equal(t, FileSize(k, tc.opts), n)
			assert.Equal(t, []string{"out/splats.ply"}, m.Files())

			data, err := m.ReadFile("out/splats.ply")
			require.NoError(t, err)
			assert.EqualValues(t, n, len(data))

			got, opts, err := ReadSplats(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tc.opts, opts)
			want := splats
			if !tc.opts.Normals {
				want = make([]Splat, k)
				copy(want, splats)
				for i := range want {
					want[i].Normal = [3]float32{}
				}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("splats mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRotationIsScalarFirst(t *testing.T) {
	s := Splat{Rotation: [4]float32{0.5, 0.1, 0.2, 0.3}}
	var buf bytes.Buffer
	require.NoError(t, Encode(context.Background(), &buf, []Splat{s}, Options{}))
	rec := buf.Bytes()[len(Header(1, Options{})):]
	require.Len(t, rec, 236)
	rot0 := math.Float32frombits(uint32(rec[220]) | uint32(rec[221])<<8 | uint32(rec[222])<<16 | uint32(rec[223])<<24)
	assert.Equal(t, float32(0.5), rot0)
}

// truncatingFS drops the last byte of every file it renames into place.
type truncatingFS struct {
	*fsutil.MemoryFileSystem
}

func (f truncatingFS) Rename(oldpath, newpath string) error {
	data, err := f.ReadFile(oldpath)
	if err != nil {
		return err
	}
	if err := f.WriteFile(newpath, data[:len(data)-1], 0644); err != nil {
		return err
	}
	return f.Remove(oldpath)
}

func TestWriteSplatsRemovesShortFile(t *testing.T) {
	m := fsutil.NewMemoryFileSystem()
	_, err := WriteSplats(context.Background(), truncatingFS{m}, "splats.ply", randomSplats(10), Options{})
	assert.ErrorIs(t, err, errs.ErrFormat)
	assert.Empty(t, m.Files())
}

func TestWriteSplatsErrors(t *testing.T) {
	m := fsutil.NewMemoryFileSystem()
	_, err := WriteSplats(context.Background(), m, "splats.ply", nil, Options{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WriteSplats(ctx, m, "splats.ply", randomSplats(5), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Files())

	m.SetWriteLimit(2000)
	_, err = WriteSplats(context.Background(), m, "splats.ply", randomSplats(100), Options{})
	assert.ErrorIs(t, err, fsutil.ErrNoSpace)
	assert.Empty(t, m.Files())
}

func TestWriteSplatsRejectsInvalidSplats(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		modify func(*Splat)
	}{
		{"nan position", Options{}, func(s *Splat) { s.Position[2] = float32(math.NaN()) }},
		{"inf opacity", Options{}, func(s *Splat) { s.Opacity = float32(math.Inf(-1)) }},
		{"nan sh rest", Options{}, func(s *Splat) { s.SHRest[44] = float32(math.NaN()) }},
		{"inf scale", Options{}, func(s *Splat) { s.Scale[1] = float32(math.Inf(1)) }},
		{"nan normal", Options{Normals: true}, func(s *Splat) { s.Normal[0] = float32(math.NaN()) }},
		{"zero rotation", Options{}, func(s *Splat) { s.Rotation = [4]float32{} }},
		{"non-unit rotation", Options{}, func(s *Splat) { s.Rotation = [4]float32{1, 1, 0, 0} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := fsutil.NewMemoryFileSystem()
			splats := randomSplats(8)
			tc.modify(&splats[5])
			_, err := WriteSplats(context.Background(), m, "splats.ply", splats, tc.opts)
			assert.ErrorIs(t, err, errs.ErrConversion)
			assert.Contains(t, err.Error(), "splat 5")
			assert.Empty(t, m.Files())
		})
	}

	// Normals are not written without the option, so a NaN there is fine.
	splats := randomSplats(8)
	splats[0].Normal[0] = float32(math.NaN())
	require.NoError(t, CheckSplats(splats, Options{}))
}

func TestReadSplatsRejects(t *testing.T) {
	var good bytes.Buffer
	require.NoError(t, Encode(context.Background(), &good, randomSplats(2), Options{}))
	data := good.Bytes()

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"magic", []byte("plx\n")},
		{"ascii", []byte("ply\nformat ascii 1.0\nelement vertex 0\nend_header\n")},
		{"no element", []byte("ply\nformat binary_little_endian 1.0\nend_header\n")},
		{"wrong props", []byte("ply\nformat binary_little_endian 1.0\nelement vertex 0\nproperty float x\nend_header\n")},
		{"truncated", data[:len(data)-1]},
		{"trailing", append(append([]byte{}, data...), 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ReadSplats(bytes.NewReader(tc.in))
			assert.ErrorIs(t, err, errs.ErrFormat)
		})
	}
}

func TestPointCloudRoundTrip(t *testing.T) {
	pts := []Point{
		{Position: [3]float32{1, 2, 3}, Normal: [3]float32{0, 0, 1}, Color: [3]uint8{255, 0, 10}},
		{Position: [3]float32{-1, 0.5, 7}, Color: [3]uint8{1, 2, 3}},
	}
	m := fsutil.NewMemoryFileSystem()
	n, err := WritePointCloud(context.Background(), m, "cloud.ply", pts)
	require.NoError(t, err)
	assert.EqualValues(t, 229+2*PointRecordSize, n)

	data, err := m.ReadFile("cloud.ply")
	require.NoError(t, err)
	assert.Contains(t, string(data), "property uchar red\n")
	got, err := ReadPointCloud(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, pts, got)

	_, _, err = ReadSplats(bytes.NewReader(data))
	assert.ErrorIs(t, err, errs.ErrFormat)
}

func TestColorSH(t *testing.T) {
	sh := ColorToSHDC([3]uint8{255, 0, 128})
	assert.InDelta(t, 1.7724538509, sh[0], 1e-5)
	assert.InDelta(t, -1.7724538509, sh[1], 1e-5)
	for _, c := range [][3]uint8{{0, 0, 0}, {255, 255, 255}, {12, 200, 77}} {
		assert.Equal(t, c, SHDCToColor(ColorToSHDC(c)))
	}
	assert.Equal(t, [3]uint8{255, 0, 255}, SHDCToColor([3]float32{100, -100, 1e9}))
}

func TestLogitSigmoid(t *testing.T) {
	assert.InDelta(t, -2.1972246, Logit(0.1), 1e-5)
	for _, p := range []float32{0.01, 0.1, 0.5, 0.9} {
		assert.InDelta(t, p, Sigmoid(Logit(p)), 1e-5)
	}
	assert.False(t, math.IsInf(float64(Logit(0)), 0))
	assert.False(t, math.IsInf(float64(Logit(1)), 0))
}

func TestSplatsFromPoints(t *testing.T) {
	// A regular 10x10x10 lattice with 0.2 m spacing.
	var pts []Point
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			for z := 0; z < 10; z++ {
				pts = append(pts, Point{Position: [3]float32{float32(x) * 0.2, float32(y) * 0.2, float32(z) * 0.2}, Color: [3]uint8{255, 255, 255}})
			}
		}
	}
	splats := SplatsFromPoints(pts, SeedParams{})
	require.Len(t, splats, len(pts))
	approx := cmpopts.EquateApprox(0, 1e-4)
	for _, s := range splats {
		if !cmp.Equal(float32(math.Log(0.2)), s.Scale[0], approx) {
			t.Fatalf("scale = %v, want log(0.2)", s.Scale)
		}
		assert.Equal(t, s.Scale[0], s.Scale[2])
		assert.Equal(t, [4]float32{1, 0, 0, 0}, s.Rotation)
		assert.InDelta(t, -2.1972246, s.Opacity, 1e-5)
	}

	valid, warnings := ValidateSplats(splats)
	assert.True(t, valid)
	assert.Empty(t, warnings)
}

func TestSplatsFromPointsDegenerate(t *testing.T) {
	one := SplatsFromPoints([]Point{{}}, SeedParams{MinScale: 0.01})
	require.Len(t, one, 1)
	assert.InDelta(t, math.Log(0.01), one[0].Scale[0], 1e-5)

	// Coincident points floor at the minimum scale.
	dup := SplatsFromPoints([]Point{{}, {}, {}}, SeedParams{})
	for _, s := range dup {
		assert.InDelta(t, math.Log(DefaultMinScale), s.Scale[0], 1e-4)
	}

	// A planar cloud still finds neighbours.
	plane := []Point{{Position: [3]float32{0, 0, 0}}, {Position: [3]float32{1, 0, 0}}, {Position: [3]float32{0, 1, 0}}, {Position: [3]float32{1, 1, 0}}}
	for _, s := range SplatsFromPoints(plane, SeedParams{}) {
		assert.True(t, s.Scale[0] > -1 && s.Scale[0] < 1, "scale %v", s.Scale)
	}
	assert.Empty(t, SplatsFromPoints(nil, SeedParams{}))
}

func TestValidateSplats(t *testing.T) {
	valid, warnings := ValidateSplats(nil)
	assert.False(t, valid)
	assert.Equal(t, []string{"Empty splat array"}, warnings)

	splats := randomSplats(20)
	nan := float32(math.NaN())
	splats[0].Position[1] = nan
	splats[1].Opacity = float32(math.Inf(1))
	splats[2].Scale[2] = 11
	splats[3].Scale[0] = -21
	splats[4].Rotation = [4]float32{1, 1, 0, 0}
	valid, warnings = ValidateSplats(splats)
	assert.False(t, valid)
	assert.Equal(t, []string{
		"1 splats have invalid positions",
		"1 splats have invalid opacity values",
		"2 splats have extreme scale values",
		"1 splats have non-unit rotation quaternions",
		"Low splat count (20). 10K-1M typical for quality scenes.",
	}, warnings)
}
