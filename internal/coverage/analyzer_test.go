package coverage

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
)

var unitCube = r3.Box{Min: r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}, Max: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}}

// fibonacciPoses places n cameras on a sphere around the origin, each looking
// at the origin.
func fibonacciPoses(t *testing.T, n int, radius float64, conv convention.Convention) []geom.Pose {
	t.Helper()
	golden := math.Pi * (3 - math.Sqrt(5))
	poses := make([]geom.Pose, n)
	for i := range poses {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		th := golden * float64(i)
		eye := r3.Scale(radius, r3.Vec{X: r * math.Cos(th), Y: y, Z: r * math.Sin(th)})
		q, err := convention.LookAt(eye, r3.Vec{}, conv)
		require.NoError(t, err)
		poses[i] = geom.Pose{Position: eye, Rotation: q}
	}
	return poses
}

func TestAnalyzeSphereAroundCube(t *testing.T) {
	poses := fibonacciPoses(t, 200, 3*math.Sqrt(3), convention.COLMAP)
	r, err := Analyze(context.Background(), poses, convention.COLMAP, Params{
		HFOVDeg:    120,
		Aspect:     1,
		Volume:     unitCube,
		Resolution: 16,
	})
	require.NoError(t, err)

	assert.Len(t, r.Counts, 16*16*16)
	assert.GreaterOrEqual(t, r.Ratio, 0.95)
	assert.GreaterOrEqual(t, r.WellCoveredRatio, 0.95)
	assert.Equal(t, 200, r.Poses)
}

func TestAnalyzeIsConventionIndependent(t *testing.T) {
	p := Params{HFOVDeg: 60, Aspect: 16.0 / 9, Volume: unitCube, Resolution: 8}
	base, err := Analyze(context.Background(), fibonacciPoses(t, 12, 4, convention.COLMAP), convention.COLMAP, p)
	require.NoError(t, err)

	for _, conv := range convention.Presets {
		t.Run(conv.Name, func(t *testing.T) {
			poses, err := convention.ConvertPoses(fibonacciPoses(t, 12, 4, convention.COLMAP), convention.COLMAP, conv)
			require.NoError(t, err)
			// Converted corners may swap per axis; Bounds re-sorts them.
			vol := geom.Bounds([]r3.Vec{mustPos(t, unitCube.Min, conv), mustPos(t, unitCube.Max, conv)})

			q := p
			q.Volume = vol
			got, err := Analyze(context.Background(), poses, conv, q)
			require.NoError(t, err)
			assert.InDelta(t, base.Ratio, got.Ratio, 1e-9)
		})
	}
}

func mustPos(t *testing.T, v r3.Vec, conv convention.Convention) r3.Vec {
	t.Helper()
	out, err := convention.ConvertPosition(v, convention.COLMAP, conv)
	require.NoError(t, err)
	return out
}

func TestAnalyzeSingleCamera(t *testing.T) {
	// A camera at z=-5 looking down +z with a narrow cone sees only the
	// central column of voxels.
	pose := geom.Pose{Position: r3.Vec{Z: -5}, Rotation: geom.Identity}
	r, err := Analyze(context.Background(), []geom.Pose{pose}, convention.COLMAP, Params{
		HFOVDeg:    2,
		Aspect:     1,
		Volume:     unitCube,
		Resolution: 3,
	})
	require.NoError(t, err)

	for z := 0; z < 3; z++ {
		assert.Equal(t, 1, r.Counts[r.Index(1, 1, z)], "centre voxel at z=%d", z)
		assert.Equal(t, 0, r.Counts[r.Index(0, 0, z)])
	}
	assert.InDelta(t, 3.0/27, r.Ratio, 1e-12)
	assert.Zero(t, r.WellCoveredRatio)

	// Behind the camera nothing is visible.
	behind := geom.Pose{Position: r3.Vec{Z: 5}, Rotation: geom.Identity}
	r, err = Analyze(context.Background(), []geom.Pose{behind}, convention.COLMAP, Params{
		HFOVDeg: 170, Aspect: 1, Volume: unitCube, Resolution: 3,
	})
	require.NoError(t, err)
	assert.Zero(t, r.Covered)
}

func TestAnalyzeErrors(t *testing.T) {
	ctx := context.Background()
	good := Params{HFOVDeg: 90, Aspect: 1, Volume: unitCube, Resolution: 4}

	tests := []struct {
		name string
		p    Params
	}{
		{"zero fov", Params{HFOVDeg: 0, Aspect: 1, Volume: unitCube}},
		{"straight fov", Params{HFOVDeg: 180, Aspect: 1, Volume: unitCube}},
		{"zero aspect", Params{HFOVDeg: 90, Volume: unitCube}},
		{"flat volume", Params{HFOVDeg: 90, Aspect: 1, Volume: r3.Box{Max: r3.Vec{X: 1, Y: 1}}}},
		{"negative resolution", Params{HFOVDeg: 90, Aspect: 1, Volume: unitCube, Resolution: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(ctx, nil, convention.COLMAP, tt.p)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
		})
	}

	bad := []geom.Pose{{Position: r3.Vec{X: math.NaN()}, Rotation: quat.Number{Real: 1}}}
	_, err := Analyze(ctx, bad, convention.COLMAP, good)
	assert.ErrorIs(t, err, errs.ErrConversion)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Analyze(cancelled, fibonacciPoses(t, 4, 3, convention.COLMAP), convention.COLMAP, good)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeNoPoses(t *testing.T) {
	r, err := Analyze(context.Background(), nil, convention.COLMAP, Params{HFOVDeg: 90, Aspect: 1, Volume: unitCube, Resolution: 2})
	require.NoError(t, err)
	assert.Zero(t, r.Ratio)
	assert.Len(t, r.UnderCovered(1), 8)
}

func TestReportIndexing(t *testing.T) {
	r := newReport(Params{Resolution: 4, Volume: r3.Box{Max: r3.Vec{X: 4, Y: 8, Z: 12}}}, 0)
	for i := range r.Counts {
		x, y, z := r.Coords(i)
		assert.Equal(t, i, r.Index(x, y, z))
	}
	assert.Equal(t, r3.Vec{X: 0.5, Y: 1, Z: 1.5}, r.VoxelCenter(0, 0, 0))
	assert.Equal(t, r3.Vec{X: 3.5, Y: 7, Z: 10.5}, r.VoxelCenter(3, 3, 3))
}

func TestReportRatiosAndHistogram(t *testing.T) {
	r := &Report{Resolution: 2, WellCoveredMin: 2, Counts: []int{0, 1, 2, 3, 4, 5, 0, 0}}
	r.summarize()
	assert.Equal(t, 5, r.Covered)
	assert.Equal(t, 4, r.WellCovered)
	assert.InDelta(t, 5.0/8, r.Ratio, 1e-12)
	assert.InDelta(t, 0.5, r.WellCoveredRatio, 1e-12)
	assert.InDelta(t, 2.0/8, r.RatioAt(4), 1e-12)
	assert.Equal(t, 5, r.MaxCount())

	h := r.Histogram(3)
	assert.Equal(t, []int{4, 2, 2}, h)
	sum := 0
	for _, n := range r.Histogram(6) {
		sum += n
	}
	assert.Equal(t, 8, sum)
}

func TestRegions(t *testing.T) {
	r := newReport(Params{Resolution: 4, Volume: r3.Box{Max: r3.Vec{X: 4, Y: 4, Z: 4}}}, 1)
	for i := range r.Counts {
		r.Counts[i] = 5
	}
	// A 2x1x1 block in one corner and a single voxel in the opposite one.
	r.Counts[r.Index(0, 0, 0)] = 0
	r.Counts[r.Index(1, 0, 0)] = 1
	r.Counts[r.Index(3, 3, 3)] = 2

	regions := r.Regions(3)
	require.Len(t, regions, 2)
	assert.Equal(t, 2, regions[0].Voxels)
	assert.Equal(t, 0, regions[0].MinCount)
	assert.Equal(t, r3.Vec{X: 1, Y: 0.5, Z: 0.5}, regions[0].Centroid)
	assert.Equal(t, 1, regions[1].Voxels)
	assert.Equal(t, r3.Vec{X: 3.5, Y: 3.5, Z: 3.5}, regions[1].Centroid)

	assert.Empty(t, r.Regions(0))
	assert.Len(t, r.UnderCovered(3), 3)
}

func TestWriteHTML(t *testing.T) {
	r := &Report{Resolution: 2, Poses: 3, WellCoveredMin: 1, Counts: []int{0, 1, 2, 3, 0, 1, 2, 3}}
	r.summarize()

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, r, []Pass{{Index: 0, Poses: 3, Ratio: 0.5}, {Index: 1, Poses: 5, Ratio: 0.75}}))
	assert.Contains(t, buf.String(), "Voxel visibility")
	assert.Contains(t, buf.String(), "Coverage by pass")

	assert.Error(t, WriteHTML(&buf, nil, nil))
}

func TestPlotter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	cp := NewPlotter()

	// Samples before Start are ignored.
	cp.Sample(Pass{Index: 9}, nil)
	require.NoError(t, cp.Start(dir))
	assert.Empty(t, cp.Passes())

	r := &Report{Resolution: 2, Poses: 3, WellCoveredMin: 1, Counts: []int{0, 1, 2, 3, 0, 1, 2, 3}}
	r.summarize()
	cp.Sample(Pass{Index: 0, Poses: 3, Ratio: 0.5}, nil)
	cp.Sample(Pass{Index: 1, Poses: 5, Ratio: 0.75, WellCoveredRatio: 0.5}, r)
	cp.Stop()
	cp.Sample(Pass{Index: 2}, nil)
	assert.Len(t, cp.Passes(), 2)

	n, err := cp.GeneratePlots()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, name := range []string{"coverage_history.png", "coverage_histogram.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = NewPlotter().GeneratePlots()
	assert.Error(t, err)
}
