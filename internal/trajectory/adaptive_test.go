package trajectory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/coverage"
	"github.com/banshee-data/splatcapture/internal/errs"
)

var cube = r3.Box{Min: r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}, Max: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}}

func TestAdaptiveStopsAtTarget(t *testing.T) {
	var observed []coverage.Pass
	res, err := Adaptive(context.Background(), 6, AdaptiveParams{
		Sphere:              FullSphere(r3.Vec{}, 3, convention.COLMAP),
		Coverage:            coverage.Params{HFOVDeg: 60, Aspect: 1, Volume: cube, Resolution: 8},
		VisibilityThreshold: 1,
		TargetCoverage:      1,
		Observer:            func(p coverage.Pass, _ *coverage.Report) { observed = append(observed, p) },
	})
	require.NoError(t, err)

	assert.True(t, res.Converged)
	require.Len(t, res.History, 1)
	assert.Equal(t, res.History, observed)
	assert.Equal(t, 6, res.Trajectory.Len())
	assert.Equal(t, 1.0, res.Final.Ratio)
}

func TestAdaptiveRefinesNarrowBaseline(t *testing.T) {
	res, err := Adaptive(context.Background(), 8, AdaptiveParams{
		Sphere:              FullSphere(r3.Vec{}, 3, convention.COLMAP),
		Coverage:            coverage.Params{HFOVDeg: 10, Aspect: 1, Volume: cube, Resolution: 8},
		VisibilityThreshold: 1,
		TargetCoverage:      1,
		MinBaseline:         0.1,
		MaxPasses:           2,
	})
	require.NoError(t, err)

	require.NotEmpty(t, res.History)
	assert.LessOrEqual(t, len(res.History), 3)
	assert.Equal(t, 8, res.History[0].Poses)
	for i := 1; i < len(res.History); i++ {
		prev, cur := res.History[i-1], res.History[i]
		assert.Equal(t, prev.Poses+cur.Added, cur.Poses)
		assert.Positive(t, cur.Added)
		assert.GreaterOrEqual(t, cur.WellCoveredRatio, prev.WellCoveredRatio)
	}
	last := res.History[len(res.History)-1]
	assert.Greater(t, last.WellCoveredRatio, res.History[0].WellCoveredRatio)
	assert.Equal(t, last.Poses, res.Trajectory.Len())

	// Added cameras keep the minimum baseline from every earlier camera.
	pos := res.Trajectory.Positions()
	for i := 8; i < len(pos); i++ {
		for j := 0; j < i; j++ {
			assert.GreaterOrEqual(t, r3.Norm(r3.Sub(pos[i], pos[j])), 0.1)
		}
	}
}

func TestAdaptiveDefaults(t *testing.T) {
	p := AdaptiveParams{MaxPasses: 50}.withDefaults()
	assert.Equal(t, MaxAdaptivePasses, p.MaxPasses)
	assert.Equal(t, coverage.DefaultWellCoveredMin, p.VisibilityThreshold)

	p = AdaptiveParams{MaxPasses: 4, VisibilityThreshold: 2}.withDefaults()
	assert.Equal(t, 4, p.MaxPasses)
	assert.Equal(t, 2, p.VisibilityThreshold)
}

func TestAdaptiveErrors(t *testing.T) {
	good := AdaptiveParams{
		Sphere:         FullSphere(r3.Vec{}, 3, convention.COLMAP),
		Coverage:       coverage.Params{HFOVDeg: 60, Aspect: 1, Volume: cube, Resolution: 4},
		TargetCoverage: 0.9,
	}
	tests := []struct {
		name string
		mod  func(*AdaptiveParams)
	}{
		{"zero target", func(p *AdaptiveParams) { p.TargetCoverage = 0 }},
		{"target above one", func(p *AdaptiveParams) { p.TargetCoverage = 1.5 }},
		{"negative baseline", func(p *AdaptiveParams) { p.MinBaseline = -1 }},
		{"negative threshold", func(p *AdaptiveParams) { p.VisibilityThreshold = -2 }},
		{"bad coverage fov", func(p *AdaptiveParams) { p.Coverage.HFOVDeg = 0 }},
		{"bad sphere", func(p *AdaptiveParams) { p.Sphere.Radius = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good
			tt.mod(&p)
			_, err := Adaptive(context.Background(), 10, p)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Adaptive(ctx, 10, good)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlaceCandidate(t *testing.T) {
	target := r3.Vec{X: 1}
	dir := r3.Vec{Z: 1}
	blocked := r3.Add(target, r3.Scale(2, dir))

	eye, ok := placeCandidate(nil, target, dir, 2, 0.5)
	require.True(t, ok)
	assert.Equal(t, blocked, eye)

	eye, ok = placeCandidate([]r3.Vec{blocked}, target, dir, 2, 0.5)
	require.True(t, ok)
	assert.GreaterOrEqual(t, r3.Norm(r3.Sub(eye, blocked)), 0.5)
	assert.InDelta(t, 2, r3.Norm(r3.Sub(eye, target)), 1e-9)
	// The replacement is the admissible direction closest to the original.
	assert.Greater(t, r3.Dot(r3.Unit(r3.Sub(eye, target)), dir), 0.5)

	_, ok = placeCandidate([]r3.Vec{target}, target, dir, 2, 10)
	assert.False(t, ok)
}

func TestFibonacciDirectionsAreUnit(t *testing.T) {
	for _, d := range fibonacciDirections(alternateDirections) {
		assert.InDelta(t, 1, r3.Norm(d), 1e-12)
	}
}
