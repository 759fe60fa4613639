package trajectory

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/coverage"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/monitoring"
)

// MaxAdaptivePasses bounds refinement. It is a heuristic cap: refinement is
// not guaranteed to reach the target coverage within it.
const MaxAdaptivePasses = 10

// alternateDirections is the number of fallback viewing directions tried when
// a candidate violates the minimum baseline.
const alternateDirections = 32

// AdaptiveParams configures coverage-driven refinement of a spherical baseline.
type AdaptiveParams struct {
	Sphere   SphereParams
	Coverage coverage.Params
	// VisibilityThreshold is the count below which a voxel is under-covered.
	// Zero means coverage.DefaultWellCoveredMin.
	VisibilityThreshold int
	// TargetCoverage is the fraction of voxels at or above the threshold
	// that ends refinement early.
	TargetCoverage float64
	// MinBaseline is the smallest allowed distance between a new camera and
	// any existing one.
	MinBaseline float64
	// MaxPasses is the refinement cap; zero or anything above
	// MaxAdaptivePasses means MaxAdaptivePasses.
	MaxPasses int
	// Observer, when set, is called after every coverage evaluation.
	Observer func(coverage.Pass, *coverage.Report)
}

// AdaptiveResult is the refined trajectory with its coverage history.
type AdaptiveResult struct {
	Trajectory Trajectory
	// History has one entry per evaluation; entry 0 is the baseline.
	History   []coverage.Pass
	Final     *coverage.Report
	Converged bool
}

func (p AdaptiveParams) withDefaults() AdaptiveParams {
	if p.VisibilityThreshold == 0 {
		p.VisibilityThreshold = coverage.DefaultWellCoveredMin
	}
	if p.MaxPasses <= 0 || p.MaxPasses > MaxAdaptivePasses {
		p.MaxPasses = MaxAdaptivePasses
	}
	return p
}

func (p AdaptiveParams) validate() error {
	if p.VisibilityThreshold < 1 {
		return errs.Configf("adaptive", "visibility threshold must be positive, got %d", p.VisibilityThreshold)
	}
	if !(p.TargetCoverage > 0 && p.TargetCoverage <= 1) {
		return errs.Configf("adaptive", "target coverage must be in (0, 1], got %g", p.TargetCoverage)
	}
	if !(p.MinBaseline >= 0) || math.IsInf(p.MinBaseline, 0) {
		return errs.Configf("adaptive", "minimum baseline must be finite and non-negative, got %g", p.MinBaseline)
	}
	return p.Coverage.Validate()
}

// Adaptive starts from Spherical(count, p.Sphere) and refines it. Each pass
// evaluates coverage, clusters voxels seen by fewer than VisibilityThreshold
// poses into regions, and adds one camera per region looking at the region
// centroid from Sphere.Radius away along the centroid's outward direction.
// A candidate within MinBaseline of an existing camera is moved to the
// nearest alternative direction that keeps the baseline, or dropped.
//
// Refinement stops when the well-covered ratio reaches TargetCoverage, when
// a pass adds no camera, or after MaxPasses passes.
func Adaptive(ctx context.Context, count int, p AdaptiveParams) (*AdaptiveResult, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	base, err := Spherical(count, p.Sphere)
	if err != nil {
		return nil, err
	}

	res := &AdaptiveResult{Trajectory: base}
	added := 0
	for pass := 0; ; pass++ {
		report, err := coverage.Analyze(ctx, res.Trajectory.Poses, res.Trajectory.Convention, p.Coverage)
		if err != nil {
			return nil, err
		}
		rec := coverage.Pass{
			Index:            pass,
			Poses:            res.Trajectory.Len(),
			Added:            added,
			Ratio:            report.Ratio,
			WellCoveredRatio: report.RatioAt(p.VisibilityThreshold),
		}
		res.History = append(res.History, rec)
		res.Final = report
		if p.Observer != nil {
			p.Observer(rec, report)
		}
		monitoring.Logf("adaptive: pass %d poses=%d seen=%.3f well=%.3f", pass, rec.Poses, rec.Ratio, rec.WellCoveredRatio)

		if rec.WellCoveredRatio >= p.TargetCoverage {
			res.Converged = true
			return res, nil
		}
		if pass == p.MaxPasses {
			monitoring.Logf("adaptive: stopped after %d passes below target %.3f", pass, p.TargetCoverage)
			return res, nil
		}

		added, err = refine(&res.Trajectory, report.Regions(p.VisibilityThreshold), p)
		if err != nil {
			return nil, err
		}
		if added == 0 {
			monitoring.Logf("adaptive: no admissible candidates after pass %d", pass)
			return res, nil
		}
	}
}

// refine appends one camera per region and returns how many were added.
func refine(t *Trajectory, regions []coverage.Region, p AdaptiveParams) (int, error) {
	b := basis(t.Convention)
	added := 0
	for _, reg := range regions {
		out := r3.Sub(reg.Centroid, p.Sphere.Center)
		if r3.Norm(out) < 1e-9 {
			out = b.Up
		}
		out = r3.Unit(out)

		eye, ok := placeCandidate(t.Positions(), reg.Centroid, out, p.Sphere.Radius, p.MinBaseline)
		if !ok {
			continue
		}
		pose, err := lookAt(eye, reg.Centroid, t.Convention)
		if err != nil {
			return added, err
		}
		t.Poses = append(t.Poses, pose)
		added++
	}
	return added, nil
}

// placeCandidate returns target + radius·dir, or the closest alternative
// direction (by angle) whose position keeps minBaseline from every existing
// camera.
func placeCandidate(existing []r3.Vec, target, dir r3.Vec, radius, minBaseline float64) (r3.Vec, bool) {
	dirs := append([]r3.Vec{dir}, fibonacciDirections(alternateDirections)...)
	sort.SliceStable(dirs[1:], func(a, b int) bool {
		return r3.Dot(dirs[1+a], dir) > r3.Dot(dirs[1+b], dir)
	})
	for _, d := range dirs {
		eye := r3.Add(target, r3.Scale(radius, d))
		if keepsBaseline(existing, eye, minBaseline) {
			return eye, true
		}
	}
	return r3.Vec{}, false
}

func keepsBaseline(existing []r3.Vec, eye r3.Vec, minBaseline float64) bool {
	for _, e := range existing {
		if r3.Norm(r3.Sub(e, eye)) < minBaseline {
			return false
		}
	}
	return true
}

// fibonacciDirections returns n near-uniform unit vectors.
func fibonacciDirections(n int) []r3.Vec {
	out := make([]r3.Vec, n)
	for i := range out {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		s, c := math.Sincos(2 * math.Pi * float64(i) / Phi)
		out[i] = r3.Vec{X: r * c, Y: r * s, Z: z}
	}
	return out
}
