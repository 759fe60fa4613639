// Package coverage estimates how well a set of camera poses observes a
// volume, using a voxel grid and per-camera view cones.
package coverage

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
)

// DefaultResolution is the voxel count along each axis of the grid.
const DefaultResolution = 32

// DefaultWellCoveredMin is the visibility count at which a voxel counts as
// well covered when Params.WellCoveredMin is unset.
const DefaultWellCoveredMin = 3

// Params configures an analysis.
type Params struct {
	// HFOVDeg is the horizontal field of view in degrees.
	HFOVDeg float64
	// Aspect is width/height; the vertical FOV is derived from it.
	Aspect float64
	// Volume is the axis-aligned region to evaluate, in trajectory units.
	Volume r3.Box
	// Resolution is the voxel count per axis; 0 means DefaultResolution.
	Resolution int
	// WellCoveredMin is the minimum counter for the well-covered ratio.
	WellCoveredMin int
	// Workers bounds the goroutines scanning z-slabs; 0 means GOMAXPROCS.
	Workers int
}

func (p Params) withDefaults() Params {
	if p.Resolution == 0 {
		p.Resolution = DefaultResolution
	}
	if p.WellCoveredMin == 0 {
		p.WellCoveredMin = DefaultWellCoveredMin
	}
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	return p
}

// Validate checks the analysis parameters.
func (p Params) Validate() error {
	p = p.withDefaults()
	if !(p.HFOVDeg > 0 && p.HFOVDeg < 180) {
		return errs.Configf("coverage", "horizontal fov must be in (0, 180), got %g", p.HFOVDeg)
	}
	if !(p.Aspect > 0) || math.IsInf(p.Aspect, 0) {
		return errs.Configf("coverage", "aspect ratio must be positive, got %g", p.Aspect)
	}
	if p.Resolution < 1 {
		return errs.Configf("coverage", "resolution must be positive, got %d", p.Resolution)
	}
	if p.WellCoveredMin < 1 {
		return errs.Configf("coverage", "well-covered threshold must be positive, got %d", p.WellCoveredMin)
	}
	size := r3.Sub(p.Volume.Max, p.Volume.Min)
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) || !geom.IsFinite(size) {
		return errs.Configf("coverage", "volume %v must have positive finite extent", p.Volume)
	}
	return nil
}

// halfTangents returns tan(hfov/2) and tan(vfov/2).
func (p Params) halfTangents() (float64, float64) {
	th := math.Tan(p.HFOVDeg * math.Pi / 360)
	return th, th / p.Aspect
}

// VFOVDeg returns the vertical field of view implied by HFOVDeg and Aspect.
func (p Params) VFOVDeg() float64 {
	_, tv := p.halfTangents()
	return 2 * math.Atan(tv) * 180 / math.Pi
}

type frustum struct {
	origin, forward, right, up r3.Vec
}

// Analyze counts, for every voxel centre in the volume, how many poses see it
// inside their view cone. This is a visibility-cone approximation: scene
// geometry is never ray-cast, so occluded voxels still count as visible.
//
// Work is split into z-slabs across an errgroup. The context is checked per
// voxel.
func Analyze(ctx context.Context, poses []geom.Pose, conv convention.Convention, p Params) (*Report, error) {
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}

	cams := make([]frustum, len(poses))
	for i, pose := range poses {
		if !geom.IsFinite(pose.Position) {
			return nil, errs.Conversionf("coverage", "pose %d has a non-finite position", i)
		}
		cams[i] = frustum{
			origin:  pose.Position,
			forward: convention.Forward(pose, conv),
			right:   convention.Right(pose, conv),
			up:      convention.Up(pose, conv),
		}
	}

	r := newReport(p, len(poses))
	tanH, tanV := p.halfTangents()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for z := 0; z < p.Resolution; z++ {
		g.Go(func() error {
			for y := 0; y < p.Resolution; y++ {
				for x := 0; x < p.Resolution; x++ {
					if err := gctx.Err(); err != nil {
						return err
					}
					c := r.VoxelCenter(x, y, z)
					n := 0
					for i := range cams {
						if cams[i].sees(c, tanH, tanV) {
							n++
						}
					}
					r.Counts[r.Index(x, y, z)] = n
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.summarize()
	return r, nil
}

// sees reports whether point lies inside the camera's view cone.
func (f *frustum) sees(point r3.Vec, tanH, tanV float64) bool {
	d := r3.Sub(point, f.origin)
	depth := r3.Dot(d, f.forward)
	if depth <= 0 {
		return false
	}
	if math.Abs(r3.Dot(d, f.right)) > depth*tanH {
		return false
	}
	return math.Abs(r3.Dot(d, f.up)) <= depth*tanV
}
