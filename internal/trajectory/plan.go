package trajectory

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
	"github.com/banshee-data/splatcapture/internal/units"
)

// Kind names a trajectory generator.
type Kind string

const (
	KindSpherical  Kind = "spherical"
	KindOrbital    Kind = "orbital"
	KindHemisphere Kind = "hemisphere"
	KindSpiral     Kind = "spiral"
	KindPanoramic  Kind = "panoramic"
	KindSpline     Kind = "spline"
	KindCustom     Kind = "custom"
	KindAdaptive   Kind = "adaptive"
)

// Kinds lists every generator in display order.
var Kinds = []Kind{KindSpherical, KindOrbital, KindHemisphere, KindSpiral, KindPanoramic, KindSpline, KindCustom, KindAdaptive}

// ParseKind validates a generator name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errs.Configf("trajectory", "unknown trajectory kind %q", s)
}

// Config is the generator-independent description used by Generate and
// ValidateConfig. Fields a generator does not use are ignored.
type Config struct {
	Kind   Kind
	Center r3.Vec
	Radius float64
	// Count is the pose count for spherical, spiral, spline and adaptive
	// trajectories.
	Count           int
	Rings           int
	ViewsPerRing    int
	MinElevationDeg float64
	MaxElevationDeg float64
	StartAzimuthDeg float64
	RadiusVariation float64
	Stagger         bool
	Turns           float64
	// Stations is the number of panoramic capture positions.
	Stations  int
	Keyframes []r3.Vec
	Target    *r3.Vec
	Waypoints []geom.Pose

	Convention convention.Convention
}

func (c Config) orbital() OrbitalParams {
	return OrbitalParams{
		Center:          c.Center,
		Radius:          c.Radius,
		Rings:           c.Rings,
		ViewsPerRing:    c.ViewsPerRing,
		MinElevationDeg: c.MinElevationDeg,
		MaxElevationDeg: c.MaxElevationDeg,
		StartAzimuthDeg: c.StartAzimuthDeg,
		RadiusVariation: c.RadiusVariation,
		Stagger:         c.Stagger,
		Convention:      c.Convention,
	}
}

// Sphere returns the spherical placement parameters of the config.
func (c Config) Sphere() SphereParams {
	return SphereParams{
		Center:          c.Center,
		Radius:          c.Radius,
		MinElevationDeg: c.MinElevationDeg,
		MaxElevationDeg: c.MaxElevationDeg,
		Convention:      c.Convention,
	}
}

// ExpectedCount predicts how many poses Generate returns. Adaptive reports
// its baseline count.
func (c Config) ExpectedCount() int {
	switch c.Kind {
	case KindOrbital, KindHemisphere:
		return c.Rings * c.ViewsPerRing
	case KindPanoramic:
		return PanoramicViews * c.Stations
	case KindCustom:
		return len(c.Waypoints)
	default:
		return c.Count
	}
}

// Generate dispatches to the generator named by c.Kind. Adaptive needs a
// coverage volume and a context; call Adaptive directly.
func Generate(c Config) (Trajectory, error) {
	switch c.Kind {
	case KindSpherical:
		return Spherical(c.Count, c.Sphere())
	case KindOrbital:
		return Orbital(c.orbital())
	case KindHemisphere:
		return Hemisphere(c.orbital())
	case KindSpiral:
		return Spiral(SpiralParams{
			Center:          c.Center,
			Radius:          c.Radius,
			Count:           c.Count,
			Turns:           c.Turns,
			MinElevationDeg: c.MinElevationDeg,
			MaxElevationDeg: c.MaxElevationDeg,
			StartAzimuthDeg: c.StartAzimuthDeg,
			RadiusVariation: c.RadiusVariation,
			Convention:      c.Convention,
		})
	case KindPanoramic:
		return Panoramic(PanoramicParams{Center: c.Center, Length: 2 * c.Radius, Stations: c.Stations, Convention: c.Convention})
	case KindSpline:
		return Spline(c.Count, SplineParams{Keyframes: c.Keyframes, Target: c.Target, Convention: c.Convention})
	case KindCustom:
		return Custom(c.Waypoints, c.Convention)
	case KindAdaptive:
		return Trajectory{}, errs.Configf("trajectory", "adaptive trajectories need coverage parameters; use Adaptive")
	}
	return Trajectory{}, errs.Configf("trajectory", "unknown trajectory kind %q", c.Kind)
}

// MinCustomWaypoints is the fewest waypoints a custom trajectory accepts.
const MinCustomWaypoints = 3

// Custom wraps explicit waypoints as a trajectory. Each waypoint is
// validated and its rotation normalized.
func Custom(waypoints []geom.Pose, c convention.Convention) (Trajectory, error) {
	if err := c.Validate(); err != nil {
		return Trajectory{}, err
	}
	if len(waypoints) < MinCustomWaypoints {
		return Trajectory{}, errs.Configf("custom", "need at least %d waypoints, got %d", MinCustomWaypoints, len(waypoints))
	}
	poses := make([]geom.Pose, len(waypoints))
	for i, w := range waypoints {
		p, err := geom.NewPose(w.Position, w.Rotation)
		if err != nil {
			return Trajectory{}, fmt.Errorf("waypoint %d: %w", i, err)
		}
		poses[i] = p
	}
	return Trajectory{Convention: c, Poses: poses}, nil
}

// PanoramicViews is the number of cube-face views captured per station:
// forward, right, back, left, up, down.
const PanoramicViews = 6

// PanoramicParams places stations along the convention's forward axis.
type PanoramicParams struct {
	Center     r3.Vec
	Length     float64
	Stations   int
	Convention convention.Convention
}

// Panoramic captures six cube-face views at each of Stations positions spaced
// evenly over a line of the given length through Center.
func Panoramic(p PanoramicParams) (Trajectory, error) {
	if err := p.Convention.Validate(); err != nil {
		return Trajectory{}, err
	}
	if p.Stations < 2 {
		return Trajectory{}, errs.Configf("panoramic", "need at least 2 stations, got %d", p.Stations)
	}
	if !(p.Length > 0) || math.IsInf(p.Length, 0) || !geom.IsFinite(p.Center) {
		return Trajectory{}, errs.Configf("panoramic", "path length must be positive and finite, got %g", p.Length)
	}

	b := basis(p.Convention)
	dirs := []r3.Vec{b.Forward, b.Right, r3.Scale(-1, b.Forward), r3.Scale(-1, b.Right), b.Up, r3.Scale(-1, b.Up)}
	step := p.Length / float64(p.Stations-1)
	poses := make([]geom.Pose, 0, len(dirs)*p.Stations)
	for s := 0; s < p.Stations; s++ {
		eye := r3.Add(p.Center, r3.Scale(-p.Length/2+step*float64(s), b.Forward))
		for _, d := range dirs {
			pose, err := lookAt(eye, r3.Add(eye, d), p.Convention)
			if err != nil {
				return Trajectory{}, err
			}
			poses = append(poses, pose)
		}
	}
	return Trajectory{Convention: p.Convention, Poses: poses}, nil
}

// Orbital defaults, used by OptimalOrbital and the capture config.
const (
	DefaultMinElevation    = -30.0
	DefaultMaxElevation    = 60.0
	DefaultRadiusVariation = 0.15
)

const (
	optimalMargin   = 1.3
	optimalAspect   = 16.0 / 9
	optimalMinViews = 12
	optimalMaxViews = 72
	optimalMinRings = 3
	optimalMaxRings = 8
)

// OptimalOrbital derives orbital parameters that frame bounds at the given
// horizontal FOV with the requested overlap between neighbouring views. The
// radius keeps the largest half extent inside the view with a 1.3 margin; the
// vertical FOV assumes a 16:9 image.
func OptimalOrbital(bounds r3.Box, hfovDeg, overlap float64, c convention.Convention) (OrbitalParams, error) {
	if err := c.Validate(); err != nil {
		return OrbitalParams{}, err
	}
	if !(hfovDeg > 0 && hfovDeg < 180) {
		return OrbitalParams{}, errs.Configf("optimal orbital", "horizontal fov must be in (0, 180), got %g", hfovDeg)
	}
	if !(overlap >= 0 && overlap < 1) {
		return OrbitalParams{}, errs.Configf("optimal orbital", "overlap must be in [0, 1), got %g", overlap)
	}
	half := r3.Scale(0.5, r3.Sub(bounds.Max, bounds.Min))
	extent := math.Max(half.X, math.Max(half.Y, half.Z))
	if !(extent > 0) || math.IsInf(extent, 0) {
		return OrbitalParams{}, errs.Configf("optimal orbital", "bounds %v have no extent", bounds)
	}

	views := int(math.Ceil(360 / (hfovDeg * (1 - overlap))))
	views = clampInt(views, optimalMinViews, optimalMaxViews)

	vfov := hfovDeg / optimalAspect
	rings := int(math.Ceil((DefaultMaxElevation - DefaultMinElevation) / (vfov * (1 - overlap))))
	rings = clampInt(rings, optimalMinRings, optimalMaxRings)

	return OrbitalParams{
		Center:          r3.Scale(0.5, r3.Add(bounds.Min, bounds.Max)),
		Radius:          extent / math.Tan(hfovDeg*math.Pi/360) * optimalMargin,
		Rings:           rings,
		ViewsPerRing:    views,
		MinElevationDeg: DefaultMinElevation,
		MaxElevationDeg: DefaultMaxElevation,
		RadiusVariation: DefaultRadiusVariation,
		Stagger:         true,
		Convention:      c,
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ValidateConfig reports whether c can be generated, plus advisory warnings
// about view count, radius, elevation range and azimuth spacing. Only hard
// problems make it invalid.
func ValidateConfig(c Config) (bool, []string) {
	var warnings []string
	valid := true

	if n := c.ExpectedCount(); n < 50 {
		warnings = append(warnings, fmt.Sprintf("low view count (%d); 100-180 views are recommended for splat training", n))
	} else if n > 500 {
		warnings = append(warnings, fmt.Sprintf("high view count (%d) will lengthen capture and training", n))
	}

	if c.Kind != KindCustom && c.Kind != KindSpline {
		metres := c.Radius * units.MetersPer(c.Convention.Units)
		if metres < 1 {
			warnings = append(warnings, "radius under 1 m may clip against the near plane")
		} else if metres > 100 {
			warnings = append(warnings, "radius over 100 m may hurt depth precision")
		}
		if c.MaxElevationDeg-c.MinElevationDeg < 30 {
			warnings = append(warnings, "elevation range under 30 degrees leaves vertical coverage incomplete")
		}
	}

	if c.Kind == KindOrbital || c.Kind == KindHemisphere {
		if c.ViewsPerRing > 0 {
			if step := 360 / float64(c.ViewsPerRing); step > 30 {
				warnings = append(warnings, fmt.Sprintf("azimuth step of %.1f degrees may leave too little overlap", step))
			}
		}
	}

	if c.Kind == KindCustom && len(c.Waypoints) < MinCustomWaypoints {
		warnings = append(warnings, fmt.Sprintf("custom trajectories need at least %d waypoints", MinCustomWaypoints))
		valid = false
	}
	if _, err := ParseKind(string(c.Kind)); err != nil {
		warnings = append(warnings, err.Error())
		valid = false
	}
	return valid, warnings
}

// AverageOverlap estimates the mean overlap between consecutive views as
// clamp(1 - angle/hfov, 0, 1) of their forward directions, wrapping from the
// last pose to the first.
func AverageOverlap(t Trajectory, hfovDeg float64) float64 {
	n := len(t.Poses)
	if n < 2 || !(hfovDeg > 0) {
		return 0
	}
	total := 0.0
	for i := range t.Poses {
		a := convention.Forward(t.Poses[i], t.Convention)
		b := convention.Forward(t.Poses[(i+1)%n], t.Convention)
		cos := math.Max(-1, math.Min(1, r3.Dot(r3.Unit(a), r3.Unit(b))))
		angle := math.Acos(cos) * 180 / math.Pi
		total += math.Max(0, math.Min(1, 1-angle/hfovDeg))
	}
	return total / float64(n)
}
