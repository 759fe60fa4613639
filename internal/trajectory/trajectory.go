// Package trajectory plans ordered camera pose sequences around a scene:
// Fibonacci spheres, orbital rings, spirals, Catmull-Rom splines and
// coverage-driven adaptive refinement.
//
// Positions and rotations are expressed in the trajectory's convention. Every
// generator except Adaptive is a pure function of its inputs.
package trajectory

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
)

// Phi is the golden ratio.
var Phi = (1 + math.Sqrt(5)) / 2

// Trajectory is an ordered pose sequence in a single convention.
type Trajectory struct {
	Convention convention.Convention
	Poses      []geom.Pose
}

// Len returns the number of poses.
func (t Trajectory) Len() int { return len(t.Poses) }

// Positions returns the camera centres in order.
func (t Trajectory) Positions() []r3.Vec {
	out := make([]r3.Vec, len(t.Poses))
	for i, p := range t.Poses {
		out[i] = p.Position
	}
	return out
}

// Bounds returns the box enclosing all camera centres.
func (t Trajectory) Bounds() r3.Box {
	return geom.Bounds(t.Positions())
}

// ConvertTo returns the trajectory expressed in another convention.
func (t Trajectory) ConvertTo(to convention.Convention) (Trajectory, error) {
	poses, err := convention.ConvertPoses(t.Poses, t.Convention, to)
	if err != nil {
		return Trajectory{}, err
	}
	return Trajectory{Convention: to, Poses: poses}, nil
}

// SphereParams places cameras on a sphere looking at its centre.
type SphereParams struct {
	Center r3.Vec
	Radius float64
	// Elevation band in degrees above the convention's horizontal plane.
	// Use FullSphere for [-90, 90].
	MinElevationDeg float64
	MaxElevationDeg float64
	Convention      convention.Convention
}

// FullSphere returns SphereParams covering every elevation.
func FullSphere(center r3.Vec, radius float64, conv convention.Convention) SphereParams {
	return SphereParams{Center: center, Radius: radius, MinElevationDeg: -90, MaxElevationDeg: 90, Convention: conv}
}

func (p SphereParams) validate(op string) error {
	if err := p.Convention.Validate(); err != nil {
		return err
	}
	if !geom.IsFinite(p.Center) {
		return errs.Configf(op, "non-finite centre %v", p.Center)
	}
	if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
		return errs.Configf(op, "radius must be positive and finite, got %g", p.Radius)
	}
	return validateBand(op, p.MinElevationDeg, p.MaxElevationDeg)
}

func validateBand(op string, min, max float64) error {
	if math.IsNaN(min) || math.IsNaN(max) || min < -90 || max > 90 || min > max {
		return errs.Configf(op, "elevation band [%g, %g] must lie within [-90, 90] with min <= max", min, max)
	}
	return nil
}

func basis(c convention.Convention) geom.Basis {
	f, r, u := c.Basis()
	return geom.Basis{Forward: f, Right: r, Up: u}
}

// lookAt builds a validated pose at eye facing target.
func lookAt(eye, target r3.Vec, c convention.Convention) (geom.Pose, error) {
	q, err := convention.LookAt(eye, target, c)
	if err != nil {
		return geom.Pose{}, err
	}
	return geom.NewPose(eye, q)
}

// Spherical places count cameras on a Fibonacci lattice. Sample i has azimuth
// 2πi/φ and cos(polar) = 1 - 2(i+0.5)/count; the resulting elevation is
// clamped to the configured band. Every camera looks at the centre.
func Spherical(count int, p SphereParams) (Trajectory, error) {
	if count < 1 {
		return Trajectory{}, errs.Configf("spherical", "count must be positive, got %d", count)
	}
	if err := p.validate("spherical"); err != nil {
		return Trajectory{}, err
	}

	b := basis(p.Convention)
	poses := make([]geom.Pose, count)
	for i := range poses {
		t := (float64(i) + 0.5) / float64(count)
		elev := 90 - math.Acos(1-2*t)*180/math.Pi
		elev = math.Max(p.MinElevationDeg, math.Min(p.MaxElevationDeg, elev))
		az := 2 * math.Pi * float64(i) / Phi

		eye := r3.Add(p.Center, b.Spherical(p.Radius, az, (90-elev)*math.Pi/180))
		pose, err := lookAt(eye, p.Center, p.Convention)
		if err != nil {
			return Trajectory{}, err
		}
		poses[i] = pose
	}
	return Trajectory{Convention: p.Convention, Poses: poses}, nil
}

// OrbitalParams describes horizontal rings of cameras around a focus point.
type OrbitalParams struct {
	Center          r3.Vec
	Radius          float64
	Rings           int
	ViewsPerRing    int
	MinElevationDeg float64
	MaxElevationDeg float64
	StartAzimuthDeg float64
	// RadiusVariation scales ring k's radius by 1 + v·sin(kπ/Rings).
	RadiusVariation float64
	// Stagger offsets odd rings by half an azimuth step.
	Stagger    bool
	Convention convention.Convention
}

// ExpectedCount is Rings × ViewsPerRing.
func (p OrbitalParams) ExpectedCount() int { return p.Rings * p.ViewsPerRing }

func (p OrbitalParams) validate(op string) error {
	sp := SphereParams{Center: p.Center, Radius: p.Radius, MinElevationDeg: p.MinElevationDeg, MaxElevationDeg: p.MaxElevationDeg, Convention: p.Convention}
	if err := sp.validate(op); err != nil {
		return err
	}
	if p.Rings < 1 || p.ViewsPerRing < 1 {
		return errs.Configf(op, "need at least one ring and one view per ring, got %d x %d", p.Rings, p.ViewsPerRing)
	}
	if !(p.RadiusVariation > -1) || math.IsInf(p.RadiusVariation, 0) {
		return errs.Configf(op, "radius variation must be finite and above -1, got %g", p.RadiusVariation)
	}
	if math.IsNaN(p.StartAzimuthDeg) || math.IsInf(p.StartAzimuthDeg, 0) {
		return errs.Configf(op, "non-finite start azimuth")
	}
	return nil
}

// ringElevation spreads ring elevations evenly over the band; a single ring
// sits at its midpoint.
func (p OrbitalParams) ringElevation(ring int) float64 {
	if p.Rings == 1 {
		return (p.MinElevationDeg + p.MaxElevationDeg) / 2
	}
	step := (p.MaxElevationDeg - p.MinElevationDeg) / float64(p.Rings-1)
	return p.MinElevationDeg + step*float64(ring)
}

// Orbital generates Rings rings of ViewsPerRing cameras, ring by ring.
func Orbital(p OrbitalParams) (Trajectory, error) {
	if err := p.validate("orbital"); err != nil {
		return Trajectory{}, err
	}

	b := basis(p.Convention)
	step := 360 / float64(p.ViewsPerRing)
	poses := make([]geom.Pose, 0, p.ExpectedCount())
	for ring := 0; ring < p.Rings; ring++ {
		elev := p.ringElevation(ring)
		radius := p.Radius * (1 + p.RadiusVariation*math.Sin(float64(ring)*math.Pi/float64(p.Rings)))
		offset := p.StartAzimuthDeg
		if p.Stagger && ring%2 == 1 {
			offset += step / 2
		}
		for v := 0; v < p.ViewsPerRing; v++ {
			eye := r3.Add(p.Center, b.SphericalDeg(radius, offset+float64(v)*step, elev))
			pose, err := lookAt(eye, p.Center, p.Convention)
			if err != nil {
				return Trajectory{}, err
			}
			poses = append(poses, pose)
		}
	}
	return Trajectory{Convention: p.Convention, Poses: poses}, nil
}

// HemisphereMaxElevationDeg caps Hemisphere rings short of the zenith.
const HemisphereMaxElevationDeg = 85

// Hemisphere is Orbital with the elevation band clamped to [0, 85] degrees.
func Hemisphere(p OrbitalParams) (Trajectory, error) {
	p.MinElevationDeg = math.Max(0, p.MinElevationDeg)
	p.MaxElevationDeg = math.Min(HemisphereMaxElevationDeg, p.MaxElevationDeg)
	return Orbital(p)
}

// DefaultSpiralTurns is the number of revolutions when SpiralParams.Turns is 0.
const DefaultSpiralTurns = 3

// SpiralParams describes a single descending spiral around a focus point.
type SpiralParams struct {
	Center          r3.Vec
	Radius          float64
	Count           int
	Turns           float64
	MinElevationDeg float64
	MaxElevationDeg float64
	StartAzimuthDeg float64
	// RadiusVariation scales the radius by 1 + v·sin(2πt) along the path.
	RadiusVariation float64
	Convention      convention.Convention
}

// Spiral sweeps elevation linearly from max to min while azimuth advances
// Turns full revolutions.
func Spiral(p SpiralParams) (Trajectory, error) {
	sp := SphereParams{Center: p.Center, Radius: p.Radius, MinElevationDeg: p.MinElevationDeg, MaxElevationDeg: p.MaxElevationDeg, Convention: p.Convention}
	if err := sp.validate("spiral"); err != nil {
		return Trajectory{}, err
	}
	if p.Count < 2 {
		return Trajectory{}, errs.Configf("spiral", "count must be at least 2, got %d", p.Count)
	}
	turns := p.Turns
	if turns == 0 {
		turns = DefaultSpiralTurns
	}
	if !(turns > 0) || math.IsInf(turns, 0) {
		return Trajectory{}, errs.Configf("spiral", "turns must be positive, got %g", p.Turns)
	}

	b := basis(p.Convention)
	span := p.MaxElevationDeg - p.MinElevationDeg
	poses := make([]geom.Pose, p.Count)
	for i := range poses {
		t := float64(i) / float64(p.Count-1)
		elev := p.MaxElevationDeg - t*span
		az := p.StartAzimuthDeg + t*360*turns
		radius := p.Radius * (1 + p.RadiusVariation*math.Sin(2*math.Pi*t))
		eye := r3.Add(p.Center, b.SphericalDeg(radius, az, elev))
		pose, err := lookAt(eye, p.Center, p.Convention)
		if err != nil {
			return Trajectory{}, err
		}
		poses[i] = pose
	}
	return Trajectory{Convention: p.Convention, Poses: poses}, nil
}
