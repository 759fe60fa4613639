package trajectory

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
)

// SplineParams describes a camera path through keyframe positions.
type SplineParams struct {
	Keyframes []r3.Vec
	// Target, when set, is looked at from every sample. Otherwise cameras
	// face along the path.
	Target     *r3.Vec
	Convention convention.Convention
}

// Spline samples a uniform Catmull-Rom curve through the keyframes at count
// evenly spaced parameter values, including both end keyframes. Missing
// neighbours at the ends are taken as duplicates of the end keyframes.
func Spline(count int, p SplineParams) (Trajectory, error) {
	if err := p.Convention.Validate(); err != nil {
		return Trajectory{}, err
	}
	if len(p.Keyframes) < 2 {
		return Trajectory{}, errs.Configf("spline", "need at least 2 keyframes, got %d", len(p.Keyframes))
	}
	if count < 2 {
		return Trajectory{}, errs.Configf("spline", "count must be at least 2, got %d", count)
	}
	for i, k := range p.Keyframes {
		if !geom.IsFinite(k) {
			return Trajectory{}, errs.Configf("spline", "keyframe %d is not finite", i)
		}
	}
	if p.Target != nil && !geom.IsFinite(*p.Target) {
		return Trajectory{}, errs.Configf("spline", "target is not finite")
	}

	segments := len(p.Keyframes) - 1
	poses := make([]geom.Pose, count)
	for i := range poses {
		u := float64(i) / float64(count-1) * float64(segments)
		seg := int(u)
		if seg >= segments {
			seg = segments - 1
		}
		s := u - float64(seg)
		p0, p1, p2, p3 := p.controlPoints(seg)
		pos := catmullRom(p0, p1, p2, p3, s)

		var target r3.Vec
		if p.Target != nil {
			target = *p.Target
		} else {
			tangent := catmullRomTangent(p0, p1, p2, p3, s)
			if r3.Norm(tangent) == 0 {
				tangent = r3.Sub(p2, p1)
			}
			if r3.Norm(tangent) == 0 {
				return Trajectory{}, errs.Configf("spline", "keyframes %d and %d coincide; path direction is undefined", seg, seg+1)
			}
			target = r3.Add(pos, tangent)
		}
		pose, err := lookAt(pos, target, p.Convention)
		if err != nil {
			return Trajectory{}, err
		}
		poses[i] = pose
	}
	return Trajectory{Convention: p.Convention, Poses: poses}, nil
}

func (p SplineParams) controlPoints(seg int) (p0, p1, p2, p3 r3.Vec) {
	k := p.Keyframes
	p1, p2 = k[seg], k[seg+1]
	p0, p3 = p1, p2
	if seg > 0 {
		p0 = k[seg-1]
	}
	if seg+2 < len(k) {
		p3 = k[seg+2]
	}
	return p0, p1, p2, p3
}

// catmullRom evaluates the uniform Catmull-Rom segment between p1 and p2.
func catmullRom(p0, p1, p2, p3 r3.Vec, s float64) r3.Vec {
	s2, s3 := s*s, s*s*s
	v := r3.Scale(2, p1)
	v = r3.Add(v, r3.Scale(s, r3.Sub(p2, p0)))
	v = r3.Add(v, r3.Scale(s2, r3.Add(r3.Sub(r3.Scale(2, p0), r3.Scale(5, p1)), r3.Sub(r3.Scale(4, p2), p3))))
	v = r3.Add(v, r3.Scale(s3, r3.Add(r3.Sub(r3.Scale(3, p1), p0), r3.Sub(p3, r3.Scale(3, p2)))))
	return r3.Scale(0.5, v)
}

func catmullRomTangent(p0, p1, p2, p3 r3.Vec, s float64) r3.Vec {
	v := r3.Sub(p2, p0)
	v = r3.Add(v, r3.Scale(2*s, r3.Add(r3.Sub(r3.Scale(2, p0), r3.Scale(5, p1)), r3.Sub(r3.Scale(4, p2), p3))))
	v = r3.Add(v, r3.Scale(3*s*s, r3.Add(r3.Sub(r3.Scale(3, p1), p0), r3.Sub(p3, r3.Scale(3, p2)))))
	return r3.Scale(0.5, v)
}
