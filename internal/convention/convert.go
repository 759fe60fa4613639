package convention

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
	"github.com/banshee-data/splatcapture/internal/units"
)

// change is the basis change from one convention to another.
type change struct {
	b     *mat.Dense // B = M_to^T * M_from
	scale float64
}

func newChange(from, to Convention) (change, error) {
	if err := from.Validate(); err != nil {
		return change{}, err
	}
	if err := to.Validate(); err != nil {
		return change{}, err
	}
	var b mat.Dense
	b.Mul(to.toCanonical().T(), from.toCanonical())
	return change{b: &b, scale: units.Scale(from.Units, to.Units)}, nil
}

func (c change) position(v r3.Vec) r3.Vec {
	return r3.Scale(c.scale, geom.MulVec(c.b, v))
}

// rotation conjugates R by the basis change: R' = B * R * B^-1.
func (c change) rotation(q quat.Number) quat.Number {
	var tmp, out mat.Dense
	tmp.Mul(c.b, geom.RotationMatrix(q))
	out.Mul(&tmp, c.b.T())
	return geom.QuatFromMatrix(&out)
}

// ConvertPose re-expresses a camera-to-world pose from one convention in
// another. The position is permuted, signed and rescaled; the rotation is
// conjugated by the basis change and returned with a non-negative scalar part.
func ConvertPose(p geom.Pose, from, to Convention) (geom.Pose, error) {
	c, err := newChange(from, to)
	if err != nil {
		return geom.Pose{}, err
	}
	if !geom.IsFinite(p.Position) {
		return geom.Pose{}, errs.Conversionf("convert pose", "non-finite position %v", p.Position)
	}
	q, err := geom.NormalizeQuat(p.Rotation)
	if err != nil {
		return geom.Pose{}, err
	}
	return geom.Pose{Position: c.position(p.Position), Rotation: c.rotation(q)}, nil
}

// ConvertPoses converts a slice of poses, stopping at the first failure.
func ConvertPoses(poses []geom.Pose, from, to Convention) ([]geom.Pose, error) {
	c, err := newChange(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]geom.Pose, len(poses))
	for i, p := range poses {
		if !geom.IsFinite(p.Position) {
			return nil, errs.Conversionf("convert pose", "pose %d has non-finite position", i)
		}
		q, err := geom.NormalizeQuat(p.Rotation)
		if err != nil {
			return nil, err
		}
		out[i] = geom.Pose{Position: c.position(p.Position), Rotation: c.rotation(q)}
	}
	return out, nil
}

// ConvertPosition converts a point, applying the unit scale.
func ConvertPosition(v r3.Vec, from, to Convention) (r3.Vec, error) {
	c, err := newChange(from, to)
	if err != nil {
		return r3.Vec{}, err
	}
	return c.position(v), nil
}

// ConvertDirection converts a direction vector. Units do not apply.
func ConvertDirection(v r3.Vec, from, to Convention) (r3.Vec, error) {
	c, err := newChange(from, to)
	if err != nil {
		return r3.Vec{}, err
	}
	return geom.MulVec(c.b, v), nil
}

// ConvertRotation converts a camera-to-world rotation.
func ConvertRotation(q quat.Number, from, to Convention) (quat.Number, error) {
	c, err := newChange(from, to)
	if err != nil {
		return quat.Number{}, err
	}
	q, err = geom.NormalizeQuat(q)
	if err != nil {
		return quat.Number{}, err
	}
	return c.rotation(q), nil
}

// ConvertIntrinsics re-expresses a camera model for the target convention.
// Focal lengths and the principal point are pixel quantities and only change
// when the two conventions count pixel rows from opposite edges.
func ConvertIntrinsics(m camera.Model, from, to Convention) (camera.Model, error) {
	if err := m.Validate(); err != nil {
		return camera.Model{}, err
	}
	if from.RowOrigin == to.RowOrigin {
		return m.Clone(), nil
	}
	return m.FlipRows(), nil
}

// LookAt returns the rotation of a camera at eye looking at target, with
// both points given in convention c. The reference up axis is c's up axis,
// replaced by c's forward axis near the poles.
func LookAt(eye, target r3.Vec, c Convention) (quat.Number, error) {
	toCanon, err := newChange(c, COLMAP)
	if err != nil {
		return quat.Number{}, err
	}
	q, err := geom.LookAt(
		geom.MulVec(toCanon.b, eye),
		geom.MulVec(toCanon.b, target),
		r3.Vec{Y: -1},
		r3.Vec{Z: 1},
	)
	if err != nil {
		return quat.Number{}, err
	}
	back, err := newChange(COLMAP, c)
	if err != nil {
		return quat.Number{}, err
	}
	return back.rotation(q), nil
}

// Forward returns the world-space viewing direction of a pose in convention c.
func Forward(p geom.Pose, c Convention) r3.Vec {
	return geom.Rotate(p.Rotation, c.ForwardAxis())
}

// Up returns the world-space up direction of a pose in convention c.
func Up(p geom.Pose, c Convention) r3.Vec {
	return geom.Rotate(p.Rotation, c.UpAxis())
}

// Right returns the world-space right direction of a pose in convention c.
func Right(p geom.Pose, c Convention) r3.Vec {
	return geom.Rotate(p.Rotation, c.RightAxis())
}
