// Package geom holds the rigid-body primitives shared by the planner, the
// convention converter and the dataset writers: camera poses, quaternion and
// rotation-matrix conversion, and look-at orientation.
//
// Vectors are gonum r3.Vec values and rotations are gonum quat.Number values
// in scalar-first form (Real is w).
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/monitoring"
)

// UnitTolerance is the allowed deviation of a rotation quaternion's norm from 1.
const UnitTolerance = 1e-6

// Identity is the identity rotation.
var Identity = quat.Number{Real: 1}

// Pose is a camera-to-world rigid transform. Position is the camera centre in
// world coordinates and Rotation maps camera-local axes to world axes.
type Pose struct {
	Position r3.Vec
	Rotation quat.Number
}

// NewPose validates and normalizes a pose. Non-finite components and
// zero-norm rotations are conversion errors. A rotation whose norm is off by
// more than UnitTolerance is renormalized and the fix is logged.
func NewPose(position r3.Vec, rotation quat.Number) (Pose, error) {
	if !finiteVec(position) {
		return Pose{}, errs.Conversionf("pose", "non-finite position %v", position)
	}
	q, err := NormalizeQuat(rotation)
	if err != nil {
		return Pose{}, err
	}
	return Pose{Position: position, Rotation: Canonical(q)}, nil
}

// NormalizeQuat returns q scaled to unit length.
func NormalizeQuat(q quat.Number) (quat.Number, error) {
	if !finiteQuat(q) {
		return quat.Number{}, errs.Conversionf("quaternion", "non-finite component in %v", q)
	}
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{}, errs.Conversionf("quaternion", "zero-norm rotation")
	}
	if math.Abs(n-1) > UnitTolerance {
		monitoring.Logf("geom: renormalized rotation quaternion with norm %.9g", n)
	}
	return quat.Scale(1/n, q), nil
}

// Canonical returns the representative of q with a non-negative scalar part.
func Canonical(q quat.Number) quat.Number {
	if q.Real < 0 {
		return quat.Scale(-1, q)
	}
	return q
}

// Rotate applies the rotation q to v. q must be a unit quaternion.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Inverse returns the world-to-camera rotation of a unit camera-to-world rotation.
func Inverse(q quat.Number) quat.Number {
	return quat.Conj(q)
}

// AngleBetween returns the rotation angle in radians separating the unit
// quaternions a and b. The half-angle form stays accurate for nearly equal
// rotations, where acos of the dot product loses precision.
func AngleBetween(a, b quat.Number) float64 {
	if a.Real*b.Real+a.Imag*b.Imag+a.Jmag*b.Jmag+a.Kmag*b.Kmag < 0 {
		b = quat.Scale(-1, b)
	}
	return 4 * math.Atan2(quat.Abs(quat.Sub(a, b)), quat.Abs(quat.Add(a, b)))
}

// RotationMatrix returns the 3x3 rotation matrix of a unit quaternion.
func RotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// QuatFromMatrix converts a proper rotation matrix to a canonical unit quaternion.
func QuatFromMatrix(m mat.Matrix) quat.Number {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var q quat.Number
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return Canonical(quat.Scale(1/quat.Abs(q), q))
}

// MatrixFromColumns builds a 3x3 matrix whose columns are a, b and c.
func MatrixFromColumns(a, b, c r3.Vec) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a.X, b.X, c.X,
		a.Y, b.Y, c.Y,
		a.Z, b.Z, c.Z,
	})
}

// MulVec multiplies a 3x3 matrix by v.
func MulVec(m mat.Matrix, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// IsFinite reports whether every component of v is finite.
func IsFinite(v r3.Vec) bool { return finiteVec(v) }

func finiteVec(v r3.Vec) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finiteQuat(q quat.Number) bool {
	return finite(q.Real) && finite(q.Imag) && finite(q.Jmag) && finite(q.Kmag)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
