// Package testutil provides shared test fixtures and numeric assertions.
//
// This package centralises the random pose generators and tolerance checks
// used by the conversion, trajectory and writer tests.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/geom"
)

// NewRand returns a deterministic source for fixtures.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// RandomQuat returns a uniformly distributed unit quaternion with a
// non-negative scalar part.
func RandomQuat(rng *rand.Rand) quat.Number {
	q := quat.Number{Real: rng.NormFloat64(), Imag: rng.NormFloat64(), Jmag: rng.NormFloat64(), Kmag: rng.NormFloat64()}
	return geom.Canonical(quat.Scale(1/quat.Abs(q), q))
}

// RandomVec returns a vector with components uniform in [-extent, extent).
func RandomVec(rng *rand.Rand, extent float64) r3.Vec {
	return r3.Vec{
		X: (2*rng.Float64() - 1) * extent,
		Y: (2*rng.Float64() - 1) * extent,
		Z: (2*rng.Float64() - 1) * extent,
	}
}

// RandomPose returns a pose inside a cube of half-width extent.
func RandomPose(rng *rand.Rand, extent float64) geom.Pose {
	return geom.Pose{Position: RandomVec(rng, extent), Rotation: RandomQuat(rng)}
}

// AssertVecNear fails when got differs from want by more than tol in any
// component.
func AssertVecNear(t testing.TB, want, got r3.Vec, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	d := r3.Sub(want, got)
	if math.Abs(d.X) > tol || math.Abs(d.Y) > tol || math.Abs(d.Z) > tol || !geom.IsFinite(got) {
		t.Errorf("vector = %v, want %v (tol %g) %v", got, want, tol, msgAndArgs)
	}
}

// AssertPoseNear fails when the positions differ by more than posTol or the
// rotations by more than angTol radians.
func AssertPoseNear(t testing.TB, want, got geom.Pose, posTol, angTol float64, msgAndArgs ...interface{}) {
	t.Helper()
	AssertVecNear(t, want.Position, got.Position, posTol, msgAndArgs...)
	if a := geom.AngleBetween(want.Rotation, got.Rotation); a > angTol || math.IsNaN(a) {
		t.Errorf("rotation differs by %g rad, want <= %g %v", a, angTol, msgAndArgs)
	}
}

// AssertUnitQuat fails when q is not unit length within geom.UnitTolerance.
func AssertUnitQuat(t testing.TB, q quat.Number, msgAndArgs ...interface{}) {
	t.Helper()
	if n := quat.Abs(q); math.Abs(n-1) > geom.UnitTolerance {
		t.Errorf("|q| = %.12g, want 1 %v", n, msgAndArgs)
	}
}
