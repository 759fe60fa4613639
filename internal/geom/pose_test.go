package geom

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/monitoring"
)

func randomQuat(rng *rand.Rand) quat.Number {
	q := quat.Number{Real: rng.NormFloat64(), Imag: rng.NormFloat64(), Jmag: rng.NormFloat64(), Kmag: rng.NormFloat64()}
	return quat.Scale(1/quat.Abs(q), q)
}

func TestNewPose(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()

	var logged int
	monitoring.SetLogger(func(string, ...interface{}) { logged++ })

	t.Run("unit rotation kept", func(t *testing.T) {
		p, err := NewPose(r3.Vec{X: 1}, quat.Number{Real: 1})
		require.NoError(t, err)
		assert.Equal(t, Identity, p.Rotation)
		assert.Equal(t, 0, logged)
	})

	t.Run("non-unit rotation renormalized and logged", func(t *testing.T) {
		p, err := NewPose(r3.Vec{}, quat.Number{Real: 2})
		require.NoError(t, err)
		assert.InDelta(t, 1, quat.Abs(p.Rotation), 1e-12)
		assert.Equal(t, 1, logged)
	})

	t.Run("negative scalar canonicalized", func(t *testing.T) {
		p, err := NewPose(r3.Vec{}, quat.Number{Real: -0.6, Imag: 0.8})
		require.NoError(t, err)
		assert.InDelta(t, 0.6, p.Rotation.Real, 1e-12)
		assert.InDelta(t, -0.8, p.Rotation.Imag, 1e-12)
	})

	t.Run("zero norm is a conversion error", func(t *testing.T) {
		_, err := NewPose(r3.Vec{}, quat.Number{})
		assert.ErrorIs(t, err, errs.ErrConversion)
	})

	t.Run("non-finite position is a conversion error", func(t *testing.T) {
		_, err := NewPose(r3.Vec{X: math.NaN()}, Identity)
		assert.ErrorIs(t, err, errs.ErrConversion)
		_, err = NewPose(r3.Vec{}, quat.Number{Real: math.Inf(1)})
		assert.ErrorIs(t, err, errs.ErrConversion)
	})
}

func TestMatrixRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		q := randomQuat(rng)
		got := QuatFromMatrix(RotationMatrix(q))
		assert.Less(t, AngleBetween(q, got), 1e-9)
		assert.GreaterOrEqual(t, got.Real, 0.0)
	}
}

func TestRotateMatchesMatrix(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		q := randomQuat(rng)
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		a := Rotate(q, v)
		b := MulVec(RotationMatrix(q), v)
		assert.InDelta(t, 0, r3.Norm(r3.Sub(a, b)), 1e-12)
	}
}

func TestLookAt(t *testing.T) {
	up := r3.Vec{Y: -1}
	fallback := r3.Vec{Z: 1}

	tests := []struct {
		name        string
		eye, target r3.Vec
	}{
		{"straight ahead", r3.Vec{}, r3.Vec{Z: 10}},
		{"from the side", r3.Vec{X: 5, Y: -2, Z: 1}, r3.Vec{}},
		{"from directly above", r3.Vec{Y: -10}, r3.Vec{}},
		{"from directly below", r3.Vec{Y: 10}, r3.Vec{}},
		{"nearly vertical", r3.Vec{X: 1e-4, Y: -10}, r3.Vec{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := LookAt(tt.eye, tt.target, up, fallback)
			require.NoError(t, err)
			assert.InDelta(t, 1, quat.Abs(q), 1e-9)

			want := r3.Unit(r3.Sub(tt.target, tt.eye))
			forward := Rotate(q, r3.Vec{Z: 1})
			assert.InDelta(t, 0, r3.Norm(r3.Sub(forward, want)), 1e-9)

			// Proper rotation: right x down == forward.
			right := Rotate(q, r3.Vec{X: 1})
			down := Rotate(q, r3.Vec{Y: 1})
			assert.InDelta(t, 0, r3.Norm(r3.Sub(r3.Cross(right, down), forward)), 1e-9)
		})
	}

	_, err := LookAt(r3.Vec{X: 1}, r3.Vec{X: 1}, up, fallback)
	assert.ErrorIs(t, err, errs.ErrConversion)
}

func TestBasisSpherical(t *testing.T) {
	b := Basis{Forward: r3.Vec{X: 1}, Right: r3.Vec{Y: 1}, Up: r3.Vec{Z: 1}}

	assert.InDelta(t, 0, r3.Norm(r3.Sub(b.SphericalDeg(2, 0, 0), r3.Vec{X: 2})), 1e-12)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(b.SphericalDeg(2, 90, 0), r3.Vec{Y: 2})), 1e-12)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(b.SphericalDeg(2, 0, 90), r3.Vec{Z: 2})), 1e-12)
	assert.InDelta(t, 3, r3.Norm(b.Spherical(3, 1.1, 0.4)), 1e-12)
}

func TestCentroidAndBounds(t *testing.T) {
	pts := []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: -1, Y: 0, Z: 5}, {X: 3, Y: -4, Z: 1}}
	c := Centroid(pts)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(c, r3.Vec{X: 1, Y: -2.0 / 3, Z: 3})), 1e-12)
	assert.Equal(t, r3.Box{Min: r3.Vec{X: -1, Y: -4, Z: 1}, Max: r3.Vec{X: 3, Y: 2, Z: 5}}, Bounds(pts))
	assert.Equal(t, r3.Vec{}, Centroid(nil))
}

func TestAngleBetween(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		q := randomQuat(rng)
		assert.Less(t, AngleBetween(q, q), 1e-12, "identical")
		assert.Less(t, AngleBetween(q, quat.Scale(-1, q)), 1e-12, "double cover")
	}
	half := math.Pi / 8
	q := quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
	assert.InDelta(t, math.Pi/4, AngleBetween(Identity, q), 1e-12)
	assert.InDelta(t, math.Pi/4, AngleBetween(q, Identity), 1e-12)
}
