package depth

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/units"
)

func TestLinearizeBoundaries(t *testing.T) {
	const near, far = 10.0, 100000.0

	assert.Equal(t, near, Linearize(1.0, near, far, false))
	assert.Equal(t, far, Linearize(0.0, near, far, false))
	assert.Equal(t, near, Linearize(1.5, near, far, false))
	assert.Equal(t, far, Linearize(-0.2, near, far, false))

	assert.True(t, math.IsInf(Linearize(0, near, far, true), 1))
	assert.Equal(t, near, Linearize(1, near, far, true))
	assert.InDelta(t, 20.0, Linearize(0.5, near, far, true), 1e-12)
}

func TestLinearizeStrictlyDecreasing(t *testing.T) {
	const near, far = 10.0, 100000.0
	for _, unbounded := range []bool{false, true} {
		prev := math.Inf(1)
		for i := 1; i <= 10000; i++ {
			s := float64(i) / 10000
			d := Linearize(s, near, far, unbounded)
			assert.Less(t, d, prev, "sample %g unbounded=%v", s, unbounded)
			prev = d
		}
	}
}

func TestLinearizeInvertsProjection(t *testing.T) {
	const near, far = 10.0, 5000.0
	for _, d := range []float64{10, 11, 50, 333.3, 1000, 4999} {
		s := near * (far - d) / (d * (far - near))
		assert.InDelta(t, d, Linearize(s, near, far, false), 1e-9*d)
	}
}

func TestReverseRoundTrip(t *testing.T) {
	const near, far = 10.0, 100000.0
	assert.Equal(t, 1.0, Reverse(near, near, far, false))
	assert.Equal(t, 1.0, Reverse(1, near, far, false))
	assert.Equal(t, 0.0, Reverse(far, near, far, false))
	assert.Equal(t, 0.0, Reverse(math.Inf(1), near, far, true))
	for _, unbounded := range []bool{false, true} {
		for _, d := range []float64{12, 150, 2500, 99000} {
			s := Reverse(d, near, far, unbounded)
			assert.InDelta(t, d, Linearize(s, near, far, unbounded), 1e-9*d, "d=%g unbounded=%v", d, unbounded)
		}
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Params
		wantErr bool
	}{
		{"defaults", DefaultParams(), false},
		{"unbounded ignores far", Params{Near: 1, Unbounded: true}, false},
		{"zero near", Params{Near: 0, Far: 10}, true},
		{"far before near", Params{Near: 10, Far: 5}, true},
		{"infinite far", Params{Near: 10, Far: math.Inf(1)}, true},
		{"bad unit", Params{Near: 1, Far: 2, TargetUnits: "parsec"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLinearizeBufferOrder(t *testing.T) {
	raw := []float32{1, 0.5, 0.25, 0}
	p := Params{Near: 100, Far: 1000, SourceUnits: units.Centimeter, TargetUnits: units.Meter}

	buf, err := LinearizeBuffer(context.Background(), raw, 2, 2, p)
	require.NoError(t, err)
	assert.Equal(t, units.Meter, buf.Units)
	assert.InDelta(t, 1.0, buf.At(0, 0), 1e-6)
	assert.InDelta(t, 10.0, buf.At(1, 1), 1e-6)
	for i, s := range raw {
		want := Linearize(float64(s), 100, 1000, false) / 100
		assert.InDelta(t, want, buf.Data[i], 1e-5)
	}

	// Inversion runs after the unit conversion and swaps the range.
	p.Invert = true
	inv, err := LinearizeBuffer(context.Background(), raw, 2, 2, p)
	require.NoError(t, err)
	assert.True(t, inv.Inverted)
	for i := range raw {
		assert.InDelta(t, 1/buf.Data[i], inv.Data[i], 1e-6)
	}
	st, ist := buf.Stats(), inv.Stats()
	assert.InDelta(t, 1/st.Max, ist.Min, 1e-6)
	assert.InDelta(t, 1/st.Min, ist.Max, 1e-6)
}

func TestLinearizeBufferMarksFarPlane(t *testing.T) {
	raw := []float32{0, 0.5, 1, 0}
	buf, err := LinearizeBuffer(context.Background(), raw, 2, 2, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, float32(1000), buf.Far, "100000 cm far plane in metres")
	assert.True(t, buf.IsBackground(buf.Data[0]))
	assert.True(t, buf.IsBackground(buf.Data[3]))
	assert.False(t, buf.IsBackground(buf.Data[1]))
	assert.False(t, buf.IsBackground(buf.Data[2]))

	p := DefaultParams()
	p.Unbounded = true
	ub, err := LinearizeBuffer(context.Background(), raw, 2, 2, p)
	require.NoError(t, err)
	assert.Zero(t, ub.Far)
	assert.True(t, ub.IsBackground(ub.Data[0]), "unbounded miss is +Inf")
	assert.False(t, ub.IsBackground(ub.Data[1]))
}

func TestLinearizeBufferInvertSkipsTinyValues(t *testing.T) {
	// 1 micrometre near plane: values below InvertEpsilon stay as they are.
	p := Params{Near: 1e-5, Far: 1e-3, Invert: true}
	buf, err := LinearizeBuffer(context.Background(), []float32{1}, 1, 1, p)
	require.NoError(t, err)
	assert.InDelta(t, 1e-5, buf.Data[0], 1e-9)
}

func TestLinearizeBufferErrors(t *testing.T) {
	ctx := context.Background()
	_, err := LinearizeBuffer(ctx, []float32{0.5, float32(math.NaN())}, 2, 1, DefaultParams())
	assert.ErrorIs(t, err, errs.ErrConversion)

	_, err = LinearizeBuffer(ctx, []float32{0.5}, 2, 1, DefaultParams())
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = LinearizeBuffer(cancelled, make([]float32, 4), 2, 2, DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDisplayCopyLeavesStoredDataLinear(t *testing.T) {
	buf := &Buffer{Width: 3, Height: 1, Data: []float32{1, 2, 3}, Units: units.Meter}
	disp := buf.DisplayCopy(2.2)

	assert.Equal(t, []float32{1, 2, 3}, buf.Data)
	assert.InDelta(t, 0, disp[0], 1e-7)
	assert.InDelta(t, math.Pow(0.5, 1/2.2), disp[1], 1e-6)
	assert.InDelta(t, 1, disp[2], 1e-7)

	lin := buf.DisplayCopy(0)
	assert.InDelta(t, 0.5, lin[1], 1e-7)
}

func TestBufferValidate(t *testing.T) {
	good := &Buffer{Width: 2, Height: 2, Data: []float32{1, 2, 3, 4}, Units: units.Meter}
	ok, warnings := good.Validate()
	assert.True(t, ok)
	assert.Empty(t, warnings)

	nan := &Buffer{Width: 2, Height: 1, Data: []float32{float32(math.NaN()), 1}, Units: units.Meter}
	ok, warnings = nan.Validate()
	assert.False(t, ok)
	assert.NotEmpty(t, warnings)

	flatFar := &Buffer{Width: 2, Height: 1, Data: []float32{2000, 2000.01}, Units: units.Meter}
	ok, warnings = flatFar.Validate()
	assert.True(t, ok)
	assert.Len(t, warnings, 2)

	// Infinite values, >5% non-positive and a single valid sample (zero range).
	mostlyZero := &Buffer{Width: 4, Height: 1, Data: []float32{0, 0, 1, float32(math.Inf(1))}, Units: units.Meter}
	ok, warnings = mostlyZero.Validate()
	assert.True(t, ok)
	assert.Len(t, warnings, 3)

	bad := &Buffer{Width: 3, Height: 1, Data: []float32{1}}
	ok, _ = bad.Validate()
	assert.False(t, ok)
}
