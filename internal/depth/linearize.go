// Package depth converts reversed, non-linear depth samples into metric linear
// distances and writes the results in training-friendly formats.
//
// Samples follow the reversed convention: 1 is the near plane and 0 the far
// plane. Processing always runs in the same order: linearize, convert units,
// then optionally invert. Gamma remapping is only ever applied to a separate
// display copy (see DisplayCopy); stored buffers stay linear.
package depth

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/units"
)

// InvertEpsilon is the smallest distance that Invert will reciprocate.
const InvertEpsilon = 1e-4

// Default clip planes, in source units.
const (
	DefaultNear = 10.0
	DefaultFar  = 100000.0
)

// Linearize converts a reversed-depth sample to a distance in the units of
// near and far. The bounded mapping is the inverse of the reversed projection
// s = near(far-d) / (d(far-near)), so distance falls strictly from far to near
// as the sample rises from 0 to 1. With unbounded set, far is ignored and a
// sample at or below zero maps to +Inf.
func Linearize(sample, near, far float64, unbounded bool) float64 {
	if sample >= 1 {
		return near
	}
	if sample <= 0 {
		if unbounded {
			return math.Inf(1)
		}
		return far
	}
	if unbounded {
		return near / sample
	}
	return far * near / (near + sample*(far-near))
}

// Reverse is the reversed-depth projection that Linearize inverts. Distances
// at or inside near give 1; at or beyond far (or +Inf) give 0.
func Reverse(distance, near, far float64, unbounded bool) float64 {
	if distance <= near {
		return 1
	}
	if math.IsInf(distance, 1) || (!unbounded && distance >= far) {
		return 0
	}
	if unbounded {
		return near / distance
	}
	return near * (far - distance) / (distance * (far - near))
}

// Params configures buffer linearization.
type Params struct {
	Near      float64
	Far       float64
	Unbounded bool
	// SourceUnits is the unit of Near/Far. TargetUnits is the unit of the output.
	SourceUnits units.Length
	TargetUnits units.Length
	// Invert stores 1/d instead of d.
	Invert bool
}

// DefaultParams returns the UE-style defaults: clip planes in centimetres,
// output in metres.
func DefaultParams() Params {
	return Params{
		Near:        DefaultNear,
		Far:         DefaultFar,
		SourceUnits: units.Centimeter,
		TargetUnits: units.Meter,
	}
}

// Validate checks the clip planes and units.
func (p Params) Validate() error {
	if !(p.Near > 0) || math.IsInf(p.Near, 0) {
		return errs.Configf("depth", "near plane must be positive and finite, got %g", p.Near)
	}
	if !p.Unbounded && (!(p.Far > p.Near) || math.IsInf(p.Far, 0)) {
		return errs.Configf("depth", "far plane must be finite and beyond near (%g), got %g", p.Near, p.Far)
	}
	if p.SourceUnits != "" && !units.IsValid(p.SourceUnits) {
		return errs.Configf("depth", "unknown source unit %q", p.SourceUnits)
	}
	if p.TargetUnits != "" && !units.IsValid(p.TargetUnits) {
		return errs.Configf("depth", "unknown target unit %q", p.TargetUnits)
	}
	return nil
}

// Buffer is a row-major linear depth image.
type Buffer struct {
	Width    int
	Height   int
	Data     []float32
	Units    units.Length
	Inverted bool
	// Far is the far plane in Units. Samples at or beyond it hit nothing.
	// Zero means the buffer carries no far plane.
	Far float32
}

// IsBackground reports whether a linear distance is a miss: non-finite, or at
// or beyond the far plane.
func (b *Buffer) IsBackground(d float32) bool {
	if math.IsInf(float64(d), 0) || math.IsNaN(float64(d)) {
		return true
	}
	return b.Far > 0 && d >= b.Far
}

// At returns the value at pixel (x, y).
func (b *Buffer) At(x, y int) float32 {
	return b.Data[y*b.Width+x]
}

// LinearizeBuffer converts a raw reversed-depth image into a linear Buffer.
// The context is checked once per row. A NaN sample is a conversion error.
func LinearizeBuffer(ctx context.Context, raw []float32, width, height int, p Params) (*Buffer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 || len(raw) != width*height {
		return nil, errs.Configf("depth", "buffer of %d samples does not match %dx%d", len(raw), width, height)
	}

	scale := units.Scale(p.SourceUnits, p.TargetUnits)
	out := &Buffer{
		Width:    width,
		Height:   height,
		Data:     make([]float32, len(raw)),
		Units:    p.TargetUnits,
		Inverted: p.Invert,
	}
	if out.Units == "" {
		out.Units = p.SourceUnits
	}
	if !p.Unbounded && !p.Invert {
		out.Far = float32(p.Far * scale)
	}

	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := raw[y*width : (y+1)*width]
		dst := out.Data[y*width : (y+1)*width]
		for x, s := range row {
			if math.IsNaN(float64(s)) {
				return nil, errs.Conversionf("depth", "NaN sample at (%d, %d)", x, y)
			}
			d := Linearize(float64(s), p.Near, p.Far, p.Unbounded) * scale
			if p.Invert && d > InvertEpsilon {
				d = 1 / d
			}
			dst[x] = float32(d)
		}
	}
	return out, nil
}

// Stats summarises the finite, positive samples of a buffer.
type Stats struct {
	Min, Max, Mean float64
	Valid          int
	NonPositive    int
	Infinite       int
	NaN            int
}

// Stats scans the buffer.
func (b *Buffer) Stats() Stats {
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range b.Data {
		d := float64(v)
		switch {
		case math.IsNaN(d):
			s.NaN++
		case math.IsInf(d, 0):
			s.Infinite++
		case d <= 0:
			s.NonPositive++
		default:
			s.Valid++
			sum += d
			s.Min = math.Min(s.Min, d)
			s.Max = math.Max(s.Max, d)
		}
	}
	if s.Valid == 0 {
		s.Min, s.Max = 0, 0
		return s
	}
	s.Mean = sum / float64(s.Valid)
	return s
}

// DisplayCopy returns the buffer normalized to [0, 1] over its finite range
// and remapped by 1/gamma, for visualization only. Non-finite samples map to 1.
// A gamma <= 0 leaves values linear. The receiver is not modified.
func (b *Buffer) DisplayCopy(gamma float64) []float32 {
	st := b.Stats()
	rng := st.Max - st.Min
	if rng <= 0 {
		rng = 1
	}
	out := make([]float32, len(b.Data))
	for i, v := range b.Data {
		d := float64(v)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			out[i] = 1
			continue
		}
		n := math.Max(0, math.Min(1, (d-st.Min)/rng))
		if gamma > 0 {
			n = math.Pow(n, 1/gamma)
		}
		out[i] = float32(n)
	}
	return out
}

// Validate reports whether the buffer is usable as training input. NaN
// samples make it invalid; everything else produces advisory warnings.
func (b *Buffer) Validate() (bool, []string) {
	var warnings []string
	if b.Width <= 0 || b.Height <= 0 || len(b.Data) != b.Width*b.Height {
		return false, []string{"buffer dimensions do not match data length"}
	}
	st := b.Stats()
	ok := true
	if st.NaN > 0 {
		warnings = append(warnings, fmt.Sprintf("%d NaN values in depth data", st.NaN))
		ok = false
	}
	if st.Infinite > 0 {
		warnings = append(warnings, fmt.Sprintf("%d infinite values in depth data", st.Infinite))
	}
	if pct := 100 * float64(st.NonPositive) / float64(len(b.Data)); pct > 5 {
		warnings = append(warnings, fmt.Sprintf("%.1f%% of depth values are <= 0", pct))
	}
	metres := units.Scale(b.Units, units.Meter)
	if (st.Max-st.Min)*metres < 0.1 {
		warnings = append(warnings, "depth range is under 0.1 m; the scene may be flat")
	}
	if st.Max*metres > 1000 {
		warnings = append(warnings, "maximum depth exceeds 1 km; precision may suffer")
	}
	return ok, warnings
}
