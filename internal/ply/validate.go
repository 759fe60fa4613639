package ply

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/banshee-data/splatcapture/internal/errs"
)

// Splat count thresholds for ValidateSplats warnings.
const (
	LowSplatCount  = 1000
	HighSplatCount = 10_000_000
)

// Log-space scale bounds outside which a splat is flagged.
const (
	MaxLogScale = 10
	MinLogScale = -20
)

func finite(v float32) bool { return !math32.IsNaN(v) && !math32.IsInf(v, 0) }

// RotationTolerance is how far a splat rotation's norm may stray from 1.
const RotationTolerance = 0.01

func allFinite(vs ...float32) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}

func unitRotation(r [4]float32) bool {
	n := math32.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2] + r[3]*r[3])
	return math32.Abs(n-1) <= RotationTolerance
}

// CheckSplats enforces the splat invariants a writer relies on: every
// written value is finite and every rotation is a unit quaternion. The
// first offending splat is reported as a conversion error.
func CheckSplats(splats []Splat, o Options) error {
	for i := range splats {
		s := &splats[i]
		ok := allFinite(s.Position[:]...) && allFinite(s.SHDC[:]...) && allFinite(s.SHRest[:]...) &&
			finite(s.Opacity) && allFinite(s.Scale[:]...) && allFinite(s.Rotation[:]...)
		if ok && o.Normals {
			ok = allFinite(s.Normal[:]...)
		}
		if !ok {
			return errs.Conversionf("write splats", "splat %d has a non-finite value", i)
		}
		if !unitRotation(s.Rotation) {
			return errs.Conversionf("write splats", "splat %d rotation %v is not a unit quaternion", i, s.Rotation)
		}
	}
	return nil
}

// ValidateSplats reports suspicious splats. It returns false only when the
// array is empty or some position is not finite; everything else is a
// warning.
func ValidateSplats(splats []Splat) (bool, []string) {
	if len(splats) == 0 {
		return false, []string{"Empty splat array"}
	}
	var badPos, badOpacity, badScale, badRot int
	for i := range splats {
		s := &splats[i]
		if !allFinite(s.Position[:]...) {
			badPos++
		}
		if !finite(s.Opacity) {
			badOpacity++
		}
		for _, v := range s.Scale {
			if !finite(v) || v > MaxLogScale || v < MinLogScale {
				badScale++
				break
			}
		}
		if !unitRotation(s.Rotation) {
			badRot++
		}
	}

	var warnings []string
	if badPos > 0 {
		warnings = append(warnings, fmt.Sprintf("%d splats have invalid positions", badPos))
	}
	if badOpacity > 0 {
		warnings = append(warnings, fmt.Sprintf("%d splats have invalid opacity values", badOpacity))
	}
	if badScale > 0 {
		warnings = append(warnings, fmt.Sprintf("%d splats have extreme scale values", badScale))
	}
	if badRot > 0 {
		warnings = append(warnings, fmt.Sprintf("%d splats have non-unit rotation quaternions", badRot))
	}
	switch {
	case len(splats) < LowSplatCount:
		warnings = append(warnings, fmt.Sprintf("Low splat count (%d). 10K-1M typical for quality scenes.", len(splats)))
	case len(splats) > HighSplatCount:
		warnings = append(warnings, fmt.Sprintf("Very high splat count (%d). May impact performance.", len(splats)))
	}
	return badPos == 0, warnings
}
