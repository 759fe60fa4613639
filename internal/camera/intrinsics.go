package camera

import (
	"math"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/monitoring"
)

// FocalFromFOV returns the focal length in pixels that spans dim pixels with
// the given field of view in degrees.
func FocalFromFOV(dim int, fovDeg float64) float64 {
	return float64(dim) / 2 / math.Tan(fovDeg*math.Pi/360)
}

// FOVFromFocal is the inverse of FocalFromFOV.
func FOVFromFocal(dim int, focal float64) float64 {
	return 2 * math.Atan(float64(dim)/2/focal) * 180 / math.Pi
}

// FromFOV returns a centred PINHOLE model with square pixels and the given
// horizontal field of view.
func FromFOV(id uint32, width, height int, hfovDeg float64) (Model, error) {
	if hfovDeg <= 0 || hfovDeg >= 180 || math.IsNaN(hfovDeg) {
		return Model{}, errs.Configf("camera", "horizontal fov must be in (0, 180), got %g", hfovDeg)
	}
	f := FocalFromFOV(width, hfovDeg)
	return NewModel(id, Pinhole, width, height, []float64{f, f, float64(width) / 2, float64(height) / 2})
}

// FromSensor returns a centred PINHOLE model from a lens focal length and a
// physical sensor size, all in millimetres.
func FromSensor(id uint32, width, height int, focalMM, sensorWidthMM, sensorHeightMM float64) (Model, error) {
	if focalMM <= 0 || sensorWidthMM <= 0 || sensorHeightMM <= 0 {
		return Model{}, errs.Configf("camera", "focal length and sensor size must be positive")
	}
	fx := focalMM / sensorWidthMM * float64(width)
	fy := focalMM / sensorHeightMM * float64(height)
	return NewModel(id, Pinhole, width, height, []float64{fx, fy, float64(width) / 2, float64(height) / 2})
}

// Validate3DGS returns advisory warnings for intrinsics that tend to train
// poorly as Gaussian-splat input. An empty result means no concerns.
func Validate3DGS(m Model) []string {
	var w monitoring.Warnings

	if m.Width < 800 || m.Height < 600 {
		w.Addf("resolution %dx%d is below 800x600", m.Width, m.Height)
	}
	if m.Width > 4096 || m.Height > 4096 {
		w.Addf("resolution %dx%d exceeds 4096", m.Width, m.Height)
	}

	if hfov := m.HFOV(); hfov < 30 {
		w.Addf("horizontal fov %.1f deg is narrow (< 30)", hfov)
	} else if hfov > 120 {
		w.Addf("horizontal fov %.1f deg is wide (> 120)", hfov)
	}

	if a := m.Aspect(); a < 0.5 || a > 2.5 {
		w.Addf("aspect ratio %.2f is outside [0.5, 2.5]", a)
	}

	cx, cy := m.PrincipalPoint()
	if math.Abs(cx-float64(m.Width)/2) > 0.1*float64(m.Width) ||
		math.Abs(cy-float64(m.Height)/2) > 0.1*float64(m.Height) {
		w.Addf("principal point (%.1f, %.1f) is more than 10%% off centre", cx, cy)
	}

	fx, fy := m.Focal()
	if math.Abs(fx/fy-1) > 0.01 {
		w.Addf("non-square pixels: fx/fy = %.4f", fx/fy)
	}
	return w.List()
}
