package camera

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatcapture/internal/errs"
)

func TestFocalFOVInverse(t *testing.T) {
	for _, fov := range []float64{30, 60, 90, 110, 150} {
		f := FocalFromFOV(1920, fov)
		assert.InDelta(t, fov, FOVFromFocal(1920, f), 1e-9)
	}
	assert.InDelta(t, 960, FocalFromFOV(1920, 90), 1e-9)
}

func TestFromFOV(t *testing.T) {
	m, err := FromFOV(1, 1920, 1080, 90)
	require.NoError(t, err)
	assert.Equal(t, Pinhole, m.Kind)
	assert.InDelta(t, 90, m.HFOV(), 1e-9)
	want := 2 * math.Atan(540.0/960.0) * 180 / math.Pi
	assert.InDelta(t, want, m.VFOV(), 1e-9)
	assert.Empty(t, Validate3DGS(m))

	_, err = FromFOV(1, 640, 480, 180)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestFromSensor(t *testing.T) {
	// 35mm lens on a full-frame 36x24 sensor.
	m, err := FromSensor(1, 3600, 2400, 35, 36, 24)
	require.NoError(t, err)
	fx, fy := m.Focal()
	assert.InDelta(t, 3500, fx, 1e-9)
	assert.InDelta(t, 3500, fy, 1e-9)

	_, err = FromSensor(1, 100, 100, 0, 36, 24)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestValidate3DGS(t *testing.T) {
	tests := []struct {
		name   string
		model  Model
		expect int
	}{
		{"low resolution", mustPinhole(t, 640, 480, 500, 500, 320, 240), 1},
		{"too large", mustPinhole(t, 8192, 4096, 4000, 4000, 4096, 2048), 1},
		{"narrow fov", mustPinhole(t, 1920, 1080, 5000, 5000, 960, 540), 1},
		{"wide fov and off centre", mustPinhole(t, 1920, 1080, 300, 300, 100, 540), 2},
		{"extreme aspect", mustPinhole(t, 4000, 1000, 2000, 2000, 2000, 500), 1},
		{"non-square pixels", mustPinhole(t, 1920, 1080, 1000, 1100, 960, 540), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Validate3DGS(tt.model), tt.expect)
		})
	}
}

func mustPinhole(t *testing.T, w, h int, fx, fy, cx, cy float64) Model {
	t.Helper()
	m, err := NewModel(1, Pinhole, w, h, []float64{fx, fy, cx, cy})
	require.NoError(t, err)
	return m
}
