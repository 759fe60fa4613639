package depth

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/camera"
)

// BackProject lifts every stride-th pixel of a planar depth buffer into
// camera-local points (x right, y down, z forward) using the pinhole part of
// the camera model. Lens distortion is ignored. Non-positive, background and
// inverted samples are skipped.
func BackProject(b *Buffer, m camera.Model, stride int) []r3.Vec {
	if b.Inverted || stride < 1 {
		return nil
	}
	pts := make([]r3.Vec, 0, (b.Width/stride+1)*(b.Height/stride+1))
	BackProjectEach(b, m, stride, func(_, _ int, p r3.Vec) {
		pts = append(pts, p)
	})
	return pts
}

// BackProjectEach is BackProject with a callback that also receives the
// camera-resolution pixel the sample maps to.
func BackProjectEach(b *Buffer, m camera.Model, stride int, fn func(px, py int, p r3.Vec)) {
	if b.Inverted || stride < 1 {
		return
	}
	fx, fy := m.Focal()
	cx, cy := m.PrincipalPoint()
	sx := float64(m.Width) / float64(b.Width)
	sy := float64(m.Height) / float64(b.Height)

	for y := stride / 2; y < b.Height; y += stride {
		for x := stride / 2; x < b.Width; x += stride {
			s := b.At(x, y)
			if s <= 0 || b.IsBackground(s) {
				continue
			}
			d := float64(s)
			u := (float64(x) + 0.5) * sx
			v := (float64(y) + 0.5) * sy
			fn(int(u), int(v), r3.Vec{X: (u - cx) / fx * d, Y: (v - cy) / fy * d, Z: d})
		}
	}
}
