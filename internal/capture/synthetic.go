package capture

import (
	"context"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/depth"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
	"github.com/banshee-data/splatcapture/internal/units"
)

// checkerCells is the number of checker squares per half turn of longitude.
const checkerCells = 8

// SyntheticRenderer ray-casts a single shaded sphere. Center and Radius are
// in the convention and units of each request. Depth samples are produced
// with the same reversed projection a real engine uses, so the output runs
// through the ordinary linearization path.
type SyntheticRenderer struct {
	Center r3.Vec
	Radius float64
	// Depth holds the clip planes and their units.
	Depth depth.Params
	// DepthScale divides the camera resolution for the depth buffer; 0 means 1.
	DepthScale int
	// NoColor skips the colour image.
	NoColor bool
}

// sceneView is a request resolved into COLMAP metres.
type sceneView struct {
	origin r3.Vec
	rot    quat.Number
	center r3.Vec
	radius float64
	fx, fy float64
	cx, cy float64
}

// Render implements Renderer.
func (s *SyntheticRenderer) Render(ctx context.Context, req Request) (RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return RenderResult{}, err
	}
	v, err := s.view(req)
	if err != nil {
		return RenderResult{}, err
	}
	res := RenderResult{Request: req}
	w, h := req.Camera.Width, req.Camera.Height

	if !s.NoColor {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			if err := ctx.Err(); err != nil {
				return RenderResult{}, err
			}
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, v.shade(float64(x)+0.5, float64(y)+0.5, h))
			}
		}
		res.Color = img
	}

	if req.Depth {
		if err := s.Depth.Validate(); err != nil {
			return RenderResult{}, err
		}
		scale := s.DepthScale
		if scale < 1 {
			scale = 1
		}
		dw, dh := w/scale, h/scale
		if dw < 1 || dh < 1 {
			return RenderResult{}, errs.Configf("synthetic", "depth scale %d leaves an empty %dx%d buffer", scale, dw, dh)
		}
		toSource := units.Scale(units.Meter, s.Depth.SourceUnits)
		raw := make([]float32, dw*dh)
		for y := 0; y < dh; y++ {
			if err := ctx.Err(); err != nil {
				return RenderResult{}, err
			}
			for x := 0; x < dw; x++ {
				u := (float64(x) + 0.5) * float64(scale)
				yy := (float64(y) + 0.5) * float64(scale)
				t, _, ok := v.hit(u, yy)
				if !ok {
					continue
				}
				raw[y*dw+x] = float32(depth.Reverse(t*toSource, s.Depth.Near, s.Depth.Far, s.Depth.Unbounded))
			}
		}
		res.RawDepth, res.DepthWidth, res.DepthHeight = raw, dw, dh
	}
	return res, nil
}

func (s *SyntheticRenderer) view(req Request) (sceneView, error) {
	if err := req.Camera.Validate(); err != nil {
		return sceneView{}, err
	}
	if !(s.Radius > 0) || math.IsInf(s.Radius, 0) {
		return sceneView{}, errs.Configf("synthetic", "sphere radius must be positive, got %g", s.Radius)
	}
	pose, err := convention.ConvertPose(req.Pose, req.Convention, convention.COLMAP)
	if err != nil {
		return sceneView{}, err
	}
	center, err := convention.ConvertPosition(s.Center, req.Convention, convention.COLMAP)
	if err != nil {
		return sceneView{}, err
	}
	cam, err := convention.ConvertIntrinsics(req.Camera, req.Convention, convention.COLMAP)
	if err != nil {
		return sceneView{}, err
	}
	v := sceneView{
		origin: pose.Position,
		rot:    pose.Rotation,
		center: center,
		radius: s.Radius * units.MetersPer(req.Convention.Units),
	}
	v.fx, v.fy = cam.Focal()
	v.cx, v.cy = cam.PrincipalPoint()
	return v, nil
}

// hit intersects the ray through pixel (u, v) with the sphere. The returned
// t is the z-depth in metres because the camera-space ray has unit z.
func (v *sceneView) hit(u, y float64) (float64, r3.Vec, bool) {
	dir := geom.Rotate(v.rot, r3.Vec{X: (u - v.cx) / v.fx, Y: (y - v.cy) / v.fy, Z: 1})
	oc := r3.Sub(v.origin, v.center)
	a := r3.Dot(dir, dir)
	b := 2 * r3.Dot(dir, oc)
	c := r3.Dot(oc, oc) - v.radius*v.radius
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, r3.Vec{}, false
	}
	sq := math.Sqrt(disc)
	t := (-b - sq) / (2 * a)
	if t <= 0 {
		t = (-b + sq) / (2 * a)
	}
	if t <= 0 {
		return 0, r3.Vec{}, false
	}
	p := r3.Add(v.origin, r3.Scale(t, dir))
	return t, r3.Unit(r3.Sub(p, v.center)), true
}

// light points from the surface towards the light: up, left and towards
// the viewer in COLMAP axes.
var light = r3.Unit(r3.Vec{X: -0.4, Y: -1, Z: -0.6})

func (v *sceneView) shade(u, y float64, height int) color.RGBA {
	_, n, ok := v.hit(u, y)
	if !ok {
		g := uint8(160 + 80*y/float64(height))
		return color.RGBA{R: g / 2, G: g * 3 / 4, B: g, A: 255}
	}
	lambert := 0.25 + 0.75*math.Max(0, r3.Dot(n, light))
	lat := math.Asin(math.Max(-1, math.Min(1, -n.Y)))
	lon := math.Atan2(n.X, n.Z)
	cell := int(math.Floor(lon/(math.Pi/checkerCells))) + int(math.Floor(lat/(math.Pi/checkerCells)))
	base := [3]float64{220, 120, 40}
	if cell%2 == 0 {
		base = [3]float64{60, 140, 200}
	}
	return color.RGBA{
		R: uint8(base[0] * lambert),
		G: uint8(base[1] * lambert),
		B: uint8(base[2] * lambert),
		A: 255,
	}
}
