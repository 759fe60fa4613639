package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/errs"
)

// PoleThreshold is the |forward·up| above which LookAt swaps its reference up
// axis for the fallback axis.
const PoleThreshold = 0.999

// LookAt returns the camera-to-world rotation of a camera at eye looking at
// target, expressed in a right-handed frame whose camera axes are x right,
// y down and z forward. up is the world up direction and fallback is used in
// its place when the view is within PoleThreshold of vertical.
func LookAt(eye, target, up, fallback r3.Vec) (quat.Number, error) {
	d := r3.Sub(target, eye)
	n := r3.Norm(d)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{}, errs.Conversionf("look-at", "eye %v and target %v give no view direction", eye, target)
	}
	forward := r3.Scale(1/n, d)

	ref := r3.Unit(up)
	if math.Abs(r3.Dot(forward, ref)) > PoleThreshold {
		ref = r3.Unit(fallback)
	}
	right := r3.Cross(forward, ref)
	rn := r3.Norm(right)
	if rn == 0 {
		return quat.Number{}, errs.Conversionf("look-at", "reference axis %v parallel to view direction", ref)
	}
	right = r3.Scale(1/rn, right)
	down := r3.Cross(forward, right)

	return QuatFromMatrix(MatrixFromColumns(right, down, forward)), nil
}

// Basis names the horizontal and vertical directions used to place cameras on
// a sphere. Forward and Right span the horizontal plane; Up is vertical.
type Basis struct {
	Forward r3.Vec
	Right   r3.Vec
	Up      r3.Vec
}

// Spherical returns the offset at the given distance for an azimuth measured
// from Forward towards Right and a polar angle measured from Up, both in radians.
func (b Basis) Spherical(distance, azimuth, polar float64) r3.Vec {
	s, c := math.Sincos(polar)
	sa, ca := math.Sincos(azimuth)
	v := r3.Scale(s*ca, b.Forward)
	v = r3.Add(v, r3.Scale(s*sa, b.Right))
	v = r3.Add(v, r3.Scale(c, b.Up))
	return r3.Scale(distance, v)
}

// SphericalDeg is Spherical with azimuth and elevation in degrees, elevation
// measured up from the horizontal plane.
func (b Basis) SphericalDeg(distance, azimuthDeg, elevationDeg float64) r3.Vec {
	return b.Spherical(distance, azimuthDeg*math.Pi/180, (90-elevationDeg)*math.Pi/180)
}

// Centroid returns the mean of pts, or the zero vector when pts is empty.
func Centroid(pts []r3.Vec) r3.Vec {
	if len(pts) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range pts {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(pts)), sum)
}

// Bounds returns the axis-aligned box enclosing pts.
func Bounds(pts []r3.Vec) r3.Box {
	if len(pts) == 0 {
		return r3.Box{}
	}
	b := r3.Box{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
		b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	}
	return b
}
