// Package convention converts poses, directions and camera intrinsics between
// coordinate conventions.
//
// A Convention describes how its axes land on the canonical frame, which is the
// COLMAP/OpenCV frame: x right, y down, z forward, right-handed, metres, pixel
// rows counted from the top. The same axis map applies to world coordinates
// and to camera-local axes, so a camera's forward direction in any convention
// is the convention's forward axis.
//
// All functions are pure. Conversions between two conventions A and B are exact
// similarity transforms: converting A to B and back reproduces the input up to
// floating-point round-off.
package convention

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/units"
)

// Handedness of a coordinate frame.
type Handedness int

const (
	RightHanded Handedness = iota
	LeftHanded
)

func (h Handedness) String() string {
	if h == LeftHanded {
		return "left-handed"
	}
	return "right-handed"
}

// RowOrigin is where pixel row 0 sits in an image.
type RowOrigin int

const (
	TopLeft RowOrigin = iota
	BottomLeft
)

// SignedAxis says which canonical axis (0=x, 1=y, 2=z) a convention axis maps
// to, and with which sign.
type SignedAxis struct {
	Axis int
	Sign float64
}

// Convention is a coordinate convention descriptor.
type Convention struct {
	Name       string
	Handedness Handedness
	// Axes[i] is where this convention's axis i lands in the canonical frame.
	Axes      [3]SignedAxis
	Units     units.Length
	RowOrigin RowOrigin
}

// Presets.
var (
	COLMAP = Convention{
		Name:       "colmap",
		Handedness: RightHanded,
		Axes:       [3]SignedAxis{{0, 1}, {1, 1}, {2, 1}},
		Units:      units.Meter,
		RowOrigin:  TopLeft,
	}
	OpenCV = Convention{
		Name:       "opencv",
		Handedness: RightHanded,
		Axes:       [3]SignedAxis{{0, 1}, {1, 1}, {2, 1}},
		Units:      units.Meter,
		RowOrigin:  TopLeft,
	}
	// UE5 is x forward, y right, z up, in centimetres.
	UE5 = Convention{
		Name:       "ue5",
		Handedness: LeftHanded,
		Axes:       [3]SignedAxis{{2, 1}, {0, 1}, {1, -1}},
		Units:      units.Centimeter,
		RowOrigin:  TopLeft,
	}
	// OpenGL is x right, y up, z backwards, with image rows counted from the bottom.
	OpenGL = Convention{
		Name:       "opengl",
		Handedness: RightHanded,
		Axes:       [3]SignedAxis{{0, 1}, {1, -1}, {2, -1}},
		Units:      units.Meter,
		RowOrigin:  BottomLeft,
	}
	// Unity is x right, y up, z forward.
	Unity = Convention{
		Name:       "unity",
		Handedness: LeftHanded,
		Axes:       [3]SignedAxis{{0, 1}, {1, -1}, {2, 1}},
		Units:      units.Meter,
		RowOrigin:  TopLeft,
	}
)

// Presets lists the built-in conventions.
var Presets = []Convention{COLMAP, OpenCV, UE5, OpenGL, Unity}

// Lookup returns the preset with the given name.
func Lookup(name string) (Convention, error) {
	for _, c := range Presets {
		if c.Name == name {
			return c, nil
		}
	}
	return Convention{}, errs.Configf("convention", "unknown convention %q", name)
}

func (c Convention) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.Name, c.Handedness, c.Units)
}

// Validate checks that Axes is a signed permutation whose determinant agrees
// with Handedness, and that Units is known.
func (c Convention) Validate() error {
	var seen [3]bool
	for i, a := range c.Axes {
		if a.Axis < 0 || a.Axis > 2 || seen[a.Axis] {
			return errs.Configf("convention", "%s: axes are not a permutation", c.Name)
		}
		if a.Sign != 1 && a.Sign != -1 {
			return errs.Configf("convention", "%s: axis %d has sign %g, want +1 or -1", c.Name, i, a.Sign)
		}
		seen[a.Axis] = true
	}
	det := mat.Det(c.toCanonical())
	if (det > 0) != (c.Handedness == RightHanded) {
		return errs.Configf("convention", "%s: axis map determinant %g contradicts %s", c.Name, det, c.Handedness)
	}
	if !units.IsValid(c.Units) {
		return errs.Configf("convention", "%s: unknown unit %q (valid: %s)", c.Name, c.Units, units.ValidLengthsString())
	}
	return nil
}

// toCanonical returns M, the matrix taking this convention's coordinates to
// canonical coordinates (ignoring units).
func (c Convention) toCanonical() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for i, a := range c.Axes {
		m.Set(a.Axis, i, a.Sign)
	}
	return m
}

// fromCanonical applies M^-1 to a canonical vector. M is a signed
// permutation, so its inverse is its transpose.
func (c Convention) fromCanonical(v r3.Vec) r3.Vec {
	in := [3]float64{v.X, v.Y, v.Z}
	var out [3]float64
	for i, a := range c.Axes {
		out[i] = a.Sign * in[a.Axis]
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}
}

// ForwardAxis is the camera viewing direction in this convention.
func (c Convention) ForwardAxis() r3.Vec { return c.fromCanonical(r3.Vec{Z: 1}) }

// UpAxis is the camera and world up direction in this convention.
func (c Convention) UpAxis() r3.Vec { return c.fromCanonical(r3.Vec{Y: -1}) }

// RightAxis is the camera right direction in this convention.
func (c Convention) RightAxis() r3.Vec { return c.fromCanonical(r3.Vec{X: 1}) }

// Basis returns the forward/right/up triple used for spherical placement.
func (c Convention) Basis() (forward, right, up r3.Vec) {
	return c.ForwardAxis(), c.RightAxis(), c.UpAxis()
}
