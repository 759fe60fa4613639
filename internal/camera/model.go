// Package camera defines pixel-space camera models using the COLMAP model
// enumeration and parameter layouts, plus helpers for deriving intrinsics
// from field of view or physical sensor size.
package camera

import (
	"fmt"
	"math"

	"github.com/banshee-data/splatcapture/internal/errs"
)

// Kind is a camera model identifier. Values match the COLMAP model ids written
// to cameras.bin.
type Kind int32

// Supported camera models.
const (
	SimplePinhole Kind = 0 // f, cx, cy
	Pinhole       Kind = 1 // fx, fy, cx, cy
	SimpleRadial  Kind = 2 // f, cx, cy, k
	Radial        Kind = 3 // f, cx, cy, k1, k2
	OpenCV        Kind = 4 // fx, fy, cx, cy, k1, k2, p1, p2
	FullOpenCV    Kind = 6 // fx, fy, cx, cy, k1, k2, p1, p2, k3, k4, k5, k6
)

type kindInfo struct {
	name   string
	params int
	// indexes into Params
	fx, fy, cx, cy int
	p1             int // -1 when the model has no tangential terms
}

var kinds = map[Kind]kindInfo{
	SimplePinhole: {"SIMPLE_PINHOLE", 3, 0, 0, 1, 2, -1},
	Pinhole:       {"PINHOLE", 4, 0, 1, 2, 3, -1},
	SimpleRadial:  {"SIMPLE_RADIAL", 4, 0, 0, 1, 2, -1},
	Radial:        {"RADIAL", 5, 0, 0, 1, 2, -1},
	OpenCV:        {"OPENCV", 8, 0, 1, 2, 3, 6},
	FullOpenCV:    {"FULL_OPENCV", 12, 0, 1, 2, 3, 6},
}

// Kinds lists the supported models in id order.
var Kinds = []Kind{SimplePinhole, Pinhole, SimpleRadial, Radial, OpenCV, FullOpenCV}

// String returns the COLMAP model name.
func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// Valid reports whether k is a supported model.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// NumParams returns the parameter count for k, or 0 when k is unsupported.
func (k Kind) NumParams() int {
	return kinds[k].params
}

// ParseKind looks up a model by its COLMAP name.
func ParseKind(name string) (Kind, error) {
	for k, info := range kinds {
		if info.name == name {
			return k, nil
		}
	}
	return 0, errs.Configf("camera", "unknown camera model %q", name)
}

// Model is a camera model: a unique id, an image size in pixels, and the
// model-specific parameter vector.
type Model struct {
	ID     uint32
	Kind   Kind
	Width  int
	Height int
	Params []float64
}

// NewModel validates and returns a Model. Params is copied.
func NewModel(id uint32, kind Kind, width, height int, params []float64) (Model, error) {
	m := Model{ID: id, Kind: kind, Width: width, Height: height, Params: append([]float64(nil), params...)}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Validate checks the invariants of m.
func (m Model) Validate() error {
	if m.ID < 1 {
		return errs.Configf("camera", "id must be >= 1, got %d", m.ID)
	}
	if !m.Kind.Valid() {
		return errs.Configf("camera", "unsupported model id %d", int32(m.Kind))
	}
	if m.Width <= 0 || m.Height <= 0 {
		return errs.Configf("camera", "image size must be positive, got %dx%d", m.Width, m.Height)
	}
	if want := m.Kind.NumParams(); len(m.Params) != want {
		return errs.Configf("camera", "%s takes %d params, got %d", m.Kind, want, len(m.Params))
	}
	for i, p := range m.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return errs.Conversionf("camera", "param %d of camera %d is not finite", i, m.ID)
		}
	}
	return nil
}

// Clone returns a deep copy of m.
func (m Model) Clone() Model {
	m.Params = append([]float64(nil), m.Params...)
	return m
}

// Focal returns the focal lengths in pixels. Single-focal models return f twice.
func (m Model) Focal() (fx, fy float64) {
	info := kinds[m.Kind]
	return m.Params[info.fx], m.Params[info.fy]
}

// PrincipalPoint returns cx, cy in pixels.
func (m Model) PrincipalPoint() (cx, cy float64) {
	info := kinds[m.Kind]
	return m.Params[info.cx], m.Params[info.cy]
}

// WithPrincipalPoint returns a copy of m with the principal point replaced.
func (m Model) WithPrincipalPoint(cx, cy float64) Model {
	out := m.Clone()
	info := kinds[m.Kind]
	out.Params[info.cx] = cx
	out.Params[info.cy] = cy
	return out
}

// tangentialIndex returns the index of p1, or -1.
func (m Model) tangentialIndex() int {
	return kinds[m.Kind].p1
}

// FlipRows returns m re-expressed for an image whose pixel rows run the other
// way: cy becomes Height-cy and the p1 tangential coefficient changes sign.
func (m Model) FlipRows() Model {
	cx, cy := m.PrincipalPoint()
	out := m.WithPrincipalPoint(cx, float64(m.Height)-cy)
	if i := out.tangentialIndex(); i >= 0 {
		out.Params[i] = -out.Params[i]
	}
	return out
}

// HFOV returns the horizontal field of view in degrees.
func (m Model) HFOV() float64 {
	fx, _ := m.Focal()
	return FOVFromFocal(m.Width, fx)
}

// VFOV returns the vertical field of view in degrees.
func (m Model) VFOV() float64 {
	_, fy := m.Focal()
	return FOVFromFocal(m.Height, fy)
}

// Aspect returns width/height.
func (m Model) Aspect() float64 {
	return float64(m.Width) / float64(m.Height)
}
