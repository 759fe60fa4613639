package ply

import (
	"github.com/chewxy/math32"
)

// SHC0 is the degree-0 spherical-harmonic basis constant 1/(2*sqrt(pi)).
const SHC0 = 0.28209479177387814

// Initialisation defaults for splats seeded from a point cloud.
const (
	DefaultInitialOpacity = 0.1
	DefaultMinScale       = 1e-4
	spacingNeighbours     = 3
)

// ColorToSHDC maps 8-bit sRGB to the degree-0 SH coefficient.
func ColorToSHDC(c [3]uint8) [3]float32 {
	var out [3]float32
	for i, v := range c {
		out[i] = (float32(v)/255 - 0.5) / SHC0
	}
	return out
}

// SHDCToColor is the inverse of ColorToSHDC, clamped to [0, 255].
func SHDCToColor(sh [3]float32) [3]uint8 {
	var out [3]uint8
	for i, v := range sh {
		c := (v*SHC0 + 0.5) * 255
		out[i] = uint8(math32.Max(0, math32.Min(255, math32.Round(c))))
	}
	return out
}

// Logit maps an opacity in (0, 1) to the stored pre-sigmoid value.
func Logit(p float32) float32 {
	const eps = 1e-6
	p = math32.Max(eps, math32.Min(1-eps, p))
	return math32.Log(p / (1 - p))
}

// Sigmoid is the inverse of Logit.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// SeedParams controls SplatsFromPoints.
type SeedParams struct {
	// InitialOpacity is the activated opacity in (0, 1).
	InitialOpacity float32
	// MinScale floors the isotropic scale in metres.
	MinScale float32
}

func (p SeedParams) withDefaults() SeedParams {
	if p.InitialOpacity <= 0 || p.InitialOpacity >= 1 {
		p.InitialOpacity = DefaultInitialOpacity
	}
	if p.MinScale <= 0 {
		p.MinScale = DefaultMinScale
	}
	return p
}

// SplatsFromPoints seeds one isotropic splat per point. The scale is the
// log of the mean distance to the nearest neighbours, the rotation is the
// identity and higher-order SH coefficients are zero.
func SplatsFromPoints(pts []Point, params SeedParams) []Splat {
	params = params.withDefaults()
	spacing := neighbourSpacing(pts)
	opacity := Logit(params.InitialOpacity)

	splats := make([]Splat, len(pts))
	for i, p := range pts {
		s := math32.Log(math32.Max(params.MinScale, spacing[i]))
		splats[i] = Splat{
			Position: p.Position,
			Normal:   p.Normal,
			SHDC:     ColorToSHDC(p.Color),
			Opacity:  opacity,
			Scale:    [3]float32{s, s, s},
			Rotation: [4]float32{1, 0, 0, 0},
		}
	}
	return splats
}

type cell [3]int32

// neighbourSpacing returns, per point, the mean distance to its nearest
// neighbours found in the surrounding grid cells. Points with no neighbour
// in range fall back to the cloud's average spacing.
func neighbourSpacing(pts []Point) []float32 {
	out := make([]float32, len(pts))
	if len(pts) == 0 {
		return out
	}
	lo, hi := pts[0].Position, pts[0].Position
	for _, p := range pts[1:] {
		for j := 0; j < 3; j++ {
			lo[j] = math32.Min(lo[j], p.Position[j])
			hi[j] = math32.Max(hi[j], p.Position[j])
		}
	}
	n := float32(len(pts))
	extent := math32.Max(hi[0]-lo[0], math32.Max(hi[1]-lo[1], hi[2]-lo[2]))
	vol := float32(1)
	dims := 0
	for j := 0; j < 3; j++ {
		if d := hi[j] - lo[j]; d > extent*1e-3 {
			vol *= d
			dims++
		}
	}
	avg := float32(DefaultMinScale)
	if dims > 0 {
		avg = math32.Pow(vol/n, 1/float32(dims))
	}
	if len(pts) == 1 || !(avg > 0) || math32.IsInf(avg, 0) {
		for i := range out {
			out[i] = avg
		}
		return out
	}

	size := 2 * avg
	key := func(v [3]float32) cell {
		return cell{
			int32(math32.Floor((v[0] - lo[0]) / size)),
			int32(math32.Floor((v[1] - lo[1]) / size)),
			int32(math32.Floor((v[2] - lo[2]) / size)),
		}
	}
	grid := make(map[cell][]int32, len(pts))
	for i, p := range pts {
		k := key(p.Position)
		grid[k] = append(grid[k], int32(i))
	}

	var best [spacingNeighbours]float32
	for i, p := range pts {
		found := 0
		for j := range best {
			best[j] = math32.Inf(1)
		}
		c := key(p.Position)
		for dx := int32(-1); dx <= 1; dx++ {
			for dy := int32(-1); dy <= 1; dy++ {
				for dz := int32(-1); dz <= 1; dz++ {
					for _, o := range grid[cell{c[0] + dx, c[1] + dy, c[2] + dz}] {
						if int(o) == i {
							continue
						}
						q := pts[o].Position
						d := math32.Sqrt(sq(p.Position[0]-q[0]) + sq(p.Position[1]-q[1]) + sq(p.Position[2]-q[2]))
						found++
						// Insert into the sorted list of the closest distances.
						for k := range best {
							if d < best[k] {
								copy(best[k+1:], best[k:len(best)-1])
								best[k] = d
								break
							}
						}
					}
				}
			}
		}
		if found == 0 {
			out[i] = avg
			continue
		}
		m := min(found, spacingNeighbours)
		var sum float32
		for k := 0; k < m; k++ {
			sum += best[k]
		}
		out[i] = sum / float32(m)
	}
	return out
}

func sq(v float32) float32 { return v * v }
