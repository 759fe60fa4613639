package coverage

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Report holds per-voxel visibility counters and the derived ratios.
type Report struct {
	Resolution     int
	Volume         r3.Box
	Poses          int
	WellCoveredMin int
	// Counts is indexed by x + res*(y + res*z).
	Counts []int

	Covered          int
	WellCovered      int
	Ratio            float64
	WellCoveredRatio float64
}

func newReport(p Params, poses int) *Report {
	return &Report{
		Resolution:     p.Resolution,
		Volume:         p.Volume,
		Poses:          poses,
		WellCoveredMin: p.WellCoveredMin,
		Counts:         make([]int, p.Resolution*p.Resolution*p.Resolution),
	}
}

func (r *Report) summarize() {
	r.Covered, r.WellCovered = 0, 0
	for _, n := range r.Counts {
		if n > 0 {
			r.Covered++
		}
		if n >= r.WellCoveredMin {
			r.WellCovered++
		}
	}
	total := float64(len(r.Counts))
	r.Ratio = float64(r.Covered) / total
	r.WellCoveredRatio = float64(r.WellCovered) / total
}

// Index returns the Counts index of voxel (x, y, z).
func (r *Report) Index(x, y, z int) int {
	return x + r.Resolution*(y+r.Resolution*z)
}

// Coords is the inverse of Index.
func (r *Report) Coords(i int) (x, y, z int) {
	n := r.Resolution
	return i % n, (i / n) % n, i / (n * n)
}

// VoxelSize returns the edge lengths of one voxel.
func (r *Report) VoxelSize() r3.Vec {
	return r3.Scale(1/float64(r.Resolution), r3.Sub(r.Volume.Max, r.Volume.Min))
}

// VoxelCenter returns the world position of the centre of voxel (x, y, z).
func (r *Report) VoxelCenter(x, y, z int) r3.Vec {
	s := r.VoxelSize()
	return r3.Vec{
		X: r.Volume.Min.X + (float64(x)+0.5)*s.X,
		Y: r.Volume.Min.Y + (float64(y)+0.5)*s.Y,
		Z: r.Volume.Min.Z + (float64(z)+0.5)*s.Z,
	}
}

// RatioAt returns the fraction of voxels seen by at least min poses.
func (r *Report) RatioAt(min int) float64 {
	if len(r.Counts) == 0 {
		return 0
	}
	n := 0
	for _, c := range r.Counts {
		if c >= min {
			n++
		}
	}
	return float64(n) / float64(len(r.Counts))
}

// MaxCount returns the largest visibility counter.
func (r *Report) MaxCount() int {
	m := 0
	for _, c := range r.Counts {
		if c > m {
			m = c
		}
	}
	return m
}

// Histogram buckets voxel counters into bins of equal width covering
// [0, MaxCount]. Element i holds the number of voxels in bin i.
func (r *Report) Histogram(bins int) []int {
	if bins < 1 {
		bins = 1
	}
	h := make([]int, bins)
	width := float64(r.MaxCount()+1) / float64(bins)
	for _, c := range r.Counts {
		b := int(float64(c) / width)
		if b >= bins {
			b = bins - 1
		}
		h[b]++
	}
	return h
}

// UnderCovered returns the indexes of voxels seen by fewer than threshold poses.
func (r *Report) UnderCovered(threshold int) []int {
	var out []int
	for i, c := range r.Counts {
		if c < threshold {
			out = append(out, i)
		}
	}
	return out
}

// Region is a 6-connected cluster of under-covered voxels.
type Region struct {
	Centroid r3.Vec
	Voxels   int
	// MinCount is the lowest visibility counter inside the region.
	MinCount int
}

// Regions groups under-covered voxels into 6-connected clusters, largest
// first. Ties keep the order of the lowest voxel index.
func (r *Report) Regions(threshold int) []Region {
	n := r.Resolution
	seen := make([]bool, len(r.Counts))
	var regions []Region
	queue := make([]int, 0, 64)

	for start, c := range r.Counts {
		if seen[start] || c >= threshold {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)

		var sum r3.Vec
		reg := Region{MinCount: c}
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]

			x, y, z := r.Coords(i)
			sum = r3.Add(sum, r.VoxelCenter(x, y, z))
			reg.Voxels++
			if r.Counts[i] < reg.MinCount {
				reg.MinCount = r.Counts[i]
			}

			for _, d := range [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
				nx, ny, nz := x+d[0], y+d[1], z+d[2]
				if nx < 0 || ny < 0 || nz < 0 || nx >= n || ny >= n || nz >= n {
					continue
				}
				j := r.Index(nx, ny, nz)
				if !seen[j] && r.Counts[j] < threshold {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}
		reg.Centroid = r3.Scale(1/float64(reg.Voxels), sum)
		regions = append(regions, reg)
	}

	sort.SliceStable(regions, func(a, b int) bool {
		return regions[a].Voxels > regions[b].Voxels
	})
	return regions
}

// Slice returns the counters of the z-th horizontal slab as rows of x.
func (r *Report) Slice(z int) [][]int {
	out := make([][]int, r.Resolution)
	for y := range out {
		row := make([]int, r.Resolution)
		for x := range row {
			row[x] = r.Counts[r.Index(x, y, z)]
		}
		out[y] = row
	}
	return out
}

// Pass records one evaluation in an iterative planning run.
type Pass struct {
	Index            int
	Poses            int
	Added            int
	Ratio            float64
	WellCoveredRatio float64
}
