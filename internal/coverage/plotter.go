package coverage

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Plotter records coverage passes during a planning run and renders them to
// PNG files once the run is over.
type Plotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	passes    []Pass
	last      *Report
}

// NewPlotter returns a disabled plotter. Call Start before sampling.
func NewPlotter() *Plotter {
	return &Plotter{}
}

// Start enables sampling and creates outputDir.
func (cp *Plotter) Start(outputDir string) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	cp.outputDir = outputDir
	cp.enabled = true
	cp.passes = nil
	cp.last = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce output files.
func (cp *Plotter) Stop() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.enabled = false
}

// Sample records one pass and keeps its report for the histogram.
func (cp *Plotter) Sample(pass Pass, r *Report) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.enabled {
		return
	}
	cp.passes = append(cp.passes, pass)
	if r != nil {
		cp.last = r
	}
}

// Passes returns a copy of the recorded passes.
func (cp *Plotter) Passes() []Pass {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return append([]Pass(nil), cp.passes...)
}

// GeneratePlots writes coverage_history.png and, when a report was sampled,
// coverage_histogram.png. It returns the number of files written.
func (cp *Plotter) GeneratePlots() (int, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(cp.passes) == 0 {
		return 0, nil
	}

	count := 0
	if err := cp.historyPlot(); err != nil {
		return count, err
	}
	count++

	if cp.last != nil {
		if err := histogramPlot(cp.last, filepath.Join(cp.outputDir, "coverage_histogram.png")); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (cp *Plotter) historyPlot() error {
	p := plot.New()
	p.Title.Text = "Coverage by pass"
	p.X.Label.Text = "Pass"
	p.Y.Label.Text = "Ratio"
	p.Y.Min, p.Y.Max = 0, 1

	ratio := make(plotter.XYs, len(cp.passes))
	well := make(plotter.XYs, len(cp.passes))
	for i, ps := range cp.passes {
		ratio[i] = plotter.XY{X: float64(ps.Index), Y: ps.Ratio}
		well[i] = plotter.XY{X: float64(ps.Index), Y: ps.WellCoveredRatio}
	}

	for _, s := range []struct {
		label string
		pts   plotter.XYs
		c     color.Color
	}{
		{"seen", ratio, color.RGBA{R: 49, G: 104, B: 142, A: 255}},
		{"well covered", well, color.RGBA{R: 53, G: 183, B: 121, A: 255}},
	} {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.c
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(cp.outputDir, "coverage_history.png")
	if err := p.Save(10*vg.Inch, 5*vg.Inch, file); err != nil {
		return fmt.Errorf("save history plot: %w", err)
	}
	return nil
}

func histogramPlot(r *Report, file string) error {
	vals := make(plotter.Values, len(r.Counts))
	for i, c := range r.Counts {
		vals[i] = float64(c)
	}
	bins := r.MaxCount() + 1
	if bins > 50 {
		bins = 50
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Voxel visibility (%d poses, %d^3 voxels)", r.Poses, r.Resolution)
	p.X.Label.Text = "Poses seeing voxel"
	p.Y.Label.Text = "Voxels"

	h, err := plotter.NewHist(vals, bins)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 62, G: 73, B: 137, A: 255}
	p.Add(h)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, file); err != nil {
		return fmt.Errorf("save histogram plot: %w", err)
	}
	return nil
}
