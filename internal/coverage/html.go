package coverage

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// WriteHTML renders an interactive coverage report: the pass history (when
// passes is non-empty), the visibility histogram and a heatmap of the middle
// z-slab.
func WriteHTML(w io.Writer, r *Report, passes []Pass) error {
	if r == nil {
		return fmt.Errorf("no coverage report to render")
	}
	page := components.NewPage()
	page.PageTitle = "Capture coverage"

	if len(passes) > 0 {
		page.AddCharts(historyChart(passes))
	}
	page.AddCharts(histogramChart(r), sliceChart(r, r.Resolution/2))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render coverage report: %w", err)
	}
	return nil
}

func historyChart(passes []Pass) *charts.Line {
	x := make([]string, len(passes))
	seen := make([]opts.LineData, len(passes))
	well := make([]opts.LineData, len(passes))
	for i, p := range passes {
		x[i] = strconv.Itoa(p.Index)
		seen[i] = opts.LineData{Value: p.Ratio}
		well[i] = opts.LineData{Value: p.WellCoveredRatio}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Coverage by pass", Subtitle: fmt.Sprintf("%d poses after final pass", passes[len(passes)-1].Poses)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(x).
		AddSeries("seen", seen).
		AddSeries("well covered", well)
	return line
}

func histogramChart(r *Report) *charts.Bar {
	counts := make(map[int]int)
	for _, c := range r.Counts {
		counts[c]++
	}
	max := r.MaxCount()
	x := make([]string, max+1)
	y := make([]opts.BarData, max+1)
	for i := 0; i <= max; i++ {
		x[i] = strconv.Itoa(i)
		y[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Voxel visibility",
			Subtitle: fmt.Sprintf("poses=%d seen=%.1f%% well=%.1f%%", r.Poses, 100*r.Ratio, 100*r.WellCoveredRatio),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "poses", NameLocation: "middle", NameGap: 25}),
	)
	bar.SetXAxis(x).AddSeries("voxels", y)
	return bar
}

func sliceChart(r *Report, z int) *charts.Scatter {
	data := make([]opts.ScatterData, 0, r.Resolution*r.Resolution)
	for y, row := range r.Slice(z) {
		for x, c := range row {
			data = append(data, opts.ScatterData{Value: []interface{}{x, y, c}})
		}
	}
	max := r.MaxCount()
	if max == 0 {
		max = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "720px", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Visibility slice", Subtitle: fmt.Sprintf("z=%d of %d", z, r.Resolution)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: r.Resolution - 1, Name: "x"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: r.Resolution - 1, Name: "y"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(max),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("voxels", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}
