// Package report renders per-frame charts of a playback run.
package report

import (
	"fmt"
	"image/color"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Sample is one frame of a run.
type Sample struct {
	Index   int
	Points  int
	LoadMS  float64
	Skipped bool
}

// Run is the data a chart is drawn from.
type Run struct {
	RunID   string
	Source  string
	Samples []Sample
}

// RunChartHTML writes an interactive page with point count and load time
// per frame.
func RunChartHTML(w io.Writer, run Run) error {
	x := make([]string, len(run.Samples))
	points := make([]opts.LineData, len(run.Samples))
	loads := make([]opts.LineData, len(run.Samples))
	for i, s := range run.Samples {
		x[i] = strconv.Itoa(s.Index)
		if s.Skipped {
			points[i] = opts.LineData{Value: nil}
			loads[i] = opts.LineData{Value: nil}
			continue
		}
		points[i] = opts.LineData{Value: s.Points}
		loads[i] = opts.LineData{Value: s.LoadMS}
	}

	pointsChart := charts.NewLine()
	pointsChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Playback run " + run.RunID, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Points per frame", Subtitle: fmt.Sprintf("run=%s source=%s frames=%d", run.RunID, run.Source, len(run.Samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Points"}),
	)
	pointsChart.SetXAxis(x).AddSeries("points", points)

	loadChart := charts.NewLine()
	loadChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Load time per frame"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Load (ms)"}),
	)
	loadChart.SetXAxis(x).AddSeries("load_ms", loads)

	page := components.NewPage()
	page.AddCharts(pointsChart, loadChart)
	return page.Render(w)
}

// RunChartPNG writes a static line chart of point count per frame. Skipped
// frames are marked on the X axis.
func RunChartPNG(w io.Writer, run Run, width, height vg.Length) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - points per frame", run.RunID)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Points"
	p.Add(plotter.NewGrid())

	shown := make(plotter.XYs, 0, len(run.Samples))
	var skipped plotter.XYs
	for _, s := range run.Samples {
		if s.Skipped {
			skipped = append(skipped, plotter.XY{X: float64(s.Index), Y: 0})
			continue
		}
		shown = append(shown, plotter.XY{X: float64(s.Index), Y: float64(s.Points)})
	}

	if len(shown) > 0 {
		line, err := plotter.NewLine(shown)
		if err != nil {
			return err
		}
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("points", line)
	}
	if len(skipped) > 0 {
		sc, err := plotter.NewScatter(skipped)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add("skipped", sc)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
