package report

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/fsutil"
	"github.com/banshee-data/scenecapture/internal/monitoring"
)

const (
	summaryFile = "summary.html"
	scenesDir   = "scenes"
	histBins    = 10
)

// Result lists the files a report run wrote.
type Result struct {
	Summary string
	Plots   []string
}

type Reporter struct {
	fs  fsutil.FileSystem
	log *zap.SugaredLogger
}

func New(fsys fsutil.FileSystem, log *zap.SugaredLogger) *Reporter {
	return &Reporter{fs: fsys, log: monitoring.OrNop(log)}
}

// Write collects a summary from r and renders it under dir: summary.html and
// scenes/<scene name>.png for every scene.
func (rp *Reporter) Write(ctx context.Context, r dataset.Reader, dir string) (Result, error) {
	s, err := Collect(ctx, r)
	if err != nil {
		return Result{}, err
	}
	if err := rp.fs.MkdirAll(filepath.Join(dir, scenesDir), 0755); err != nil {
		return Result{}, fmt.Errorf("create report directory: %w", err)
	}

	var res Result
	page, err := RenderSummary(s)
	if err != nil {
		return res, fmt.Errorf("render summary: %w", err)
	}
	res.Summary = filepath.Join(dir, summaryFile)
	if err := rp.fs.WriteFile(res.Summary, page, 0644); err != nil {
		return res, fmt.Errorf("write summary: %w", err)
	}

	for i := range s.Scenes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sc := &s.Scenes[i]
		png, err := RenderTrajectory(sc)
		if err != nil {
			return res, fmt.Errorf("plot scene %s: %w", sc.Name, err)
		}
		name := filepath.Join(dir, scenesDir, plotName(sc)+".png")
		if err := rp.fs.WriteFile(name, png, 0644); err != nil {
			return res, fmt.Errorf("write %s: %w", name, err)
		}
		res.Plots = append(res.Plots, name)
	}
	rp.log.Infow("report written", "summary", res.Summary, "scenes", len(res.Plots))
	return res, nil
}

// plotName is the scene name when it is safe as a file name, else the token.
func plotName(sc *SceneSummary) string {
	if sc.Name == "" || sc.Name == "." || sc.Name == ".." || strings.ContainsAny(sc.Name, `/\`) {
		return sc.Token
	}
	return sc.Name
}

// RenderSummary returns the HTML page with the dataset-wide charts.
func RenderSummary(s *Summary) ([]byte, error) {
	visibility := charts.NewBar()
	visibility.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Annotations per visibility level"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	levels := make([]string, 0, len(s.Visibility))
	levelCounts := make([]opts.BarData, 0, len(s.Visibility))
	for _, v := range s.Visibility {
		levels = append(levels, v.Level)
		levelCounts = append(levelCounts, opts.BarData{Value: v.Count})
	}
	visibility.SetXAxis(levels).
		AddSeries("annotations", levelCounts,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	samples := charts.NewBar()
	samples.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Samples per scene", Subtitle: fmt.Sprintf("scenes=%d", len(s.Scenes))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	names := make([]string, 0, len(s.Scenes))
	sampleCounts := make([]opts.BarData, 0, len(s.Scenes))
	annCounts := make([]opts.BarData, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		names = append(names, sc.Name)
		sampleCounts = append(sampleCounts, opts.BarData{Value: sc.Samples})
		annCounts = append(annCounts, opts.BarData{Value: sc.Annotations})
	}
	samples.SetXAxis(names).
		AddSeries("samples", sampleCounts).
		AddSeries("annotations", annCounts)

	page := components.NewPage()
	page.AddCharts(
		visibility,
		samples,
		pointHistogram("Lidar points per annotation", s.LidarPoints),
		pointHistogram("Radar points per annotation", s.RadarPoints),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pointHistogram bins sorted point counts into histBins equal-width bins.
func pointHistogram(title string, sorted []float64) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("annotations=%d", len(sorted))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	labels, counts := histogram(sorted, histBins)
	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		data[i] = opts.BarData{Value: c}
	}
	bar.SetXAxis(labels).AddSeries("annotations", data)
	return bar
}

// histogram returns bin labels and counts for sorted non-negative values.
func histogram(sorted []float64, bins int) ([]string, []float64) {
	if len(sorted) == 0 {
		return nil, nil
	}
	upper := sorted[len(sorted)-1] + 1
	if upper < float64(bins) {
		upper = float64(bins)
	}
	dividers := floats.Span(make([]float64, bins+1), 0, upper)
	counts := stat.Histogram(nil, dividers, sorted, nil)
	labels := make([]string, bins)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.0f-%.0f", dividers[i], dividers[i+1])
	}
	return labels, counts
}

// RenderTrajectory plots the scene from above: the ego path as a line and
// every annotation centre as a point.
func RenderTrajectory(sc *SceneSummary) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - ego trajectory", sc.Name)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())
	if len(sc.Ego) == 0 && len(sc.Objects) == 0 {
		p.X.Min, p.X.Max = -1, 1
		p.Y.Min, p.Y.Max = -1, 1
	}

	if len(sc.Ego) > 0 {
		line, err := plotter.NewLine(xys(sc.Ego))
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		line.Width = vg.Points(2)
		p.Add(line)
		p.Legend.Add("ego", line)
	}
	if len(sc.Objects) > 0 {
		pts, err := plotter.NewScatter(xys(sc.Objects))
		if err != nil {
			return nil, err
		}
		pts.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		pts.GlyphStyle.Radius = vg.Points(2)
		pts.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(pts)
		p.Legend.Add("annotations", pts)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	w, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xys(pts []Point) plotter.XYs {
	out := make(plotter.XYs, len(pts))
	for i, p := range pts {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}
