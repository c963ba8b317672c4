// Package render turns series snapshots into charts.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/vjranagit/benchdaq/pkg/storage"
)

// ErrNoData is returned when a snapshot holds no samples to draw
var ErrNoData = errors.New("no data to render")

// XAxisMode selects what the x axis of a chart measures
type XAxisMode string

const (
	// XAxisIndex plots every series against its own sample index
	XAxisIndex XAxisMode = "index"
	// XAxisTime plots samples against their arrival time
	XAxisTime XAxisMode = "time"
)

// ParseXAxisMode accepts "index" or "time"; empty means index
func ParseXAxisMode(s string) (XAxisMode, error) {
	switch XAxisMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", XAxisIndex:
		return XAxisIndex, nil
	case XAxisTime:
		return XAxisTime, nil
	}
	return "", fmt.Errorf("invalid x axis mode %q", s)
}

// ChartOptions configures PNG rendering
type ChartOptions struct {
	Title  string
	Width  int
	Height int
	XAxis  XAxisMode
}

// DefaultChartOptions returns default chart options
func DefaultChartOptions() ChartOptions {
	return ChartOptions{
		Title:  "Live Data",
		Width:  1024,
		Height: 480,
		XAxis:  XAxisIndex,
	}
}

// RenderPNG draws one line per series, labelled by key, with auto-scaled axes
func RenderPNG(w io.Writer, snap storage.Snapshot, opts ChartOptions) error {
	graph, err := buildChart(snap, opts)
	if err != nil {
		return err
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// bounds tracks the extent of plotted values
type bounds struct {
	minX, maxX float64
	minY, maxY float64
	seen       bool
}

func (b *bounds) add(x, y float64) {
	if !b.seen {
		b.minX, b.maxX, b.minY, b.maxY = x, x, y, y
		b.seen = true
		return
	}
	b.minX = math.Min(b.minX, x)
	b.maxX = math.Max(b.maxX, x)
	b.minY = math.Min(b.minY, y)
	b.maxY = math.Max(b.maxY, y)
}

func buildChart(snap storage.Snapshot, opts ChartOptions) (*chart.Chart, error) {
	defaults := DefaultChartOptions()
	if opts.Width <= 0 {
		opts.Width = defaults.Width
	}
	if opts.Height <= 0 {
		opts.Height = defaults.Height
	}
	if opts.XAxis == "" {
		opts.XAxis = XAxisIndex
	}

	var (
		series []chart.Series
		b      bounds
	)
	for i, ss := range snap.Series {
		if len(ss.Samples) == 0 {
			continue
		}

		style := chart.Style{
			StrokeColor: chart.GetDefaultColor(i),
			StrokeWidth: 2,
		}
		ys := ss.Values()

		if opts.XAxis == XAxisTime {
			xs := make([]time.Time, len(ss.Samples))
			for j, sample := range ss.Samples {
				xs[j] = sample.Time
				b.add(chart.TimeToFloat64(sample.Time), sample.Value)
			}
			// Pad to at least two X values for go-chart
			if len(xs) == 1 {
				xs = append(xs, xs[0].Add(time.Second))
				ys = append(ys, ys[0])
				style.DotWidth = 4
				style.DotColor = style.StrokeColor
			}
			series = append(series, chart.TimeSeries{Name: string(ss.Key), XValues: xs, YValues: ys, Style: style})
			continue
		}

		xs := make([]float64, len(ys))
		for j := range ys {
			xs[j] = float64(j)
			b.add(xs[j], ys[j])
		}
		if len(xs) == 1 {
			xs = append(xs, 1)
			ys = append(ys, ys[0])
			style.DotWidth = 4
			style.DotColor = style.StrokeColor
		}
		series = append(series, chart.ContinuousSeries{Name: string(ss.Key), XValues: xs, YValues: ys, Style: style})
	}

	if len(series) == 0 {
		return nil, ErrNoData
	}

	graph := &chart.Chart{
		Title:      opts.Title,
		Width:      opts.Width,
		Height:     opts.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      xAxis(opts.XAxis, b),
		YAxis:      chart.YAxis{Name: "Value", Range: yRange(b)},
		Series:     series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(graph)}
	return graph, nil
}

func xAxis(mode XAxisMode, b bounds) chart.XAxis {
	if mode == XAxisTime {
		axis := chart.XAxis{
			Name:           "Time",
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04:05"),
		}
		// Every sample arrived in the same cycle
		if b.maxX <= b.minX {
			axis.Range = &chart.ContinuousRange{Min: b.minX, Max: b.minX + float64(time.Second)}
		}
		return axis
	}

	axis := chart.XAxis{Name: "Sample"}
	if b.maxX <= b.minX {
		axis.Range = &chart.ContinuousRange{Min: 0, Max: 1}
	}
	return axis
}

// yRange widens a flat value range so the axis is never zero-height
func yRange(b bounds) chart.Range {
	if b.maxY > b.minY {
		return nil
	}
	pad := math.Abs(b.minY) * 0.1
	if pad == 0 {
		pad = 1
	}
	return &chart.ContinuousRange{Min: b.minY - pad, Max: b.maxY + pad}
}
