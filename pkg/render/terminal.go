package render

import (
	"fmt"
	"math"

	tm "github.com/buger/goterm"

	"github.com/vjranagit/benchdaq/pkg/storage"
	"github.com/vjranagit/benchdaq/pkg/types"
)

// TerminalOptions configures the text chart
type TerminalOptions struct {
	Width  int
	Height int
	// Tail limits the chart to the newest N samples of each series. 0 draws all.
	Tail int
}

// DefaultTerminalOptions returns default terminal chart options
func DefaultTerminalOptions() TerminalOptions {
	return TerminalOptions{Width: 100, Height: 20, Tail: 200}
}

// RenderTerminal draws the snapshot as a text line chart. The first column
// is the sample index; a series shorter than the longest repeats its last
// value so every row is complete.
func RenderTerminal(snap storage.Snapshot, opts TerminalOptions) (string, error) {
	defaults := DefaultTerminalOptions()
	if opts.Width <= 0 {
		opts.Width = defaults.Width
	}
	if opts.Height <= 0 {
		opts.Height = defaults.Height
	}

	var plotted []types.SeriesKey
	columns := make(map[types.SeriesKey][]float64)
	rows := 0
	for _, ss := range snap.Series {
		values := ss.Values()
		if opts.Tail > 0 && len(values) > opts.Tail {
			values = values[len(values)-opts.Tail:]
		}
		if len(values) == 0 {
			continue
		}
		plotted = append(plotted, ss.Key)
		columns[ss.Key] = values
		if len(values) > rows {
			rows = len(values)
		}
	}

	if len(plotted) == 0 {
		return "", ErrNoData
	}
	if rows < 2 {
		return "", fmt.Errorf("%w: need at least two samples", ErrNoData)
	}

	if lo, hi := valueRange(columns); hi <= lo {
		return fmt.Sprintf("all series flat at %g over %d samples\n", lo, rows), nil
	}

	data := new(tm.DataTable)
	data.AddColumn("Sample")
	for _, key := range plotted {
		data.AddColumn(string(key))
	}

	for i := 0; i < rows; i++ {
		row := make([]float64, 0, len(plotted)+1)
		row = append(row, float64(i))
		for _, key := range plotted {
			values := columns[key]
			if i < len(values) {
				row = append(row, values[i])
			} else {
				row = append(row, values[len(values)-1])
			}
		}
		data.AddRow(row...)
	}

	return draw(tm.NewLineChart(opts.Width, opts.Height), data)
}

func draw(c *tm.LineChart, data *tm.DataTable) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("failed to draw terminal chart: %v", rec)
		}
	}()
	return c.Draw(data), nil
}

func valueRange(columns map[types.SeriesKey][]float64) (lo, hi float64) {
	first := true
	for _, values := range columns {
		for _, v := range values {
			if first {
				lo, hi = v, v
				first = false
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}
