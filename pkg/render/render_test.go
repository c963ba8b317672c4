package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/vjranagit/benchdaq/pkg/storage"
	"github.com/vjranagit/benchdaq/pkg/types"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testSnapshot(values map[types.SeriesKey][]float64, order ...types.SeriesKey) storage.Snapshot {
	store := storage.NewStore(nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, key := range order {
		for i, v := range values[key] {
			store.Append(uint64(i+1), base.Add(time.Duration(i)*time.Second), []types.FieldPair{{Key: key, Value: v}})
		}
	}
	return store.Snapshot()
}

func TestParseXAxisMode(t *testing.T) {
	for in, want := range map[string]XAxisMode{"": XAxisIndex, "index": XAxisIndex, " Time ": XAxisTime} {
		got, err := ParseXAxisMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseXAxisMode("log")
	assert.Error(t, err)
}

func TestRenderPNGMultipleSeries(t *testing.T) {
	snap := testSnapshot(map[types.SeriesKey][]float64{
		"temp":    {23.5, 23.7, 23.6},
		"voltage": {5.01, 5.02},
	}, "temp", "voltage")

	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, snap, DefaultChartOptions()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestRenderPNGTimeAxis(t *testing.T) {
	snap := testSnapshot(map[types.SeriesKey][]float64{"t": {1, 2, 4}}, "t")
	opts := DefaultChartOptions()
	opts.XAxis = XAxisTime

	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, snap, opts))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestRenderPNGSingleFlatPoint(t *testing.T) {
	snap := testSnapshot(map[types.SeriesKey][]float64{"t": {0}}, "t")

	for _, mode := range []XAxisMode{XAxisIndex, XAxisTime} {
		opts := DefaultChartOptions()
		opts.XAxis = mode
		var buf bytes.Buffer
		require.NoError(t, RenderPNG(&buf, snap, opts), mode)
		assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic), mode)
	}
}

func TestRenderPNGNoData(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, RenderPNG(&buf, storage.Snapshot{}, DefaultChartOptions()), ErrNoData)

	store := storage.NewStore(nil)
	store.Register("idle")
	assert.ErrorIs(t, RenderPNG(&buf, store.Snapshot(), DefaultChartOptions()), ErrNoData)
}

func TestBuildChartSeriesPerKey(t *testing.T) {
	snap := testSnapshot(map[types.SeriesKey][]float64{
		"b": {1, 2},
		"a": {3, 4, 5},
	}, "b", "a")

	graph, err := buildChart(snap, ChartOptions{})
	require.NoError(t, err)

	require.Len(t, graph.Series, 2)
	assert.Equal(t, "b", graph.Series[0].GetName())
	assert.Equal(t, "a", graph.Series[1].GetName())
	assert.Len(t, graph.Elements, 1)
	assert.Equal(t, 1024, graph.Width)

	cs, ok := graph.Series[1].(chart.ContinuousSeries)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 1, 2}, cs.XValues)
	assert.Equal(t, []float64{3, 4, 5}, cs.YValues)
	assert.Nil(t, graph.YAxis.Range)
}

func TestBuildChartFlatRangeWidened(t *testing.T) {
	snap := testSnapshot(map[types.SeriesKey][]float64{"v": {5, 5, 5}}, "v")

	graph, err := buildChart(snap, ChartOptions{})
	require.NoError(t, err)

	r, ok := graph.YAxis.Range.(*chart.ContinuousRange)
	require.True(t, ok)
	assert.Less(t, r.Min, 5.0)
	assert.Greater(t, r.Max, 5.0)
}

func TestRenderTerminal(t *testing.T) {
	snap := testSnapshot(map[types.SeriesKey][]float64{
		"temp":    {1, 3, 2, 5},
		"voltage": {2, 2},
	}, "temp", "voltage")

	out, err := RenderTerminal(snap, DefaultTerminalOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestRenderTerminalEdgeCases(t *testing.T) {
	_, err := RenderTerminal(storage.Snapshot{}, TerminalOptions{})
	assert.ErrorIs(t, err, ErrNoData)

	single := testSnapshot(map[types.SeriesKey][]float64{"t": {1}}, "t")
	_, err = RenderTerminal(single, TerminalOptions{})
	assert.ErrorIs(t, err, ErrNoData)

	flat := testSnapshot(map[types.SeriesKey][]float64{"t": {7, 7, 7}}, "t")
	out, err := RenderTerminal(flat, TerminalOptions{})
	require.NoError(t, err)
	assert.Contains(t, out, "flat at 7")
}

func TestFrame(t *testing.T) {
	f := NewFrame()
	snap, at := f.Latest()
	assert.True(t, snap.Empty())
	assert.True(t, at.IsZero())

	f.Update(testSnapshot(map[types.SeriesKey][]float64{"a": {1}}, "a"))
	snap, at = f.Latest()
	assert.Equal(t, []types.SeriesKey{"a"}, snap.Keys())
	assert.False(t, at.IsZero())
	assert.Equal(t, uint64(1), f.Count())
}

func TestFrameChangedWakesOnUpdate(t *testing.T) {
	f := NewFrame()
	changed := f.Changed()

	select {
	case <-changed:
		t.Fatal("Changed fired before any update")
	default:
	}

	f.Update(testSnapshot(map[types.SeriesKey][]float64{"a": {1, 2}}, "a"))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Changed did not fire after update")
	}

	// Each update gets a fresh channel
	next := f.Changed()
	assert.NotEqual(t, changed, next)
	select {
	case <-next:
		t.Fatal("new Changed channel already closed")
	default:
	}
}
