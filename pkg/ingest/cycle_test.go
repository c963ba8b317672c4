package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/benchdaq/internal/logging"
	"github.com/vjranagit/benchdaq/pkg/metrics"
	"github.com/vjranagit/benchdaq/pkg/storage"
	"github.com/vjranagit/benchdaq/pkg/types"
)

// fakeTransport hands out one scripted batch of lines per drain
type fakeTransport struct {
	mu       sync.Mutex
	batches  [][]string
	readErr  error
	writeErr error
	resetErr error
	written  []string
	resets   int
	// onWrite queues a response when a command is written
	onWrite func(cmd string) []string
}

func (f *fakeTransport) ReadAvailableLines() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var lines []string
	if len(f.batches) > 0 {
		lines = f.batches[0]
		f.batches = f.batches[1:]
	}
	return lines, f.readErr
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, string(p))
	if f.onWrite != nil {
		f.batches = append(f.batches, f.onWrite(string(p)))
	}
	return len(p), nil
}

func (f *fakeTransport) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resets++
	if f.resetErr != nil {
		return f.resetErr
	}
	f.batches = nil
	return nil
}

func newTestCycle(t *testing.T, tr Transport, opts ...Option) *Cycle {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SettleDelay = time.Millisecond
	return NewCycle(cfg, tr, storage.NewStore(nil), opts...)
}

func TestRunOnceAppendsSamples(t *testing.T) {
	tr := &fakeTransport{batches: [][]string{{"temp:23.5,voltage:5.01"}}}
	c := newTestCycle(t, tr)

	report, err := c.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, uint64(1), report.Seq)
	assert.Equal(t, 2, report.Pairs)
	assert.Equal(t, []types.SeriesKey{"temp", "voltage"}, report.NewKeys)
	assert.Empty(t, report.Failures)

	values := c.Store().Snapshot().Values()
	assert.Equal(t, []float64{23.5}, values["temp"])
	assert.Equal(t, []float64{5.01}, values["voltage"])
}

func TestRunOnceMultipleLinesInOrder(t *testing.T) {
	tr := &fakeTransport{batches: [][]string{{"t:1", "t:2", "t:3"}}}
	c := newTestCycle(t, tr)

	_, err := c.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, c.Store().Snapshot().Values()["t"])
}

func TestRunOnceLogsRawLinesAtDebug(t *testing.T) {
	tr := &fakeTransport{batches: [][]string{{"t:1", "t:x"}}}
	var buf logBuffer
	c := newTestCycle(t, tr, WithLogger(logging.New(&buf, logging.LevelDebug)))

	_, err := c.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Contains(t, buf.String(), `[DEBUG] Raw line: "t:1"`)
	assert.Contains(t, buf.String(), `[DEBUG] Raw line: "t:x"`)
}

func TestRunOnceMalformedSegmentSkipped(t *testing.T) {
	tr := &fakeTransport{batches: [][]string{{"temp:abc,voltage:5.0"}}}
	journal, err := storage.OpenJournal(time.Minute)
	require.NoError(t, err)
	defer journal.Close()
	m := metrics.NewCollector()
	c := newTestCycle(t, tr, WithJournal(journal), WithMetrics(m))

	report, err := c.RunOnce(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "temp:abc,voltage:5.0", report.Failures[0].Line)
	assert.Equal(t, types.ReasonNonNumeric, report.Failures[0].Failures[0].Reason)

	snap := c.Store().Snapshot()
	assert.Equal(t, []types.SeriesKey{"voltage"}, snap.Keys())
	assert.Equal(t, []float64{5.0}, snap.Values()["voltage"])

	entries, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, storage.KindParse, entries[0].Kind)
	assert.Equal(t, uint64(1), entries[0].Cycle)

	expected := `
# HELP benchdaq_segment_errors_total Segments skipped by the line parser, by reason.
# TYPE benchdaq_segment_errors_total counter
benchdaq_segment_errors_total{reason="non-numeric value"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "benchdaq_segment_errors_total"))
}

func TestRunOnceNoData(t *testing.T) {
	c := newTestCycle(t, &fakeTransport{})
	before := c.Store().Version()

	report, err := c.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Empty(t, report.Received)
	assert.Equal(t, before, c.Store().Version())
	assert.True(t, c.Store().Snapshot().Empty())
}

func TestRunOnceEmptyLineIgnored(t *testing.T) {
	c := newTestCycle(t, &fakeTransport{batches: [][]string{{""}}})

	report, err := c.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{""}, report.Received)
	assert.Empty(t, report.Failures)
	assert.Zero(t, c.Store().SeriesCount())
}

func TestRunOnceTransportErrorKeepsEarlierLines(t *testing.T) {
	readErr := errors.New("device unplugged")
	tr := &fakeTransport{batches: [][]string{{"a:1"}}, readErr: readErr}
	c := newTestCycle(t, tr)

	report, err := c.RunOnce(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "read", terr.Op)
	assert.ErrorIs(t, err, readErr)
	assert.Equal(t, 1, report.Pairs)
	assert.Equal(t, []float64{1}, c.Store().Snapshot().Values()["a"])
}

func TestRunOnceSequenceAdvances(t *testing.T) {
	tr := &fakeTransport{batches: [][]string{{"a:1"}, {}, {"a:2,b:3"}}}
	c := newTestCycle(t, tr)

	for i := 0; i < 3; i++ {
		_, err := c.RunOnce(context.Background())
		require.NoError(t, err)
	}

	snap := c.Store().Snapshot()
	a, _ := snap.Get("a")
	b, _ := snap.Get("b")
	require.Len(t, a.Samples, 2)
	assert.Equal(t, uint64(1), a.Samples[0].Seq)
	assert.Equal(t, uint64(3), a.Samples[1].Seq)
	assert.Equal(t, uint64(3), b.Meta.RegisteredSeq)
}

func TestRunOnceCanceledContext(t *testing.T) {
	tr := &fakeTransport{batches: [][]string{{"a:1"}}}
	c := newTestCycle(t, tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RunOnce(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Store().SeriesCount())
}

func TestSendCommandIngestsResponse(t *testing.T) {
	tr := &fakeTransport{
		batches: [][]string{{"stale:9"}},
		onWrite: func(cmd string) []string { return []string{"current:0.12"} },
	}
	c := newTestCycle(t, tr)

	report, err := c.SendCommand(context.Background(), "MEAS:CURR?")

	require.NoError(t, err)
	assert.Equal(t, []string{"MEAS:CURR?\n"}, tr.written)
	assert.Equal(t, 1, tr.resets)
	assert.Equal(t, TriggerCommand, report.Trigger)
	assert.Equal(t, []string{"current:0.12"}, report.Received)

	snap := c.Store().Snapshot()
	assert.Equal(t, []types.SeriesKey{"current"}, snap.Keys())
}

func TestSendCommandResetFailureStillSends(t *testing.T) {
	tr := &fakeTransport{resetErr: errors.New("ioctl failed")}
	var buf logBuffer
	c := newTestCycle(t, tr, WithLogger(logging.New(&buf, logging.LevelDebug)))

	_, err := c.SendCommand(context.Background(), "*IDN?")

	require.NoError(t, err)
	assert.Equal(t, []string{"*IDN?\n"}, tr.written)
	assert.Contains(t, buf.String(), "Failed to clear serial buffer")
}

func TestSendCommandWriteFailure(t *testing.T) {
	tr := &fakeTransport{writeErr: errors.New("broken pipe")}
	c := newTestCycle(t, tr)

	_, err := c.SendCommand(context.Background(), "*RST")

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "write", terr.Op)
}

func TestSendCommandCanceledDuringSettle(t *testing.T) {
	tr := &fakeTransport{}
	c := NewCycle(&Config{SettleDelay: time.Hour, LineEnding: "\n"}, tr, storage.NewStore(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.SendCommand(ctx, "*IDN?")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunDeliversFrames(t *testing.T) {
	tr := &fakeTransport{batches: [][]string{{"a:1"}, {"a:2"}}}
	c := newTestCycle(t, tr)
	ctx, cancel := context.WithCancel(context.Background())

	frames := make(chan storage.Snapshot, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, 5*time.Millisecond, func(s storage.Snapshot) {
			select {
			case frames <- s:
			default:
			}
		})
	}()

	var last storage.Snapshot
	deadline := time.After(2 * time.Second)
	for len(last.Values()["a"]) < 2 {
		select {
		case last = <-frames:
		case <-deadline:
			t.Fatal("timed out waiting for frames")
		}
	}
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []float64{1, 2}, last.Values()["a"])
}

func TestRunSurvivesTransportErrors(t *testing.T) {
	tr := &fakeTransport{readErr: errors.New("timeout storm")}
	c := newTestCycle(t, tr)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	frames := 0
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, 2*time.Millisecond, func(storage.Snapshot) {
			mu.Lock()
			frames++
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return frames >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestCommandsAndTicksDoNotInterleave(t *testing.T) {
	tr := &fakeTransport{onWrite: func(cmd string) []string { return []string{"r:1"} }}
	c := newTestCycle(t, tr)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.RunOnce(context.Background())
		}()
		go func() {
			defer wg.Done()
			_, _ = c.SendCommand(context.Background(), "MEAS?")
		}()
	}
	wg.Wait()

	snap := c.Store().Snapshot()
	r, ok := snap.Get("r")
	require.True(t, ok)
	assert.Len(t, r.Samples, 8)
	for i := 1; i < len(r.Samples); i++ {
		assert.Less(t, r.Samples[i-1].Seq, r.Samples[i].Seq)
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Op: "read", Err: errors.New("eof")}
	assert.Equal(t, "transport read failed: eof", err.Error())
}

type logBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
