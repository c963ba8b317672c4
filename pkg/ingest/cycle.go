// Package ingest runs ingestion cycles: drain the lines the instrument has
// sent, parse them and fold the results into the series store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vjranagit/benchdaq/internal/logging"
	"github.com/vjranagit/benchdaq/pkg/metrics"
	"github.com/vjranagit/benchdaq/pkg/parser"
	"github.com/vjranagit/benchdaq/pkg/storage"
	"github.com/vjranagit/benchdaq/pkg/types"
)

// Cycle triggers
const (
	TriggerTick    = "tick"
	TriggerCommand = "command"
)

// Transport is the serial link as seen by the ingestion cycle
type Transport interface {
	// ReadAvailableLines returns the decoded lines available now without
	// waiting for more data to arrive
	ReadAvailableLines() ([]string, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
}

// TransportError is an I/O failure on the serial link
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Report summarises one ingestion cycle
type Report struct {
	Seq      uint64
	Trigger  string
	Received []string
	Pairs    int
	Failures []LineFailure
	NewKeys  []types.SeriesKey
}

// LineFailure ties segment failures to the line they came from
type LineFailure struct {
	Line     string
	Failures []types.SegmentError
}

// Config holds ingestion configuration
type Config struct {
	// SettleDelay is how long the device gets to answer a command
	SettleDelay time.Duration
	// LineEnding terminates every command written to the device
	LineEnding string
}

// DefaultConfig returns default ingestion configuration
func DefaultConfig() *Config {
	return &Config{
		SettleDelay: 500 * time.Millisecond,
		LineEnding:  "\n",
	}
}

// Cycle owns the series store and serialises every use of the transport.
// RunOnce and SendCommand may be called from different goroutines; they
// never overlap.
type Cycle struct {
	cfg       *Config
	transport Transport
	store     *storage.Store
	journal   *storage.Journal
	metrics   *metrics.Collector
	logger    logging.Logger

	mu  sync.Mutex
	seq uint64
	now func() time.Time
}

// Option configures a Cycle
type Option func(*Cycle)

// WithJournal records parse and transport failures in j
func WithJournal(j *storage.Journal) Option {
	return func(c *Cycle) { c.journal = j }
}

// WithMetrics counts cycle activity in m
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cycle) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(c *Cycle) { c.logger = l }
}

// NewCycle creates an ingestion cycle over transport writing into store
func NewCycle(cfg *Config, transport Transport, store *storage.Store, opts ...Option) *Cycle {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Cycle{
		cfg:       cfg,
		transport: transport,
		store:     store,
		logger:    logging.Discard,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the series store the cycle writes to
func (c *Cycle) Store() *storage.Store {
	return c.store
}

// RunOnce drains the transport once and ingests every line. Parse failures
// are reported and skipped. A transport error is returned after the lines
// read before it have been ingested.
func (c *Cycle) RunOnce(ctx context.Context) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runLocked(ctx, TriggerTick)
}

// runLocked performs one cycle (must hold lock)
func (c *Cycle) runLocked(ctx context.Context, trigger string) (Report, error) {
	start := c.now()
	c.seq++
	report := Report{Seq: c.seq, Trigger: trigger}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	lines, readErr := c.transport.ReadAvailableLines()
	for _, line := range lines {
		c.ingestLine(&report, line, start)
	}

	c.metrics.ObserveCycle(trigger, len(report.Received), report.Pairs, c.now().Sub(start))
	c.metrics.SetSeries(c.store.SeriesCount())

	if readErr != nil {
		return report, c.transportFailure("read", readErr)
	}
	return report, nil
}

// ingestLine parses one line and appends its pairs
func (c *Cycle) ingestLine(report *Report, line string, at time.Time) {
	report.Received = append(report.Received, line)
	c.logger.Debugf("Raw line: %q", line)

	outcome := parser.Parse(line)
	if len(outcome.Pairs) > 0 {
		newKeys := c.store.Append(report.Seq, at, outcome.Pairs)
		for _, key := range newKeys {
			c.logger.Infof("New series %q registered in cycle %d", key, report.Seq)
		}
		report.NewKeys = append(report.NewKeys, newKeys...)
		report.Pairs += len(outcome.Pairs)
	}

	if outcome.OK() {
		return
	}

	report.Failures = append(report.Failures, LineFailure{Line: outcome.Line, Failures: outcome.Failures})
	for _, f := range outcome.Failures {
		c.logger.Warnf("Error parsing line %q: %v", outcome.Line, f)
		c.metrics.SegmentError(string(f.Reason))
	}
	c.record(storage.JournalEntry{
		Cycle:    report.Seq,
		Time:     at,
		Kind:     storage.KindParse,
		Line:     outcome.Line,
		Failures: outcome.Failures,
	})
}

// transportFailure wraps, logs and records a transport error
func (c *Cycle) transportFailure(op string, err error) error {
	terr := &TransportError{Op: op, Err: err}
	c.logger.Errorf("%v", terr)
	c.metrics.TransportError(op)
	c.record(storage.JournalEntry{
		Cycle:   c.seq,
		Time:    c.now(),
		Kind:    storage.KindTransport,
		Message: terr.Error(),
	})
	return terr
}

// record appends to the journal if one is configured
func (c *Cycle) record(entry storage.JournalEntry) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.Append(entry); err != nil {
		c.logger.Errorf("Failed to record diagnostics: %v", err)
	}
}

// SendCommand clears pending input, writes cmd followed by the line ending,
// waits for the device to settle and ingests its response.
func (c *Cycle) SendCommand(ctx context.Context, cmd string) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.ResetInputBuffer(); err != nil {
		// Stale input only risks extra samples; the command still goes out.
		c.logger.Warnf("Failed to clear serial buffer: %v", err)
		c.metrics.TransportError("reset")
	}

	c.logger.Infof("Sending command: %s", cmd)
	if _, err := c.transport.Write([]byte(cmd + c.cfg.LineEnding)); err != nil {
		return Report{Trigger: TriggerCommand}, c.transportFailure("write", err)
	}
	c.metrics.CommandSent()

	if c.cfg.SettleDelay > 0 {
		timer := time.NewTimer(c.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Report{Trigger: TriggerCommand}, ctx.Err()
		case <-timer.C:
		}
	}

	return c.runLocked(ctx, TriggerCommand)
}

// Run ingests once per interval until ctx is done. After every cycle,
// successful or not, onFrame receives a snapshot of the store. Transport
// errors are retried on the next tick.
func (c *Cycle) Run(ctx context.Context, interval time.Duration, onFrame func(storage.Snapshot)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.safeRunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Debugf("Cycle failed, retrying next tick: %v", err)
			}
			if onFrame != nil {
				onFrame(c.store.Snapshot())
			}
		}
	}
}

// safeRunOnce runs one cycle and turns a panic into an error so one bad
// cycle cannot end the session
func (c *Cycle) safeRunOnce(ctx context.Context) (report Report, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			c.logger.Errorf("Ingestion cycle panic: %v", rec)
		}
	}()
	return c.RunOnce(ctx)
}
