// Package console is the interactive command prompt of an acquisition session.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/vjranagit/benchdaq/internal/logging"
	"github.com/vjranagit/benchdaq/pkg/ingest"
	"github.com/vjranagit/benchdaq/pkg/render"
	"github.com/vjranagit/benchdaq/pkg/storage"
)

// Prompt is shown before every command
const Prompt = "Enter command (or 'exit' to quit): "

const defaultErrorsLimit = 10

// clearScreen moves the cursor home and clears the terminal
const clearScreen = "\033[H\033[2J"

// Commander sends a command to the instrument and ingests its response
type Commander interface {
	SendCommand(ctx context.Context, cmd string) (ingest.Report, error)
}

// Snapshotter provides read-only views of the series store
type Snapshotter interface {
	Snapshot() storage.Snapshot
}

// Diagnostics lists recent acquisition problems, newest first
type Diagnostics interface {
	Recent(limit int) ([]storage.JournalEntry, error)
}

// Frames delivers the snapshot handed to the renderer on every tick
type Frames interface {
	Snapshot() storage.Snapshot
	Count() uint64
	Changed() <-chan struct{}
}

var (
	errColor  = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	okColor   = color.New(color.FgGreen)
	keyColor  = color.New(color.FgCyan, color.Bold)
)

// Console reads commands from in until "exit" or end of input
type Console struct {
	in          *bufio.Scanner
	out         io.Writer
	commander   Commander
	store       Snapshotter
	diagnostics Diagnostics
	frames      Frames
	plot        render.TerminalOptions
	logger      logging.Logger
}

// Option configures a Console
type Option func(*Console)

// WithDiagnostics enables the :errors command
func WithDiagnostics(d Diagnostics) Option {
	return func(c *Console) { c.diagnostics = d }
}

// WithFrames enables the :watch live chart
func WithFrames(f Frames) Option {
	return func(c *Console) { c.frames = f }
}

// WithPlotOptions sets the size of :plot charts
func WithPlotOptions(opts render.TerminalOptions) Option {
	return func(c *Console) { c.plot = opts }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(c *Console) { c.logger = l }
}

// New creates a console. in may be shared with SelectPort so no buffered
// input is lost between port selection and the prompt.
func New(in *bufio.Scanner, out io.Writer, commander Commander, store Snapshotter, opts ...Option) *Console {
	c := &Console{
		in:        in,
		out:       out,
		commander: commander,
		store:     store,
		plot:      render.DefaultTerminalOptions(),
		logger:    logging.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run prompts for commands until the user types exit, input ends or ctx is
// done. Device errors are printed and the prompt continues.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for c.in.Scan() {
			select {
			case lines <- c.in.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- c.in.Err()
	}()

	for {
		fmt.Fprint(c.out, Prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(c.out)
			if err != nil {
				return fmt.Errorf("failed to read command: %w", err)
			}
			return nil
		case line = <-lines:
		}

		input := strings.TrimSpace(line)
		if strings.EqualFold(input, ":watch") {
			if ended, err := c.watch(ctx, lines, readErr); ended {
				return err
			}
			continue
		}
		if done := c.handle(ctx, input); done {
			return nil
		}
	}
}

// handle executes one input line and reports whether the session should end
func (c *Console) handle(ctx context.Context, input string) bool {
	switch {
	case input == "":
		return false
	case strings.EqualFold(input, "exit"):
		return true
	case strings.HasPrefix(input, ":"):
		c.local(input)
		return false
	}

	report, err := c.commander.SendCommand(ctx, input)
	c.printReport(report)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debugf("Command %q failed: %v", input, err)
		errColor.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *Console) printReport(report ingest.Report) {
	for _, line := range report.Received {
		fmt.Fprintf(c.out, "< %s\n", line)
	}
	for _, key := range report.NewKeys {
		okColor.Fprintf(c.out, "New series: %s\n", key)
	}
	for _, lf := range report.Failures {
		for _, f := range lf.Failures {
			warnColor.Fprintf(c.out, "Skipped %s\n", f.Error())
		}
	}
}

// local runs a console command that is never sent to the device
func (c *Console) local(input string) {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case ":help":
		c.help()
	case ":stats":
		c.stats()
	case ":plot":
		c.plotChart()
	case ":errors":
		limit := defaultErrorsLimit
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				errColor.Fprintf(c.out, "Invalid limit %q\n", fields[1])
				return
			}
			limit = n
		}
		c.recentErrors(limit)
	default:
		errColor.Fprintf(c.out, "Unknown command %s, try :help\n", fields[0])
	}
}

func (c *Console) help() {
	fmt.Fprintln(c.out, "Anything else is sent to the instrument followed by a newline.")
	fmt.Fprintln(c.out, "  :help        show this help")
	fmt.Fprintln(c.out, "  :stats       per-series sample counts and latest values")
	fmt.Fprintln(c.out, "  :plot        draw the series as a text chart")
	fmt.Fprintln(c.out, "  :watch       redraw the chart on every tick until Enter")
	fmt.Fprintln(c.out, "  :errors [n]  show the n most recent acquisition errors")
	fmt.Fprintln(c.out, "  exit         end the session")
}

func (c *Console) stats() {
	snap := c.store.Snapshot()
	if len(snap.Series) == 0 {
		fmt.Fprintln(c.out, "No series yet")
		return
	}

	for _, ss := range snap.Series {
		keyColor.Fprintf(c.out, "%-16s", ss.Key)
		if len(ss.Samples) == 0 {
			fmt.Fprintln(c.out, " no samples")
			continue
		}
		last := ss.Samples[len(ss.Samples)-1]
		fmt.Fprintf(c.out, " samples=%d total=%d last=%g (cycle %d)\n", len(ss.Samples), ss.Total, last.Value, last.Seq)
	}
}

func (c *Console) plotChart() {
	out, err := render.RenderTerminal(c.store.Snapshot(), c.plot)
	if err != nil {
		warnColor.Fprintf(c.out, "Nothing to plot: %v\n", err)
		return
	}
	fmt.Fprint(c.out, out)
}

// watch redraws the terminal chart every time a new frame arrives until a
// line is entered. It reports whether the session ended while watching.
func (c *Console) watch(ctx context.Context, lines <-chan string, readErr <-chan error) (bool, error) {
	if c.frames == nil {
		fmt.Fprintln(c.out, "Live view unavailable")
		return false, nil
	}

	for {
		changed := c.frames.Changed()
		c.drawFrame()

		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return true, nil
		case err := <-readErr:
			fmt.Fprintln(c.out)
			if err != nil {
				return true, fmt.Errorf("failed to read command: %w", err)
			}
			return true, nil
		case <-lines:
			return false, nil
		case <-changed:
		}
	}
}

func (c *Console) drawFrame() {
	fmt.Fprint(c.out, clearScreen)
	keyColor.Fprintf(c.out, "Frame %d", c.frames.Count())
	fmt.Fprintln(c.out, ", press Enter to stop")

	out, err := render.RenderTerminal(c.frames.Snapshot(), c.plot)
	if err != nil {
		warnColor.Fprintf(c.out, "Waiting for data: %v\n", err)
		return
	}
	fmt.Fprint(c.out, out)
}

func (c *Console) recentErrors(limit int) {
	if c.diagnostics == nil {
		fmt.Fprintln(c.out, "Diagnostics are disabled")
		return
	}

	entries, err := c.diagnostics.Recent(limit)
	if err != nil {
		errColor.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		okColor.Fprintln(c.out, "No recent errors")
		return
	}

	for _, e := range entries {
		ts := e.Time.Format("15:04:05.000")
		if e.Kind == storage.KindTransport {
			errColor.Fprintf(c.out, "%s cycle %d: %s\n", ts, e.Cycle, e.Message)
			continue
		}
		warnColor.Fprintf(c.out, "%s cycle %d: %q\n", ts, e.Cycle, e.Line)
		for _, f := range e.Failures {
			fmt.Fprintf(c.out, "    %s\n", f.Error())
		}
	}
}
