package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vjranagit/benchdaq/pkg/transport"
)

// DefaultSelectAttempts bounds how often an invalid port choice is retried
const DefaultSelectAttempts = 5

// PrintPorts writes a numbered port listing
func PrintPorts(out io.Writer, ports []transport.PortInfo) {
	fmt.Fprintln(out, "Available ports:")
	for i, p := range ports {
		fmt.Fprintf(out, "%d: %s\n", i+1, p)
	}
}

// SelectPort lists ports and asks the user to choose one by number or name.
// Invalid answers are retried up to attempts times. When there is nothing to
// choose from, input ends or every attempt fails, the error wraps
// transport.ErrConnectionUnavailable. When ctx is done first its error is
// returned.
func SelectPort(ctx context.Context, in *bufio.Scanner, out io.Writer, ports []transport.PortInfo, attempts int) (string, error) {
	if len(ports) == 0 {
		return "", fmt.Errorf("%w: no serial ports found", transport.ErrConnectionUnavailable)
	}
	if attempts <= 0 {
		attempts = DefaultSelectAttempts
	}

	PrintPorts(out, ports)
	for i := 0; i < attempts; i++ {
		fmt.Fprint(out, "Select port number: ")
		answer, ok, err := scanLine(ctx, in)
		if err != nil {
			fmt.Fprintln(out)
			return "", err
		}
		if !ok {
			fmt.Fprintln(out)
			return "", fmt.Errorf("%w: no port selected", transport.ErrConnectionUnavailable)
		}

		if name, ok := choosePort(strings.TrimSpace(answer), ports); ok {
			return name, nil
		}
		errColor.Fprintf(out, "Invalid selection, enter a number between 1 and %d\n", len(ports))
	}

	return "", fmt.Errorf("%w: no valid port selected after %d attempts", transport.ErrConnectionUnavailable, attempts)
}

// scanLine reads one line from in unless ctx is done first. A canceled read
// leaves its goroutine blocked in Scan until input arrives or ends.
func scanLine(ctx context.Context, in *bufio.Scanner) (string, bool, error) {
	type result struct {
		line string
		ok   bool
	}
	done := make(chan result, 1)
	go func() {
		ok := in.Scan()
		done <- result{line: in.Text(), ok: ok}
	}()

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case r := <-done:
		return r.line, r.ok, nil
	}
}

func choosePort(answer string, ports []transport.PortInfo) (string, bool) {
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(ports) {
			return ports[n-1].Name, true
		}
		return "", false
	}
	for _, p := range ports {
		if answer != "" && p.Name == answer {
			return p.Name, true
		}
	}
	return "", false
}
