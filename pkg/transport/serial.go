// Package transport is the serial link to the instrument.
//
// It wraps go.bug.st/serial with a line-oriented, poll-style reader: every
// call to ReadAvailableLines returns the complete lines that arrived so far.
// A drain stops at the first read timeout, after MaxDrainBytes, or once one
// read timeout has passed since it began, whichever comes first.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// ErrConnectionUnavailable is returned when no port could be selected or opened
var ErrConnectionUnavailable = errors.New("connection unavailable")

// Config holds serial link configuration
type Config struct {
	Port     string
	BaudRate int
	// Framing is data bits, parity and stop bits, e.g. "8N1"
	Framing string
	// ReadTimeout bounds how long a drain waits for the next byte and how
	// long one drain may keep reading a device that never pauses
	ReadTimeout time.Duration
	// MaxDrainBytes caps the bytes consumed by one drain and the length of a
	// line still waiting for its terminator
	MaxDrainBytes int
}

// DefaultConfig returns the instrument defaults: 9600 8N1
func DefaultConfig() *Config {
	return &Config{
		BaudRate:      9600,
		Framing:       "8N1",
		ReadTimeout:   50 * time.Millisecond,
		MaxDrainBytes: 64 << 10,
	}
}

// port is the subset of serial.Port the link uses
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Serial is an open serial link
type Serial struct {
	port     port
	name     string
	maxDrain int
	budget   time.Duration
	readBuf  []byte
	pending  []byte
	// skipLF is set after a line ended in '\r' so a following '\n' is not
	// taken for an empty line
	skipLF bool
}

// Open opens and configures the port named in cfg
func Open(cfg *Config) (*Serial, error) {
	if cfg == nil || cfg.Port == "" {
		return nil, fmt.Errorf("%w: no port selected", ErrConnectionUnavailable)
	}

	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	if err := ParseFraming(cfg.Framing, mode); err != nil {
		return nil, err
	}

	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open serial port %s: %v", ErrConnectionUnavailable, cfg.Port, err)
	}

	s, err := newSerial(p, cfg.Port, cfg)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}
	return s, nil
}

func newSerial(p port, name string, cfg *Config) (*Serial, error) {
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	maxDrain := cfg.MaxDrainBytes
	if maxDrain <= 0 {
		maxDrain = DefaultConfig().MaxDrainBytes
	}
	budget := cfg.ReadTimeout
	if budget <= 0 {
		budget = DefaultConfig().ReadTimeout
	}

	return &Serial{
		port:     p,
		name:     name,
		maxDrain: maxDrain,
		budget:   budget,
		readBuf:  make([]byte, 4096),
	}, nil
}

// Name returns the port name
func (s *Serial) Name() string {
	return s.name
}

// ReadAvailableLines drains what the device has sent so far and returns the
// complete lines, trimmed. Lines end in "\n", "\r" or "\r\n". A trailing
// partial line is kept for the next call unless it has grown to
// MaxDrainBytes, in which case it is returned as a line of its own.
// On a read error the lines completed before the failure are still returned.
func (s *Serial) ReadAvailableLines() ([]string, error) {
	var readErr error
	deadline := time.Now().Add(s.budget)
	for drained := 0; drained < s.maxDrain; {
		n, err := s.port.Read(s.readBuf)
		if n > 0 {
			s.pending = append(s.pending, s.readBuf[:n]...)
			drained += n
		}
		if err != nil {
			readErr = err
			break
		}
		if n == 0 || !time.Now().Before(deadline) {
			break
		}
	}

	return s.takeLines(), readErr
}

// takeLines splits complete lines off the pending buffer
func (s *Serial) takeLines() []string {
	var lines []string
	for len(s.pending) > 0 {
		if s.skipLF {
			s.skipLF = false
			if s.pending[0] == '\n' {
				s.pending = s.pending[1:]
				continue
			}
		}

		i := bytes.IndexAny(s.pending, "\r\n")
		if i < 0 {
			break
		}
		lines = append(lines, decodeLine(s.pending[:i]))
		s.skipLF = s.pending[i] == '\r'
		s.pending = s.pending[i+1:]
	}

	if len(s.pending) >= s.maxDrain {
		lines = append(lines, decodeLine(s.pending))
		s.pending = nil
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	return lines
}

func decodeLine(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
}

// Write sends p to the device
func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ResetInputBuffer discards unread input, including any partial line
func (s *Serial) ResetInputBuffer() error {
	s.pending = nil
	s.skipLF = false
	return s.port.ResetInputBuffer()
}

// Close closes the port
func (s *Serial) Close() error {
	return s.port.Close()
}

// ParseFraming fills mode from a "8N1" style string: data bits 5-8, parity
// N/O/E/M/S and stop bits 1, 15 (1.5) or 2. An empty string means 8N1.
func ParseFraming(s string, mode *serial.Mode) error {
	if s == "" {
		s = "8N1"
	}
	if len(s) < 3 {
		return fmt.Errorf("invalid framing %q", s)
	}

	switch s[0] {
	case '5', '6', '7', '8':
		mode.DataBits = int(s[0] - '0')
	default:
		return fmt.Errorf("invalid data bits in framing %q", s)
	}

	switch s[1] {
	case 'N', 'n':
		mode.Parity = serial.NoParity
	case 'O', 'o':
		mode.Parity = serial.OddParity
	case 'E', 'e':
		mode.Parity = serial.EvenParity
	case 'M', 'm':
		mode.Parity = serial.MarkParity
	case 'S', 's':
		mode.Parity = serial.SpaceParity
	default:
		return fmt.Errorf("invalid parity in framing %q", s)
	}

	switch s[2:] {
	case "1":
		mode.StopBits = serial.OneStopBit
	case "15":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return fmt.Errorf("invalid stop bits in framing %q", s)
	}

	return nil
}
