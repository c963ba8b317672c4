package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vjranagit/benchdaq/internal/logging"
	"github.com/vjranagit/benchdaq/pkg/ingest"
	"github.com/vjranagit/benchdaq/pkg/metrics"
	"github.com/vjranagit/benchdaq/pkg/render"
	"github.com/vjranagit/benchdaq/pkg/storage"
	"github.com/vjranagit/benchdaq/pkg/types"
)

const (
	defaultDiagnosticsLimit = 50
	maxChartDimension       = 4096
	maxCommandBytes         = 4 << 10
)

const livePage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="%d">
<title>%s</title>
</head>
<body>
<img src="/chart.png" alt="%s">
</body>
</html>
`

// Snapshotter provides read-only views of the series store
type Snapshotter interface {
	Snapshot() storage.Snapshot
}

// Commander sends a command to the instrument and ingests its response
type Commander interface {
	SendCommand(ctx context.Context, cmd string) (ingest.Report, error)
}

// Diagnostics lists recent acquisition problems, newest first
type Diagnostics interface {
	Recent(limit int) ([]storage.JournalEntry, error)
}

// Server implements the HTTP API server
type Server struct {
	addr    string
	timeout time.Duration
	server  *http.Server

	store       Snapshotter
	commander   Commander
	diagnostics Diagnostics
	metrics     *metrics.Collector
	compressor  *storage.Compressor
	charts      *render.ChartCache
	chartOpts   render.ChartOptions
	chartSource Snapshotter
	refresh     time.Duration
	logger      logging.Logger
}

// Option configures a Server
type Option func(*Server)

// WithCommander enables POST /api/v1/command
func WithCommander(c Commander) Option {
	return func(s *Server) { s.commander = c }
}

// WithDiagnostics enables /api/v1/diagnostics
func WithDiagnostics(d Diagnostics) Option {
	return func(s *Server) { s.diagnostics = d }
}

// WithMetrics exposes m on /metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCompressor enables zstd snapshot export
func WithCompressor(c *storage.Compressor) Option {
	return func(s *Server) { s.compressor = c }
}

// WithCharts serves /chart.png from cache with opts as defaults
func WithCharts(cache *render.ChartCache, opts render.ChartOptions) Option {
	return func(s *Server) {
		s.charts = cache
		s.chartOpts = opts
	}
}

// WithChartSource draws /chart.png from src instead of the store, e.g. the
// frame last handed to the renderer
func WithChartSource(src Snapshotter) Option {
	return func(s *Server) { s.chartSource = src }
}

// WithRefresh sets how often the live page at / reloads the chart
func WithRefresh(d time.Duration) Option {
	return func(s *Server) { s.refresh = d }
}

// WithTimeout sets the read and write timeouts
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new API server
func NewServer(addr string, store Snapshotter, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		timeout:   30 * time.Second,
		refresh:   time.Second,
		store:     store,
		chartOpts: render.DefaultChartOptions(),
		logger:    logging.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chartSource == nil {
		s.chartSource = store
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}
	return s
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/v1/series", s.handleSeries)
	mux.HandleFunc("/api/v1/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/api/v1/command", s.handleCommand)
	mux.HandleFunc("/chart.png", s.handleChart)
	mux.HandleFunc("/", s.handleLive)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	return mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve on %s: %w", s.addr, err)
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleSnapshot returns every series, as JSON or as a zstd frame
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.store.Snapshot()

	switch r.URL.Query().Get("encoding") {
	case "", "json":
		writeJSON(w, http.StatusOK, snap)
	case "zstd":
		if s.compressor == nil {
			http.Error(w, "zstd export disabled", http.StatusNotImplemented)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Snapshot-Version", strconv.FormatUint(snap.Version, 10))
		w.Write(s.compressor.EncodeSnapshot(snap))
	default:
		http.Error(w, "Invalid encoding", http.StatusBadRequest)
	}
}

// handleSeries returns one series by key
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		http.Error(w, "Missing key parameter", http.StatusBadRequest)
		return
	}

	ss, ok := s.store.Snapshot().Get(types.SeriesKey(key))
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown series %q", key), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

// handleDiagnostics returns recent parse and transport failures
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.diagnostics == nil {
		http.Error(w, "Diagnostics disabled", http.StatusNotImplemented)
		return
	}

	limit := defaultDiagnosticsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.diagnostics.Recent(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Diagnostics failed: %v", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []storage.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// CommandRequest is the body of POST /api/v1/command
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse reports the ingestion cycle run for a command
type CommandResponse struct {
	Seq      uint64               `json:"seq"`
	Received []string             `json:"received"`
	Pairs    int                  `json:"pairs"`
	NewKeys  []types.SeriesKey    `json:"new_keys,omitempty"`
	Failures []types.SegmentError `json:"failures,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// handleCommand sends a command to the instrument
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.commander == nil {
		http.Error(w, "Commands disabled", http.StatusNotImplemented)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		http.Error(w, "Command must be a single non-empty line", http.StatusBadRequest)
		return
	}

	report, err := s.commander.SendCommand(r.Context(), cmd)
	resp := CommandResponse{
		Seq:      report.Seq,
		Received: report.Received,
		Pairs:    report.Pairs,
		NewKeys:  report.NewKeys,
	}
	if resp.Received == nil {
		resp.Received = []string{}
	}
	for _, lf := range report.Failures {
		resp.Failures = append(resp.Failures, lf.Failures...)
	}

	if err != nil {
		s.logger.Warnf("Command %q from %s failed: %v", cmd, r.RemoteAddr, err)
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChart renders the current series as PNG
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.charts == nil {
		http.Error(w, "Charts disabled", http.StatusNotImplemented)
		return
	}

	opts := s.chartOpts
	q := r.URL.Query()
	var err error
	if opts.Width, err = dimension(q.Get("width"), opts.Width); err != nil {
		http.Error(w, "Invalid width", http.StatusBadRequest)
		return
	}
	if opts.Height, err = dimension(q.Get("height"), opts.Height); err != nil {
		http.Error(w, "Invalid height", http.StatusBadRequest)
		return
	}
	if v := q.Get("x_axis"); v != "" {
		if opts.XAxis, err = render.ParseXAxisMode(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	png, err := s.charts.CachedPNG(s.chartSource.Snapshot(), opts)
	if errors.Is(err, render.ErrNoData) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Render failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

// handleLive serves a page that reloads the chart once per tick
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.charts == nil {
		http.Error(w, "Charts disabled", http.StatusNotImplemented)
		return
	}

	seconds := int(math.Ceil(s.refresh.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	title := html.EscapeString(s.chartOpts.Title)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintf(w, livePage, seconds, title, title)
}

func dimension(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 16 || n > maxChartDimension {
		return 0, fmt.Errorf("invalid dimension %q", v)
	}
	return n, nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"series":  len(snap.Series),
		"version": snap.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
