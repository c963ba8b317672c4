package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/benchdaq/internal/config"
	"github.com/vjranagit/benchdaq/internal/logging"
	"github.com/vjranagit/benchdaq/pkg/api"
	"github.com/vjranagit/benchdaq/pkg/console"
	"github.com/vjranagit/benchdaq/pkg/ingest"
	"github.com/vjranagit/benchdaq/pkg/metrics"
	"github.com/vjranagit/benchdaq/pkg/render"
	"github.com/vjranagit/benchdaq/pkg/storage"
	"github.com/vjranagit/benchdaq/pkg/transport"
)

const (
	version = "0.3.0"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("DAQ_CONFIG"), "path to a TOML config file")
		listPorts  = flag.Bool("list", false, "list serial ports and exit")
		port       = flag.String("port", "", "serial port to open (asks when empty)")
		baud       = flag.Int("baud", 0, "baud rate")
		framing    = flag.String("framing", "", "data bits, parity and stop bits, e.g. 8N1")
		interval   = flag.Duration("interval", 0, "acquisition tick interval")
		settle     = flag.Duration("settle", 0, "delay between a command and reading its response")
		maxSamples = flag.Int("max-samples", 0, "keep only the newest N samples per series (0 keeps all)")
		listen     = flag.String("listen", "", "HTTP API listen address (disabled when empty)")
		xAxis      = flag.String("x-axis", "", "chart x axis: index or time")
		logLevel   = flag.String("log-level", "", "debug, info, warn or error")
	)
	flag.Parse()

	if *listPorts {
		ports, err := transport.ListPorts()
		if err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		console.PrintPorts(os.Stdout, ports)
		return
	}

	fmt.Printf("benchdaq v%s\n", version)
	fmt.Println("Interactive serial data acquisition")
	fmt.Println()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags given on the command line win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Serial.Port = *port
		case "baud":
			cfg.Serial.BaudRate = *baud
		case "framing":
			cfg.Serial.Framing = *framing
		case "interval":
			cfg.Session.Interval.Duration = *interval
		case "settle":
			cfg.Session.SettleDelay.Duration = *settle
		case "max-samples":
			cfg.Storage.MaxSamples = *maxSamples
		case "listen":
			cfg.Server.ListenAddr = *listen
		case "x-axis":
			cfg.Render.XAxis = *xAxis
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.NewStderr(cfg.LogLevel())
	if err := run(cfg, logger); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.StdLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := bufio.NewScanner(os.Stdin)

	// Select and open the serial port
	if cfg.Serial.Port == "" {
		ports, err := transport.ListPorts()
		if err != nil {
			return fmt.Errorf("%w: %v", transport.ErrConnectionUnavailable, err)
		}
		name, err := console.SelectPort(ctx, in, os.Stdout, ports, cfg.Session.SelectAttempts)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		cfg.Serial.Port = name
	}

	link, err := transport.Open(cfg.ToSerialConfig())
	if err != nil {
		return err
	}
	defer link.Close()

	logger.Infof("Configuration loaded:")
	logger.Infof("  Port: %s @ %d %s", link.Name(), cfg.Serial.BaudRate, cfg.Serial.Framing)
	logger.Infof("  Interval: %v, settle delay: %v", cfg.Session.Interval, cfg.Session.SettleDelay)
	logger.Infof("  Retention: %d samples per series (0 = unbounded)", cfg.Storage.MaxSamples)

	// Session state
	store := storage.NewStore(cfg.ToStoreConfig())

	journal, err := storage.OpenJournal(cfg.Storage.JournalTTL.Duration)
	if err != nil {
		return err
	}
	defer journal.Close()

	collector := metrics.NewCollector()

	cycle := ingest.NewCycle(cfg.ToIngestConfig(), link, store,
		ingest.WithJournal(journal),
		ingest.WithMetrics(collector),
		ingest.WithLogger(logger))

	// Every tick hands a frame to the renderer: :watch redraws the terminal
	// chart from it and, with the API enabled, the PNG is drawn right away
	var charts *render.ChartCache
	if cfg.Server.ListenAddr != "" {
		charts = render.NewChartCache(cfg.Render.CacheSize, cfg.Render.CacheTTL.Duration)
	}
	chartOpts := cfg.ChartOptions()

	frame := render.NewFrame()
	onFrame := func(snap storage.Snapshot) {
		frame.Update(snap)
		logger.Debugf("Frame %d: %d series, store version %d", frame.Count(), len(snap.Series), snap.Version)
		if charts == nil {
			return
		}
		if _, err := charts.CachedPNG(snap, chartOpts); err != nil && !errors.Is(err, render.ErrNoData) {
			logger.Warnf("Failed to draw frame %d: %v", frame.Count(), err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return cycle.Run(gctx, cfg.Session.Interval.Duration, onFrame)
	})

	if charts != nil {
		compressor, err := storage.NewCompressor(cfg.Storage.CompressionLevel)
		if err != nil {
			return err
		}
		defer compressor.Close()

		server := api.NewServer(cfg.Server.ListenAddr, store,
			api.WithCommander(cycle),
			api.WithDiagnostics(journal),
			api.WithMetrics(collector),
			api.WithCompressor(compressor),
			api.WithCharts(charts, chartOpts),
			api.WithRefresh(cfg.Session.Interval.Duration),
			api.WithChartSource(frame),
			api.WithTimeout(cfg.Server.Timeout.Duration),
			api.WithLogger(logger))

		g.Go(func() error {
			logger.Infof("API server listening on %s", cfg.Server.ListenAddr)
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		})
	}

	g.Go(func() error {
		// The session ends with the prompt
		defer cancel()
		c := console.New(in, os.Stdout, cycle, store,
			console.WithDiagnostics(journal),
			console.WithFrames(frame),
			console.WithPlotOptions(cfg.TerminalOptions()),
			console.WithLogger(logger))
		return c.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	snap := store.Snapshot()
	logger.Infof("Session ended: %d series, %d diagnostics recorded", len(snap.Series), journal.Count())
	return nil
}
