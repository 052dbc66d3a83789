package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/slaclab/bldDecode/internal/config"
	"github.com/slaclab/bldDecode/internal/console"
	"github.com/slaclab/bldDecode/internal/metrics"
	"github.com/slaclab/bldDecode/internal/pipeline"
	"github.com/slaclab/bldDecode/internal/report"
	"github.com/slaclab/bldDecode/internal/schema"
	"github.com/slaclab/bldDecode/internal/server"
)

const (
	serviceName    = "blddecode"
	serviceVersion = "1.0.0"
)

func main() {
	err := run(os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, server.ErrIdleTimeout):
		fmt.Println("Timeout exceeded, exiting!")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs, flags := config.NewFlagSet(serviceName)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if flags.ConfigPath != "" {
		loaded, err := config.Load(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyFlags(fs, flags); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	runID := uuid.NewString()
	logger := initLogger(cfg.Logging, cfg.Display).With(slog.String("run", runID))

	logger.Info("Decoder starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", flags.ConfigPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chSchema, err := loadSchema(ctx, &cfg.Schema, logger)
	if err != nil {
		return err
	}

	channels, err := chSchema.TranslateFilter(cfg.Filter.Channels)
	if err != nil {
		return fmt.Errorf("invalid channel filter: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	var acc *report.Accumulator
	if cfg.Report.Enabled {
		acc = report.NewAccumulator(report.Config{
			MaxEntries: cfg.Report.MaxEntries,
			RunID:      runID,
		})
	}

	printer := console.NewPrinter(os.Stdout, printerOptions(cfg, chSchema, channels))

	filter := pipeline.Filter{Version: cfg.Filter.Version}
	if cfg.Filter.SeverityMask != nil {
		filter.SeverityMask = *cfg.Filter.SeverityMask
		filter.MatchSeverity = true
	}

	processor := pipeline.NewProcessor(logger, pipeline.Options{
		Schema:   chSchema,
		Filter:   filter,
		Report:   acc,
		Consumer: printer,
		Metrics:  appMetrics,
	})

	if !cfg.Receiver.Unicast {
		fmt.Printf("Listening for multicast packets on %s\n", cfg.Receiver.Address)
	}
	conn, err := server.Listen(&cfg.Receiver, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	receiver := server.NewReceiver(conn, processor, server.ReceiverOptions{
		PollInterval: cfg.Receiver.GetPollInterval(),
		IdleTimeout:  cfg.Receiver.GetIdleTimeout(),
		MaxPackets:   cfg.Receiver.MaxPackets,
	}, logger, appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.HTTPServerOptions{
			Config:    cfg,
			Processor: processor,
			Receiver:  receiver,
			Metrics:   appMetrics,
			Gatherer:  reg,
			RunID:     runID,
		})
		if err := httpServer.Start(); err != nil {
			return err
		}
	}

	runErr := receiver.Run(ctx)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	stats := processor.GetStatistics()
	logger.Info("Final decoder statistics",
		slog.Uint64("received", stats.Received),
		slog.Uint64("filtered", stats.Filtered),
		slog.Uint64("valid", stats.Valid),
		slog.Uint64("rejected", stats.Rejected),
		slog.Uint64("frames", stats.Frames),
	)

	if acc != nil {
		if err := acc.WriteFile(cfg.Report.Output, cfg.Report.Format); err != nil {
			return errors.Join(runErr, fmt.Errorf("error while writing report file: %w", err))
		}
		fmt.Printf("Report saved to %s\n", cfg.Report.Output)
	}

	return runErr
}

// printerOptions maps the display settings onto the console printer.
// Report mode prints only invalid packets unless verbose is set.
func printerOptions(cfg *config.Config, chSchema *schema.ChannelSchema, channels []int) console.Options {
	return console.Options{
		Schema:   chSchema,
		Events:   cfg.Filter.Events,
		Channels: channels,
		ShowData: cfg.Display.ShowData && !cfg.Report.Enabled,
		Quiet:    cfg.Display.Quiet || cfg.Report.Enabled,
		Verbose:  cfg.Display.Verbose,
	}
}

// loadSchema resolves the channel schema from the configured source
func loadSchema(ctx context.Context, cfg *config.SchemaConfig, logger *slog.Logger) (*schema.ChannelSchema, error) {
	var src schema.Source
	switch cfg.Source {
	case config.SchemaSourceFile:
		src = &schema.FileSource{Path: cfg.Path}
	case config.SchemaSourceHTTP:
		src = schema.NewHTTPSource(cfg.Endpoint, cfg.GetTimeoutDuration())
	default:
		if cfg.Formats == "" {
			return schema.Default(), nil
		}
		return schema.FromFormats(cfg.Formats)
	}

	logger.Debug("Reading payload description",
		slog.String("source", cfg.Source),
		slog.String("name", cfg.Name),
	)

	s, err := schema.Load(ctx, src, cfg.Name, cfg.Field, cfg.GetTimeoutDuration())
	if err != nil {
		return nil, err
	}

	logger.Info("Channel schema loaded",
		slog.String("name", s.Name()),
		slog.Int("channels", s.ChannelCount()),
	)
	return s, nil
}

// initLogger creates the structured logger. Verbose display mode lowers the
// level to debug; quiet mode raises it to warn.
func initLogger(cfg config.LoggingConfig, display config.DisplayConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	switch {
	case display.Verbose:
		level = slog.LevelDebug
	case display.Quiet && level < slog.LevelWarn:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
