// Package main implements the kpmstream entry point. kpmstream tails the
// line-oriented KPM indication dump produced by a FlexRIC monitoring xApp
// and assembles it into CSV rows, one per completed measurement record,
// optionally publishing each record to NATS.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PauloFidalgo/cmov-5g/assembler"
	"github.com/PauloFidalgo/cmov-5g/config"
	execinput "github.com/PauloFidalgo/cmov-5g/input/exec"
	fileinput "github.com/PauloFidalgo/cmov-5g/input/file"
	"github.com/PauloFidalgo/cmov-5g/metric"
	"github.com/PauloFidalgo/cmov-5g/natsclient"
	csvoutput "github.com/PauloFidalgo/cmov-5g/output/csv"
	natsoutput "github.com/PauloFidalgo/cmov-5g/output/nats"
	"github.com/PauloFidalgo/cmov-5g/pkg/retry"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "kpmstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return
	}

	if err := validateFlags(cliCfg); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(2)
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(2)
	}

	if cliCfg.Validate {
		logger.Info("configuration is valid")
		return
	}

	if err := run(cfg, cliCfg.ShutdownTimeout, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers the file, environment and explicit flags, in that order
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.NewLoader("").Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, err
	}

	if cliCfg.IsSet("input") {
		cfg.Input.File.Path = cliCfg.InputPath
	}
	if cliCfg.IsSet("output") {
		cfg.Output.CSV.Path = cliCfg.OutputPath
	}
	if cliCfg.IsSet("mode") {
		cfg.Assembler.Mode = cliCfg.Mode
	}
	if cliCfg.IsSet("follow") {
		cfg.Input.File.Follow = cliCfg.Follow
	}
	if cliCfg.IsSet("exec") {
		parts := strings.Fields(cliCfg.ExecCommand)
		if len(parts) > 0 {
			cfg.Input.Exec.Command = parts[0]
			cfg.Input.Exec.Args = parts[1:]
		}
	}
	if cliCfg.IsSet("delimiter") {
		cfg.Output.CSV.Delimiter = cliCfg.Delimiter
	}
	if cliCfg.IsSet("nats-url") {
		cfg.Output.NATS.URL = cliCfg.NATSURL
		cfg.Output.NATSEnabled = cliCfg.NATSURL != ""
	}
	if cliCfg.IsSet("nats-subject") {
		cfg.Output.NATS.Subject = cliCfg.NATSSubject
	}
	if cliCfg.IsSet("metrics-port") {
		cfg.Metrics.Port = cliCfg.MetricsPort
		cfg.Metrics.Enabled = cliCfg.MetricsPort > 0
	}
	cfg.Logging.Level = cliCfg.LogLevel
	cfg.Logging.Format = cliCfg.LogFormat

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, shutdownTimeout time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Force exit if a sink or source refuses to wind down after a signal
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(shutdownTimeout)
		defer timer.Stop()
		<-timer.C
		logger.Error("shutdown timeout exceeded, exiting")
		os.Exit(1)
	}()

	s, err := cfg.BuildSchema()
	if err != nil {
		return err
	}
	mode, err := assembler.ParseMode(cfg.Assembler.Mode)
	if err != nil {
		return err
	}

	// Emission sinks
	csvSink, err := csvoutput.Open(cfg.Output.CSV, logger.With("component", "csv"))
	if err != nil {
		return err
	}
	defer func() {
		if err := csvSink.Close(); err != nil {
			logger.Error("closing csv output failed", "error", err)
		}
	}()

	sinks := assembler.Fanout{csvSink}

	var publisher *natsoutput.Publisher
	if cfg.Output.NATSEnabled {
		client, err := natsclient.NewClient(cfg.Output.NATS.URL,
			natsclient.WithClientName(appName),
		)
		if err != nil {
			return err
		}
		// The broker may come up alongside us
		err = retry.Do(ctx, retry.Quick(), func() error {
			return client.Connect(ctx)
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error("closing nats connection failed", "error", err)
			}
		}()

		publisher, err = natsoutput.NewPublisher(client, cfg.Output.NATS,
			logger.With("component", "nats_output"))
		if err != nil {
			return err
		}
		sinks = append(sinks, publisher)
		logger.Info("publishing records", "url", cfg.Output.NATS.URL, "subject", cfg.Output.NATS.Subject)
	}

	// Stream source
	source, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Metrics endpoint
	var metrics *metric.Metrics
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		registry := metric.NewMetricsRegistry()
		metrics = registry.CoreMetrics()
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	}

	asm := assembler.New(s, sinks,
		assembler.WithMode(mode),
		assembler.WithSealOnTerminal(cfg.Assembler.SealTerminal()),
		assembler.WithLogger(logger.With("component", "assembler")),
		assembler.WithMetrics(metrics),
	)

	logger.Info("starting",
		"input", cfg.Input.File.Path,
		"output", cfg.Output.CSV.Path,
		"mode", mode.String(),
		"follow", cfg.Input.File.Follow)

	g, gctx := errgroup.WithContext(ctx)

	if metricsServer != nil {
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Stop()
		})
	}

	g.Go(func() error {
		// Unblock a follow-mode read waiting for file growth
		<-gctx.Done()
		return source.Close()
	})

	g.Go(func() error {
		defer stop()
		if err := asm.Run(gctx, source); err != nil {
			return err
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				return err
			}
		}
		return nil
	})

	err = g.Wait()

	st := asm.Stats()
	logger.Info("finished",
		"lines", st.Lines,
		"records", st.Emitted,
		"dropped_incomplete", st.DroppedIncomplete,
		"dropped_superseded", st.DroppedSuperseded,
		"parse_errors", st.ParseErrors)

	return err
}

// openSource selects the stream source: a child process when a command is
// configured, the input file (or stdin) otherwise
func openSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (io.ReadCloser, error) {
	if cfg.Input.Exec.Command != "" {
		return execinput.Start(ctx, cfg.Input.Exec, logger.With("component", "exec_input"))
	}
	return fileinput.Open(ctx, cfg.Input.File, logger.With("component", "file_input"))
}
