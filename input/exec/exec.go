// Package exec runs the telemetry producer as a child process and streams
// its stdout, so the assembler can sit directly behind the xApp instead of
// a shell pipeline. Stderr is passed to the logger line by line.
package exec

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/PauloFidalgo/cmov-5g/errors"
)

// Config holds configuration for the exec source
type Config struct {
	Command     string        `json:"command"      yaml:"command"`      // executable to run
	Args        []string      `json:"args"         yaml:"args"`         // arguments
	KillTimeout time.Duration `json:"kill_timeout" yaml:"kill_timeout"` // grace between SIGTERM and SIGKILL
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Command == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "command is required")
	}
	if c.KillTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"kill_timeout cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the exec source
func DefaultConfig() Config {
	return Config{
		KillTimeout: 5 * time.Second,
	}
}

// Source is a running child process whose stdout is the telemetry stream.
// Closing the source interrupts the process and waits for it to exit.
type Source struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	logger *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Start launches the configured command. The returned source's Read yields
// the child's stdout until the process exits; a nonzero exit is reported by
// Close, not by Read, because the stream itself ended normally.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "exec_input")
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.WaitDelay = cfg.KillTimeout
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WrapFatal(err, "Source", "Start", "open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.WrapFatal(err, "Source", "Start", "open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.WrapFatal(err, "Source", "Start", "start command")
	}
	logger.Info("producer started", "command", cfg.Command, "pid", cmd.Process.Pid)

	s := &Source{
		cmd:    cmd,
		stdout: stdout,
		logger: logger,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Warn("producer stderr", "line", scanner.Text())
		}
	}()

	return s, nil
}

// Read implements io.Reader over the child's stdout
func (s *Source) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close waits for the process to exit; CommandContext delivers the kill when
// the surrounding context is cancelled. A nonzero exit status is returned as
// a transient error. Idempotent.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.wg.Wait()
		if err := s.cmd.Wait(); err != nil {
			s.closeErr = errors.WrapTransient(err, "Source", "Close", "wait for producer exit")
			return
		}
		s.logger.Info("producer exited", "command", s.cmd.Path)
	})
	return s.closeErr
}
