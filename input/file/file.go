// Package file reads the raw telemetry dump from disk, either as a finite
// file or by following it as the xApp appends. Follow mode reacts to
// filesystem notifications and falls back to polling, so it works on
// filesystems where inotify is unreliable.
package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/PauloFidalgo/cmov-5g/errors"
	"github.com/PauloFidalgo/cmov-5g/pkg/retry"
)

// Config holds configuration for the file source
type Config struct {
	Path         string        `json:"path"          yaml:"path"`          // input file path; "-" or "" means stdin
	Follow       bool          `json:"follow"        yaml:"follow"`        // keep reading as the file grows
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"` // follow-mode poll fallback
	OpenRetries  int           `json:"open_retries"  yaml:"open_retries"`  // attempts while waiting for the file to appear
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Follow && (c.Path == "" || c.Path == "-") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"follow mode requires a file path")
	}
	if c.PollInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"poll_interval cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the file source
func DefaultConfig() Config {
	return Config{
		Path:         "-",
		PollInterval: 500 * time.Millisecond,
		OpenRetries:  5,
	}
}

// Open returns a reader for the configured source. In follow mode the reader
// blocks at end of file until more data is appended or Close is called; a
// finite read returns io.EOF as usual. The xApp may start after we do, so
// opening retries briefly before giving up.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (io.ReadCloser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "file_input")
	}

	if cfg.Path == "" || cfg.Path == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	retryCfg := retry.Quick()
	if cfg.OpenRetries > 0 {
		retryCfg.MaxAttempts = cfg.OpenRetries
	}

	var f *os.File
	err := retry.Do(ctx, retryCfg, func() error {
		var openErr error
		f, openErr = os.Open(cfg.Path)
		if openErr == nil {
			return nil
		}
		if os.IsNotExist(openErr) {
			// Producer may not have created the file yet
			return openErr
		}
		return retry.NonRetryable(openErr)
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrSourceNotFound, "Source", "Open", "open input file")
	}

	if !cfg.Follow {
		return f, nil
	}
	return newTailReader(f, cfg, logger)
}

// tailReader reads a growing file. At end of file it waits for a write
// notification or the poll interval, whichever fires first, then tries
// again. Close unblocks a pending Read with io.EOF so the line scanner
// terminates cleanly and the final window is flushed.
type tailReader struct {
	f       *os.File
	watcher *fsnotify.Watcher
	poll    time.Duration
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newTailReader(f *os.File, cfg Config, logger *slog.Logger) (*tailReader, error) {
	t := &tailReader{
		f:      f,
		poll:   cfg.PollInterval,
		logger: logger,
		done:   make(chan struct{}),
	}
	if t.poll <= 0 {
		t.poll = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("filesystem notifications unavailable, polling only", "error", err)
		return t, nil
	}
	if err := watcher.Add(cfg.Path); err != nil {
		logger.Warn("cannot watch input file, polling only", "path", cfg.Path, "error", err)
		_ = watcher.Close()
		return t, nil
	}
	t.watcher = watcher
	return t, nil
}

// Read implements io.Reader
func (t *tailReader) Read(p []byte) (int, error) {
	for {
		select {
		case <-t.done:
			return 0, io.EOF
		default:
		}

		n, err := t.f.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		// At end of file: wait for growth or shutdown
		if !t.wait() {
			return 0, io.EOF
		}
	}
}

// wait blocks until the file may have grown. Returns false on shutdown.
func (t *tailReader) wait() bool {
	timer := time.NewTimer(t.poll)
	defer timer.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if t.watcher != nil {
		events = t.watcher.Events
		errs = t.watcher.Errors
	}

	for {
		select {
		case <-t.done:
			return false
		case ev := <-events:
			if ev.Op.Has(fsnotify.Write) {
				return true
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				t.logger.Warn("input file removed while following", "path", ev.Name)
				return false
			}
		case err := <-errs:
			t.logger.Warn("file watch error", "error", err)
		case <-timer.C:
			// Poll fallback: recheck the file even without an event
			return true
		}
	}
}

// Close stops following and closes the file. Idempotent.
func (t *tailReader) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.watcher != nil {
			_ = t.watcher.Close()
		}
		err = t.f.Close()
	})
	return err
}
