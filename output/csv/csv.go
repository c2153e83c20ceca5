// Package csv writes completed telemetry records as delimited rows. The
// header row is written once, before the first record; rows are joined with
// a plain comma because captured values are validated numeric text and can
// never contain the delimiter.
package csv

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/PauloFidalgo/cmov-5g/errors"
	"github.com/PauloFidalgo/cmov-5g/schema"
)

// Config holds configuration for the CSV sink
type Config struct {
	Path       string `json:"path"        yaml:"path"`        // output file; "-" or "" means stdout
	Append     bool   `json:"append"      yaml:"append"`      // append to an existing file instead of truncating
	Delimiter  string `json:"delimiter"   yaml:"delimiter"`   // cell separator; empty selects ","
	BufferSize int    `json:"buffer_size" yaml:"buffer_size"` // writer buffer in bytes; 0 selects the default
	FlushEvery bool   `json:"flush_every" yaml:"flush_every"` // flush after every row instead of on close

	// AllowPartial substitutes Placeholder for empty cells instead of
	// rejecting the row. The assembler's completeness gate never produces
	// one; this exists for callers reusing the sink with relaxed records.
	AllowPartial bool   `json:"allow_partial" yaml:"allow_partial"`
	Placeholder  string `json:"placeholder"   yaml:"placeholder"` // cell text for missing values; empty selects "NaN"
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	if len(c.Delimiter) > 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"delimiter must be a single character")
	}
	return nil
}

// DefaultConfig returns default configuration for the CSV sink
func DefaultConfig() Config {
	return Config{
		Path:       "-",
		Delimiter:  ",",
		BufferSize: 64 * 1024,
		FlushEvery: true,
	}
}

// Writer is a Sink emitting one CSV row per completed record. The header is
// taken from the first record and written lazily, so a run that assembles no
// complete record produces no output at all. Safe for use from one goroutine,
// matching the ordered single-stream emission contract.
type Writer struct {
	w            *bufio.Writer
	closer       io.Closer
	delimiter    string
	flushEvery   bool
	allowPartial bool
	placeholder  string
	logger       *slog.Logger

	mu          sync.Mutex
	headerDone  bool
	rowsWritten int64
	closed      bool
}

// NewWriter wraps an already-open destination
func NewWriter(w io.Writer, cfg Config, logger *slog.Logger) *Writer {
	size := cfg.BufferSize
	if size == 0 {
		size = 64 * 1024
	}
	if logger == nil {
		logger = slog.Default().With("component", "csv")
	}
	cw := &Writer{
		w:            bufio.NewWriterSize(w, size),
		delimiter:    cfg.Delimiter,
		flushEvery:   cfg.FlushEvery,
		allowPartial: cfg.AllowPartial,
		placeholder:  cfg.Placeholder,
		logger:       logger,
	}
	if cw.delimiter == "" {
		cw.delimiter = ","
	}
	if cw.placeholder == "" {
		cw.placeholder = "NaN"
	}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// Open creates a Writer for the configured path, opening or creating the
// file as needed. Stdout is never closed by Close.
func Open(cfg Config, logger *slog.Logger) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Path == "" || cfg.Path == "-" {
		w := NewWriter(os.Stdout, cfg, logger)
		w.closer = nil
		return w, nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Writer", "Open", "open output file")
	}

	w := NewWriter(f, cfg, logger)
	// Appending to a non-empty file: the header is already there
	if cfg.Append {
		if info, statErr := f.Stat(); statErr == nil && info.Size() > 0 {
			w.headerDone = true
		}
	}
	return w, nil
}

// Emit implements assembler.Sink. Any write failure is fatal: a partially
// written output file must not silently keep growing.
func (w *Writer) Emit(rec schema.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.WrapFatal(errors.ErrSinkClosed, "Writer", "Emit", "emit after close")
	}

	values, err := w.fillCells(rec)
	if err != nil {
		return err
	}

	if !w.headerDone {
		if err := w.writeRow(rec.Columns()); err != nil {
			return err
		}
		w.headerDone = true
	}

	if err := w.writeRow(values); err != nil {
		return err
	}
	w.rowsWritten++

	if w.flushEvery {
		if err := w.w.Flush(); err != nil {
			return errors.WrapFatal(err, "Writer", "Emit", "flush row")
		}
	}
	return nil
}

// fillCells resolves empty cells against the partial-row policy. Records
// coming out of the assembler are complete, so the loop usually returns the
// values untouched.
func (w *Writer) fillCells(rec schema.Record) ([]string, error) {
	values := rec.Values()
	for i, v := range values {
		if v != "" {
			continue
		}
		if !w.allowPartial {
			return nil, errors.WrapInvalid(errors.ErrIncompleteRecord,
				"Writer", "Emit", "reject partial record")
		}
		filled := make([]string, len(values))
		copy(filled, values)
		for j := i; j < len(filled); j++ {
			if filled[j] == "" {
				filled[j] = w.placeholder
			}
		}
		return filled, nil
	}
	return values, nil
}

func (w *Writer) writeRow(cells []string) error {
	if _, err := w.w.WriteString(strings.Join(cells, w.delimiter)); err != nil {
		return errors.WrapFatal(err, "Writer", "writeRow", "write row")
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return errors.WrapFatal(err, "Writer", "writeRow", "write row")
	}
	return nil
}

// Rows returns the number of data rows written so far, header excluded
func (w *Writer) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowsWritten
}

// Close flushes buffered rows and closes the underlying file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.w.Flush(); err != nil {
		return errors.WrapFatal(err, "Writer", "Close", "flush output")
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return errors.WrapFatal(err, "Writer", "Close", "close output file")
		}
	}
	w.logger.Debug("csv writer closed", "rows", w.rowsWritten)
	return nil
}
