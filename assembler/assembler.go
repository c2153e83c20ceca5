// Package assembler reconstructs discrete telemetry records from an unbounded,
// line-oriented measurement stream. A record window opens at each start marker
// and closes at the next one (or end of input); entries accumulating inside a
// window are emitted only when every schema field was captured.
package assembler

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/PauloFidalgo/cmov-5g/errors"
	"github.com/PauloFidalgo/cmov-5g/metric"
	"github.com/PauloFidalgo/cmov-5g/schema"
)

// Mode selects how many entries a record window may accumulate
type Mode int

const (
	// SingleEntry keeps exactly one pending entry per window
	SingleEntry Mode = iota
	// MultiEntry opens a new pending entry on each identifying field,
	// allowing stats for several UEs under one measurement window
	MultiEntry
)

// String returns the string representation of Mode
func (m Mode) String() string {
	switch m {
	case SingleEntry:
		return "single"
	case MultiEntry:
		return "multi"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name from configuration
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "single", "":
		return SingleEntry, nil
	case "multi":
		return MultiEntry, nil
	default:
		return 0, errors.WrapInvalid(
			fmt.Errorf("unknown assembler mode %q", s),
			"Assembler", "ParseMode", "mode parsing")
	}
}

// Stats counts what the assembler saw and did. Dropped entries are
// diagnostics, not errors; only sink failures surface as errors.
type Stats struct {
	Lines             int64 // input lines consumed
	Starts            int64 // record-start markers observed
	Fields            int64 // lines matched to an ordinary field
	Ignored           int64 // lines matching no pattern
	ParseErrors       int64 // matched lines with malformed numeric values
	Emitted           int64 // completed records handed to the sink
	DroppedIncomplete int64 // entries failing the completeness gate at flush
	DroppedSuperseded int64 // entries discarded by a new identifying field
	Orphaned          int64 // fields observed with no open window or entry
}

// entry is one in-progress record: a field→value mapping built incrementally.
// captured counts ordinary fields set since the entry opened; the identifying
// field only starts a new entry once at least one other field landed here.
type entry struct {
	values   map[string]string
	captured int
}

func newEntry(id, latency string) *entry {
	return &entry{values: map[string]string{
		schema.NameID:      id,
		schema.NameLatency: latency,
	}}
}

// window is the span between two record-start markers
type window struct {
	id      string
	latency string
	current *entry
	sealed  []*entry
}

// Assembler is the stateful line classifier and field accumulator. It owns
// all pending entry state for the duration of the stream; entries are never
// exposed until sealed and complete. Not safe for concurrent use: the input
// is a single ordered stream.
type Assembler struct {
	schema         *schema.Schema
	sink           Sink
	mode           Mode
	sealOnTerminal bool
	logger         *slog.Logger
	metrics        *metric.Metrics
	parseLogLimit  *rate.Limiter

	win    *window
	closed bool
	stats  Stats
}

// Option configures an Assembler
type Option func(*Assembler)

// WithMode selects single- or multi-entry windowing
func WithMode(m Mode) Option {
	return func(a *Assembler) { a.mode = m }
}

// WithSealOnTerminal controls whether observing the last schema field seals
// the current entry immediately (multi-entry mode). The default is true,
// matching the generator's emission order; disable it when the terminal
// field is not guaranteed to arrive last.
func WithSealOnTerminal(seal bool) Option {
	return func(a *Assembler) { a.sealOnTerminal = seal }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) { a.logger = logger }
}

// WithMetrics enables Prometheus instrumentation (nil disables)
func WithMetrics(m *metric.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// New creates an Assembler writing completed records to sink
func New(s *schema.Schema, sink Sink, opts ...Option) *Assembler {
	a := &Assembler{
		schema:         s,
		sink:           sink,
		mode:           SingleEntry,
		sealOnTerminal: true,
		// Malformed input floods must not drown the log
		parseLogLimit: rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default().With("component", "assembler")
	}
	return a
}

// Consume processes one input line. All line-level conditions (unrecognized
// lines, malformed values) are recoverable and return nil; only sink write
// failures propagate, and they are fatal.
func (a *Assembler) Consume(line string) error {
	if a.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Assembler", "Consume", "consume after close")
	}

	a.stats.Lines++
	if a.metrics != nil {
		a.metrics.RecordLineConsumed()
	}

	m, err := a.schema.Classify(line)
	if err != nil {
		a.stats.ParseErrors++
		if a.metrics != nil {
			a.metrics.RecordParseError(fieldOf(err))
		}
		if a.parseLogLimit.Allow() {
			a.logger.Warn("malformed field value, line skipped", "error", err)
		}
		return nil
	}

	switch m.Class {
	case schema.LineStart:
		a.stats.Starts++
		return a.openWindow(m.ID, m.Latency)
	case schema.LineField:
		a.stats.Fields++
		if a.metrics != nil {
			a.metrics.RecordFieldMatched()
		}
		a.handleField(m.Field, m.Value)
		return nil
	default:
		a.stats.Ignored++
		if a.metrics != nil {
			a.metrics.RecordLineIgnored()
		}
		return nil
	}
}

// Close flushes the open window and terminates the assembler. Safe to call
// once at end of input; the flush-on-close rule guarantees no data loss on
// graceful shutdown.
func (a *Assembler) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	if a.win == nil {
		return nil
	}
	win := a.win
	a.win = nil
	return a.flush(win)
}

// Stats returns a snapshot of the processing counters
func (a *Assembler) Stats() Stats {
	return a.stats
}

// openWindow flushes the previous window (if any) and starts the next one
func (a *Assembler) openWindow(id, latency string) error {
	if a.win != nil {
		if err := a.flush(a.win); err != nil {
			return err
		}
	}

	a.win = &window{id: id, latency: latency}
	if a.mode == SingleEntry {
		// The window's one entry, pre-populated with id and latency only
		a.win.current = newEntry(id, latency)
	}

	if a.metrics != nil {
		a.metrics.RecordWindowOpened()
	}
	a.logger.Debug("window opened", "id", id, "latency", latency)
	return nil
}

// handleField applies one matched field to the current window state
func (a *Assembler) handleField(field, value string) {
	if a.win == nil {
		// Field before any start marker: unattributable
		a.stats.Orphaned++
		if a.metrics != nil {
			a.metrics.RecordDropped(metric.DropOrphaned)
		}
		return
	}

	if a.mode == MultiEntry && field == a.schema.Identifying() {
		a.handleIdentifying(field, value)
		return
	}

	cur := a.win.current
	if cur == nil {
		// Multi-entry mode before the first identifying field: nothing to
		// attribute the value to.
		a.stats.Orphaned++
		if a.metrics != nil {
			a.metrics.RecordDropped(metric.DropOrphaned)
		}
		return
	}

	// Last write wins; duplicates are not an error
	cur.values[field] = value
	cur.captured++

	if a.mode == MultiEntry && a.sealOnTerminal && field == a.schema.Terminal() {
		a.win.sealed = append(a.win.sealed, cur)
		a.win.current = nil
	}
}

// handleIdentifying starts a new pending entry within the window, seeded with
// the window's id and latency. An in-progress entry that already captured
// other fields is sealed if complete, otherwise discarded: last write wins
// per sub-entry, no carry-over.
func (a *Assembler) handleIdentifying(field, value string) {
	cur := a.win.current
	if cur != nil {
		if cur.captured == 0 {
			// No other field captured yet: an update, not a new boundary
			cur.values[field] = value
			return
		}
		if _, ok := a.schema.Complete(cur.values); ok {
			a.win.sealed = append(a.win.sealed, cur)
		} else {
			a.stats.DroppedSuperseded++
			if a.metrics != nil {
				a.metrics.RecordDropped(metric.DropSuperseded)
			}
			a.logger.Debug("incomplete entry superseded", "window_id", a.win.id)
		}
	}

	next := newEntry(a.win.id, a.win.latency)
	next.values[field] = value
	a.win.current = next
}

// flush closes a window: every sealed entry, then the in-progress one, is
// checked against the full schema in creation order; complete entries go to
// the sink, incomplete ones are dropped silently.
func (a *Assembler) flush(win *window) error {
	entries := win.sealed
	if win.current != nil {
		entries = append(entries, win.current)
	}

	for _, e := range entries {
		rec, ok := a.schema.Complete(e.values)
		if !ok {
			a.stats.DroppedIncomplete++
			if a.metrics != nil {
				a.metrics.RecordDropped(metric.DropIncomplete)
			}
			a.logger.Debug("incomplete entry dropped",
				"window_id", win.id,
				"captured", len(e.values),
				"required", len(a.schema.Required()))
			continue
		}

		start := time.Now()
		if err := a.sink.Emit(rec); err != nil {
			return errors.WrapFatal(err, "Assembler", "flush", "emit record")
		}
		if a.metrics != nil {
			a.metrics.RecordEmitted()
			a.metrics.ObserveEmitDuration(time.Since(start))
		}
		a.stats.Emitted++
	}

	return nil
}

// fieldOf pulls the field name out of a classify error for metric labels.
// Falling back to "unknown" keeps the label set bounded.
func fieldOf(err error) string {
	var ve *schema.ValueError
	if stderrors.As(err, &ve) {
		return ve.Field
	}
	return "unknown"
}
