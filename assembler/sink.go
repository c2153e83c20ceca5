package assembler

import (
	"github.com/PauloFidalgo/cmov-5g/errors"
	"github.com/PauloFidalgo/cmov-5g/schema"
)

// Sink receives completed records in emission order. Implementations must
// preserve that order; the assembler never batches or reorders. An Emit
// failure is fatal to the stream.
type Sink interface {
	Emit(rec schema.Record) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(rec schema.Record) error

// Emit implements Sink
func (f SinkFunc) Emit(rec schema.Record) error {
	return f(rec)
}

// Fanout emits each record to every sink in order, stopping at the first
// failure. Used to write CSV and publish to NATS from one stream.
type Fanout []Sink

// Emit implements Sink
func (f Fanout) Emit(rec schema.Record) error {
	for _, s := range f {
		if err := s.Emit(rec); err != nil {
			return errors.Wrap(err, "Fanout", "Emit", "emit to sink")
		}
	}
	return nil
}
