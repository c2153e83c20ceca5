package assembler

import (
	"bufio"
	"context"
	"io"

	"github.com/PauloFidalgo/cmov-5g/errors"
)

// maxLineSize bounds a single input line. Telemetry dump lines are short;
// anything near this limit is garbage, not data.
const maxLineSize = 1024 * 1024

// Run consumes r line by line until end of input or context cancellation,
// then closes the assembler so the final open window is flushed. Cancellation
// is an orderly shutdown, not an error: already-assembled records are kept
// and the trailing window is flushed on the way out.
func (a *Assembler) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return a.Close()
		default:
		}

		if err := a.Consume(scanner.Text()); err != nil {
			// Sink failure: already-written rows stay valid, stop here
			a.closed = true
			a.win = nil
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		closeErr := a.Close()
		if closeErr != nil {
			return closeErr
		}
		return errors.WrapTransient(err, "Assembler", "Run", "read input")
	}

	return a.Close()
}
