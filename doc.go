// Package cmov5g assembles discrete telemetry records from the line-oriented
// KPM indication dumps a FlexRIC monitoring xApp writes to stdout.
//
// # Pipeline
//
// The stream flows through three stages:
//
//   - input: a finite file, a followed (growing) file, or the stdout of a
//     child producer process
//   - assembler: a stateful line classifier that opens a record window at
//     each indication header, accumulates field values, and emits a record
//     only when every schema field was captured
//   - output: a CSV file (or stdout) and, optionally, a NATS subject
//
// Field matching, column order and the completeness checklist all come from
// a single schema declaration; the built-in schema matches the xApp's KPM
// report (PDCP volumes, RLC delay, UE throughput, PRB totals per UE).
//
// # Packages
//
//   - schema: field declarations, line classification, completed records
//   - assembler: the record window state machine and the Sink interface
//   - input/file, input/exec: stream sources
//   - output/csv, output/nats: emission sinks
//   - config: file plus environment configuration
//   - metric: Prometheus counters and the scrape endpoint
//   - errors: error classification (transient, invalid, fatal)
//
// The kpmstream binary under cmd wires these together.
package cmov5g
