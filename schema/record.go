package schema

// Record is a completed telemetry record: one value per schema field, in
// declared order. Records are immutable once built; the assembler never
// mutates or re-reads a record after handing it to a sink.
type Record struct {
	columns []string
	values  []string
}

// Columns returns the column headers in schema order
func (r Record) Columns() []string {
	return r.columns
}

// Values returns the captured values in schema order
func (r Record) Values() []string {
	return r.values
}

// Get returns the value for an output column
func (r Record) Get(column string) (string, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return "", false
}

// Map returns the record as a column→value mapping, used by sinks that
// publish structured payloads instead of delimited rows.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}
