// Package schema declares the ordered set of recognized telemetry fields and
// classifies raw input lines against them. The field order is fixed at
// construction time and defines both the output column order and the
// completeness checklist used by the assembler.
package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PauloFidalgo/cmov-5g/errors"
)

// Reserved field names seeded from the record-start line rather than matched
// against ordinary field patterns.
const (
	NameID      = "id"
	NameLatency = "latency"
)

// defaultStartPattern matches the KPM indication header line emitted by the
// FlexRIC xApp: "  <id> KPM ind_msg latency = <latency> [μs]".
const defaultStartPattern = `^\s*(\d+)\s+KPM ind_msg latency\s*=\s*(\d+)`

// Kind describes the numeric kind of a field value. Values are validated
// against their kind but stored as the captured text so that emitted rows
// preserve the source formatting exactly.
type Kind int

const (
	// KindInt is an integer-valued field
	KindInt Kind = iota
	// KindDecimal is a decimal-valued field
	KindDecimal
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name from configuration
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "int", "integer":
		return KindInt, nil
	case "decimal", "float":
		return KindDecimal, nil
	default:
		return 0, errors.WrapInvalid(
			fmt.Errorf("unknown field kind %q", s),
			"Schema", "ParseKind", "kind parsing")
	}
}

// FieldSpec declares one ordinary field for schema construction
type FieldSpec struct {
	Name   string `json:"name"             yaml:"name"`   // token matched in the raw stream, e.g. "DRB.UEThpDl"
	Column string `json:"column,omitempty" yaml:"column"` // output column header; defaults to Name
	Kind   string `json:"kind"             yaml:"kind"`   // "int" or "decimal"
}

// Spec declares a complete schema for construction from configuration
type Spec struct {
	IDColumn      string      `json:"id_column,omitempty"      yaml:"id_column"`
	LatencyColumn string      `json:"latency_column,omitempty" yaml:"latency_column"`
	StartPattern  string      `json:"start_pattern,omitempty"  yaml:"start_pattern"`
	Identifying   string      `json:"identifying"              yaml:"identifying"`
	Fields        []FieldSpec `json:"fields"                   yaml:"fields"`
}

// Field is one ordinary field descriptor with its compiled matcher
type Field struct {
	Name    string
	Column  string
	Kind    Kind
	matcher *regexp.Regexp
}

// Schema is an immutable, ordered field registry plus the record-start
// pattern. Matching is first-match-wins across fields in declared order.
type Schema struct {
	fields      []Field
	byName      map[string]int
	start       *regexp.Regexp
	identifying string
	idColumn    string
	latColumn   string
	required    []string
	columns     []string
}

// New builds a Schema from a Spec. The field order in spec.Fields is
// preserved and never changes afterwards.
func New(spec Spec) (*Schema, error) {
	if len(spec.Fields) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Schema", "New", "at least one field required")
	}

	startPattern := spec.StartPattern
	if startPattern == "" {
		startPattern = defaultStartPattern
	}
	start, err := regexp.Compile(startPattern)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "New", "compile start pattern")
	}
	if start.NumSubexp() != 2 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("start pattern must capture exactly (id, latency), got %d groups", start.NumSubexp()),
			"Schema", "New", "validate start pattern")
	}

	idColumn := spec.IDColumn
	if idColumn == "" {
		idColumn = NameID
	}
	latColumn := spec.LatencyColumn
	if latColumn == "" {
		latColumn = NameLatency
	}

	s := &Schema{
		start:       start,
		identifying: spec.Identifying,
		idColumn:    idColumn,
		latColumn:   latColumn,
		byName:      make(map[string]int, len(spec.Fields)),
	}

	for i, fs := range spec.Fields {
		if fs.Name == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("field %d has empty name", i),
				"Schema", "New", "validate fields")
		}
		if fs.Name == NameID || fs.Name == NameLatency {
			return nil, errors.WrapInvalid(
				fmt.Errorf("field name %q is reserved for the record-start line", fs.Name),
				"Schema", "New", "validate fields")
		}
		if _, dup := s.byName[fs.Name]; dup {
			return nil, errors.WrapInvalid(
				fmt.Errorf("duplicate field %q", fs.Name),
				"Schema", "New", "validate fields")
		}
		kind, err := ParseKind(fs.Kind)
		if err != nil {
			return nil, err
		}
		column := fs.Column
		if column == "" {
			column = fs.Name
		}
		s.byName[fs.Name] = i
		s.fields = append(s.fields, Field{
			Name:   fs.Name,
			Column: column,
			Kind:   kind,
			// Unanchored: the field token can sit mid-line
			// ("UE ID type = gNB, amf_ue_ngap_id = 1").
			matcher: regexp.MustCompile(regexp.QuoteMeta(fs.Name) + `\s*=\s*(\S+)`),
		})
	}

	if s.identifying != "" {
		if _, ok := s.byName[s.identifying]; !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("identifying field %q is not declared", s.identifying),
				"Schema", "New", "validate identifying field")
		}
	}

	s.required = make([]string, 0, len(s.fields)+2)
	s.required = append(s.required, NameID, NameLatency)
	s.columns = make([]string, 0, len(s.fields)+2)
	s.columns = append(s.columns, idColumn, latColumn)
	for _, f := range s.fields {
		s.required = append(s.required, f.Name)
		s.columns = append(s.columns, f.Column)
	}

	return s, nil
}

// Default returns the KPM indication schema matching the FlexRIC xApp dump
// format. Column names follow the original analysis pipeline so downstream
// dataframes keep their headers.
func Default() *Schema {
	s, err := New(Spec{
		Identifying: "amf_ue_ngap_id",
		Fields: []FieldSpec{
			{Name: "amf_ue_ngap_id", Kind: "int"},
			{Name: "ran_ue_id", Kind: "int"},
			{Name: "DRB.PdcpSduVolumeDL", Column: "PdcpSduVolumeDL", Kind: "int"},
			{Name: "DRB.PdcpSduVolumeUL", Column: "PdcpSduVolumeUL", Kind: "int"},
			{Name: "DRB.RlcSduDelayDl", Column: "RlcSduDelayDl", Kind: "decimal"},
			{Name: "DRB.UEThpDl", Column: "UEThpDl", Kind: "decimal"},
			{Name: "DRB.UEThpUl", Column: "UEThpUl", Kind: "decimal"},
			{Name: "RRU.PrbTotDl", Column: "PrbTotDl", Kind: "int"},
			{Name: "RRU.PrbTotUl", Column: "PrbTotUl", Kind: "int"},
		},
	})
	if err != nil {
		// The default spec is a compile-time constant; a failure here is a bug.
		panic(err)
	}
	return s
}

// Fields returns the ordinary field descriptors in declared order
func (s *Schema) Fields() []Field {
	return s.fields
}

// Required returns every field name a completed record must carry, in
// declared order: "id", "latency", then the ordinary fields.
func (s *Schema) Required() []string {
	return s.required
}

// Columns returns the output header row in declared order
func (s *Schema) Columns() []string {
	return s.columns
}

// Identifying returns the field whose reappearance within a window opens a
// new pending entry, or "" when the schema has none.
func (s *Schema) Identifying() string {
	return s.identifying
}

// Terminal returns the last ordinary field in declared order, the field
// whose observation seals an entry when terminal sealing is enabled.
func (s *Schema) Terminal() string {
	return s.fields[len(s.fields)-1].Name
}

// ValueError reports a matched field whose captured text failed validation
// against its declared numeric kind. It is recoverable: the caller treats the
// line as unmatched and continues.
type ValueError struct {
	Field  string
	Value  string
	Reason error
}

// Error implements the error interface
func (e *ValueError) Error() string {
	return fmt.Sprintf("field %s: value %q: %v", e.Field, e.Value, errors.ErrMalformedValue)
}

// Unwrap lets callers classify the error via errors.Is
func (e *ValueError) Unwrap() error {
	return errors.ErrMalformedValue
}

// LineClass tells the assembler what a raw input line is
type LineClass int

const (
	// LineIgnored is a line matching no pattern; not an error
	LineIgnored LineClass = iota
	// LineStart is a record-start marker carrying id and latency
	LineStart
	// LineField is an ordinary field line
	LineField
)

// Match is the result of classifying one raw line
type Match struct {
	Class LineClass

	// Set for LineField
	Field string
	Value string

	// Set for LineStart
	ID      string
	Latency string
}

// Classify matches a raw line in a single pass: the record-start pattern
// first, then ordinary fields first-match-wins in declared order. A line
// matching nothing yields LineIgnored with a nil error. A matched field whose
// captured text is not valid for its declared kind yields LineIgnored with a
// recoverable error wrapping ErrMalformedValue; the stream must continue.
func (s *Schema) Classify(line string) (Match, error) {
	if m := s.start.FindStringSubmatch(line); m != nil {
		return Match{Class: LineStart, ID: m[1], Latency: m[2]}, nil
	}

	for i := range s.fields {
		f := &s.fields[i]
		m := f.matcher.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if err := validateKind(m[1], f.Kind); err != nil {
			return Match{}, &ValueError{Field: f.Name, Value: m[1], Reason: err}
		}
		return Match{Class: LineField, Field: f.Name, Value: m[1]}, nil
	}

	return Match{}, nil
}

// validateKind checks the captured text against the declared numeric kind.
// The text itself is what gets stored and emitted.
func validateKind(value string, kind Kind) error {
	switch kind {
	case KindInt:
		_, err := strconv.ParseInt(value, 10, 64)
		return err
	case KindDecimal:
		_, err := strconv.ParseFloat(value, 64)
		return err
	default:
		return fmt.Errorf("unknown kind %d", kind)
	}
}

// Complete checks the captured values against the full required field list
// and, when every field is present, returns the ordered completed record.
// Partially filled value sets yield ok=false and no record.
func (s *Schema) Complete(values map[string]string) (Record, bool) {
	ordered := make([]string, 0, len(s.required))
	for _, name := range s.required {
		v, present := values[name]
		if !present {
			return Record{}, false
		}
		ordered = append(ordered, v)
	}
	return Record{columns: s.columns, values: ordered}, true
}
