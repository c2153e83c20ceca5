package assembler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PauloFidalgo/cmov-5g/errors"
	"github.com/PauloFidalgo/cmov-5g/schema"
)

// captureSink records every emitted row for assertions
type captureSink struct {
	records []schema.Record
	fail    error
}

func (c *captureSink) Emit(rec schema.Record) error {
	if c.fail != nil {
		return c.fail
	}
	c.records = append(c.records, rec)
	return nil
}

// fullEntry returns the field lines of one complete UE measurement, shaped
// like the xApp dump output
func fullEntry(ue int) []string {
	return []string{
		fmt.Sprintf("UE ID type = gNB, amf_ue_ngap_id = %d", ue),
		fmt.Sprintf("ran_ue_id = %d", ue),
		"DRB.PdcpSduVolumeDL = 1000 [kb]",
		"DRB.PdcpSduVolumeUL = 500 [kb]",
		"DRB.RlcSduDelayDl = 0.10 [μs]",
		"DRB.UEThpDl = 5000.0 [kbps]",
		"DRB.UEThpUl = 2500.0 [kbps]",
		"RRU.PrbTotDl = 100 [PRBs]",
		"RRU.PrbTotUl = 50 [PRBs]",
	}
}

func startLine(id, latency int) string {
	return fmt.Sprintf("  %d KPM ind_msg latency = %d [μs]", id, latency)
}

func feed(t *testing.T, a *Assembler, lines ...string) {
	t.Helper()
	for _, line := range lines {
		require.NoError(t, a.Consume(line))
	}
}

func TestAssemblerSingleEntryCompleteWindow(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, startLine(1, 342))
	feed(t, a, fullEntry(1)...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, []string{
		"id", "latency", "amf_ue_ngap_id", "ran_ue_id",
		"PdcpSduVolumeDL", "PdcpSduVolumeUL", "RlcSduDelayDl",
		"UEThpDl", "UEThpUl", "PrbTotDl", "PrbTotUl",
	}, rec.Columns())
	assert.Equal(t, []string{
		"1", "342", "1", "1", "1000", "500", "0.10", "5000.0", "2500.0", "100", "50",
	}, rec.Values())
}

func TestAssemblerFlushOnNextStart(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, startLine(7, 100))
	feed(t, a, fullEntry(1)...)
	// First window is not flushed until this marker arrives
	assert.Empty(t, sink.records)
	feed(t, a, startLine(8, 200))
	require.Len(t, sink.records, 1)

	feed(t, a, fullEntry(2)...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 2)
	id0, _ := sink.records[0].Get("id")
	id1, _ := sink.records[1].Get("id")
	assert.Equal(t, "7", id0)
	assert.Equal(t, "8", id1)
}

func TestAssemblerCompletenessGate(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	// Missing RRU.PrbTotUl: every other field present
	lines := fullEntry(1)
	feed(t, a, startLine(1, 50))
	feed(t, a, lines[:len(lines)-1]...)
	require.NoError(t, a.Close())

	assert.Empty(t, sink.records)
	assert.Equal(t, int64(1), a.Stats().DroppedIncomplete)
}

func TestAssemblerTrailingIncompleteWindow(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)
	feed(t, a, startLine(2, 60))
	feed(t, a, "ran_ue_id = 2")
	require.NoError(t, a.Close())

	// The complete first window survives, the trailing partial does not
	require.Len(t, sink.records, 1)
	id, _ := sink.records[0].Get("id")
	assert.Equal(t, "1", id)
	assert.Equal(t, int64(1), a.Stats().DroppedIncomplete)
}

func TestAssemblerLastWriteWins(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, startLine(1, 50))
	feed(t, a, "RRU.PrbTotDl = 11 [PRBs]")
	feed(t, a, fullEntry(1)...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	v, ok := sink.records[0].Get("PrbTotDl")
	require.True(t, ok)
	assert.Equal(t, "100", v)
}

func TestAssemblerMalformedValueIsRecoverable(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, startLine(1, 50))
	// Bad value for an int field, then the good entry
	require.NoError(t, a.Consume("RRU.PrbTotDl = garbage [PRBs]"))
	feed(t, a, fullEntry(1)...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	assert.Equal(t, int64(1), a.Stats().ParseErrors)
}

func TestAssemblerIgnoresPreamble(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a,
		"[UTIL]: Setting the config -c file to /usr/local/etc/flexric/flexric.conf",
		"[xApp]: Initializing ... ",
		"Connected E2 nodes = 1",
	)
	require.NoError(t, a.Close())

	assert.Empty(t, sink.records)
	assert.Equal(t, int64(3), a.Stats().Ignored)
	assert.Equal(t, int64(0), a.Stats().Orphaned)
}

func TestAssemblerOrphanedFieldBeforeStart(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, "ran_ue_id = 3")
	require.NoError(t, a.Close())

	assert.Empty(t, sink.records)
	assert.Equal(t, int64(1), a.Stats().Orphaned)
}

func TestAssemblerMultiEntryWindow(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink, WithMode(MultiEntry))

	feed(t, a, startLine(4, 77))
	feed(t, a, fullEntry(1)...)
	feed(t, a, fullEntry(2)...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 2)
	for i, want := range []string{"1", "2"} {
		id, _ := sink.records[i].Get("id")
		lat, _ := sink.records[i].Get("latency")
		ue, _ := sink.records[i].Get("amf_ue_ngap_id")
		assert.Equal(t, "4", id)
		assert.Equal(t, "77", lat)
		assert.Equal(t, want, ue)
	}
}

func TestAssemblerMultiEntryFieldBeforeIdentifying(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink, WithMode(MultiEntry))

	feed(t, a, startLine(1, 50))
	// No entry is open until amf_ue_ngap_id arrives
	feed(t, a, "ran_ue_id = 9")
	feed(t, a, fullEntry(1)...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	v, _ := sink.records[0].Get("ran_ue_id")
	assert.Equal(t, "1", v)
	assert.Equal(t, int64(1), a.Stats().Orphaned)
}

func TestAssemblerMultiEntrySupersededIncomplete(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink, WithMode(MultiEntry))

	feed(t, a, startLine(1, 50))
	feed(t, a, "UE ID type = gNB, amf_ue_ngap_id = 1")
	feed(t, a, "ran_ue_id = 1")
	// Next identifying field discards the half-built first entry
	feed(t, a, fullEntry(2)...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	ue, _ := sink.records[0].Get("amf_ue_ngap_id")
	assert.Equal(t, "2", ue)
	assert.Equal(t, int64(1), a.Stats().DroppedSuperseded)
}

func TestAssemblerMultiEntryIdentifyingUpdate(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink, WithMode(MultiEntry))

	feed(t, a, startLine(1, 50))
	// Identifying repeats before any other field: an update, not a boundary
	feed(t, a, "UE ID type = gNB, amf_ue_ngap_id = 1")
	feed(t, a, "UE ID type = gNB, amf_ue_ngap_id = 5")
	feed(t, a, fullEntry(5)[1:]...)
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	ue, _ := sink.records[0].Get("amf_ue_ngap_id")
	assert.Equal(t, "5", ue)
	assert.Equal(t, int64(0), a.Stats().DroppedSuperseded)
}

func TestAssemblerSealOnTerminalDisabled(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink, WithMode(MultiEntry), WithSealOnTerminal(false))

	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)
	// With sealing disabled the entry stays current, so a late duplicate
	// still lands on it
	feed(t, a, "RRU.PrbTotDl = 123 [PRBs]")
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	v, _ := sink.records[0].Get("PrbTotDl")
	assert.Equal(t, "123", v)
}

func TestAssemblerSealOnTerminalDropsLateFields(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink, WithMode(MultiEntry))

	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)
	// Entry sealed by the terminal field: this arrives with no entry open
	feed(t, a, "RRU.PrbTotDl = 123 [PRBs]")
	require.NoError(t, a.Close())

	require.Len(t, sink.records, 1)
	v, _ := sink.records[0].Get("PrbTotDl")
	assert.Equal(t, "100", v)
	assert.Equal(t, int64(1), a.Stats().Orphaned)
}

func TestAssemblerConsumeAfterClose(t *testing.T) {
	a := New(schema.Default(), &captureSink{})
	require.NoError(t, a.Close())

	err := a.Consume(startLine(1, 50))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestAssemblerCloseIdempotent(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.Len(t, sink.records, 1)
}

func TestAssemblerSinkFailureIsFatal(t *testing.T) {
	sink := &captureSink{fail: fmt.Errorf("disk full")}
	a := New(schema.Default(), sink)

	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)

	err := a.Consume(startLine(2, 60))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestAssemblerStats(t *testing.T) {
	sink := &captureSink{}
	a := New(schema.Default(), sink)

	feed(t, a, "[xApp]: Initializing ... ")
	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)
	feed(t, a, startLine(2, 60))
	require.NoError(t, a.Close())

	st := a.Stats()
	assert.Equal(t, int64(12), st.Lines)
	assert.Equal(t, int64(2), st.Starts)
	assert.Equal(t, int64(9), st.Fields)
	assert.Equal(t, int64(1), st.Ignored)
	assert.Equal(t, int64(1), st.Emitted)
	assert.Equal(t, int64(1), st.DroppedIncomplete)
}

func TestAssemblerRerunDeterministic(t *testing.T) {
	var lines []string
	lines = append(lines, startLine(1, 50))
	lines = append(lines, fullEntry(1)...)
	lines = append(lines, startLine(2, 60))
	lines = append(lines, fullEntry(2)...)
	lines = append(lines, startLine(3, 70))
	lines = append(lines, "ran_ue_id = 3")

	run := func() [][]string {
		sink := &captureSink{}
		a := New(schema.Default(), sink)
		feed(t, a, lines...)
		require.NoError(t, a.Close())
		out := make([][]string, len(sink.records))
		for i, r := range sink.records {
			out[i] = r.Values()
		}
		return out
	}

	first := run()
	require.Len(t, first, 2)
	assert.Equal(t, first, run())
}

func TestRunReader(t *testing.T) {
	var b strings.Builder
	b.WriteString("[xApp]: Initializing ... \n")
	b.WriteString(startLine(1, 342) + "\n")
	for _, l := range fullEntry(1) {
		b.WriteString(l + "\n")
	}

	sink := &captureSink{}
	a := New(schema.Default(), sink)
	require.NoError(t, a.Run(context.Background(), strings.NewReader(b.String())))

	require.Len(t, sink.records, 1)
	lat, _ := sink.records[0].Get("latency")
	assert.Equal(t, "342", lat)
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &captureSink{}
	a := New(schema.Default(), sink)
	err := a.Run(ctx, strings.NewReader(startLine(1, 50)+"\n"))
	require.NoError(t, err)
	assert.True(t, a.closed)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("connection reset")
}

func TestRunReadError(t *testing.T) {
	a := New(schema.Default(), &captureSink{})
	err := a.Run(context.Background(), io.MultiReader(strings.NewReader(startLine(1, 50)+"\n"), errReader{}))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestFanout(t *testing.T) {
	first := &captureSink{}
	second := &captureSink{}
	a := New(schema.Default(), Fanout{first, second})

	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)
	require.NoError(t, a.Close())

	require.Len(t, first.records, 1)
	require.Len(t, second.records, 1)
	assert.Equal(t, first.records[0].Values(), second.records[0].Values())
}

func TestFanoutStopsOnFailure(t *testing.T) {
	ok := &captureSink{}
	bad := SinkFunc(func(schema.Record) error { return fmt.Errorf("publish failed") })
	late := &captureSink{}
	a := New(schema.Default(), Fanout{ok, bad, late})

	feed(t, a, startLine(1, 50))
	feed(t, a, fullEntry(1)...)

	err := a.Close()
	require.Error(t, err)
	assert.Len(t, ok.records, 1)
	assert.Empty(t, late.records)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"single", SingleEntry, false},
		{"", SingleEntry, false},
		{"multi", MultiEntry, false},
		{"MULTI", MultiEntry, false},
		{"batch", 0, true},
	}

	for _, tt := range tests {
		t.Run("mode_"+tt.input, func(t *testing.T) {
			m, err := ParseMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)
		})
	}
}
