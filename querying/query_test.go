package querying

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trace "github.com/aditiharini/drone-mesh/traces"
)

func records() []trace.Record {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }
	return []trace.Record{
		{Time: at(0), Event: "packet_forwarded", Node: 1, Packet: "fragment", Session: 1, HopIndex: 1, NextHop: 2},
		{Time: at(1), Event: "packet_dropped", Node: 2, Packet: "fragment", Session: 1, HopIndex: 2, NextHop: 3, Reason: "pdr"},
		{Time: at(2), Event: "packet_forwarded", Node: 2, Packet: "nack", Session: 1, NextHop: 1},
		{Time: at(3), Event: "packet_forwarded", Node: 1, Packet: "nack", Session: 1, HopIndex: 1, NextHop: 10},
		{Time: at(10), Event: "packet_forwarded", Node: 1, Packet: "fragment", Session: 1, HopIndex: 1, NextHop: 2},
		{Time: at(11), Event: "packet_forwarded", Node: 2, Packet: "fragment", Session: 1, HopIndex: 2, NextHop: 3},
		{Time: at(20), Event: "packet_dropped", Node: 3, Packet: "fragment", Session: 2, HopIndex: 3, NextHop: 4, Reason: "error_in_routing"},
		{Time: at(21), Event: "packet_dropped", Node: 3, Packet: "flood_request", Session: 1, Reason: "pdr"},
	}
}

func TestDropRateQuery(t *testing.T) {
	table, err := DropRateQuery{}.Execute(records())
	require.NoError(t, err)

	assert.Equal(t, []string{"node", "forwarded", "dropped_pdr", "dropped_other", "drop_rate"}, table.Columns)
	assert.Equal(t, [][]string{
		{"1", "2", "0", "0", "0.0000"},
		{"2", "1", "1", "0", "0.5000"},
		{"3", "0", "0", "1", "0.0000"},
	}, table.Rows)
}

func TestSessionQuery(t *testing.T) {
	table, err := SessionQuery{Session: 2}.Execute(records())
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"20", "packet_dropped", "3", "fragment", "0", "3", "4", "error_in_routing"},
	}, table.Rows)

	table, err = SessionQuery{Session: 1}.Execute(records())
	require.NoError(t, err)
	assert.Len(t, table.Rows, 7)
	assert.Equal(t, []string{"2", "packet_forwarded", "2", "nack", "0", "0", "1", ""}, table.Rows[2])
}

func TestDropReasonQuery(t *testing.T) {
	table, err := DropReasonQuery{}.Execute(records())
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"error_in_routing", "fragment", "1"},
		{"pdr", "flood_request", "1"},
		{"pdr", "fragment", "1"},
	}, table.Rows)
}

func TestRangeQuery(t *testing.T) {
	query := RangeQuery{Input: DropRateQuery{Output: "drops.csv"}, StartMilliOffset: 5, Length: 10}
	table, err := query.Execute(records())
	require.NoError(t, err)
	assert.Equal(t, "drops.csv", query.Outfile())
	assert.Equal(t, [][]string{
		{"1", "1", "0", "0", "0.0000"},
		{"2", "1", "0", "0", "0.0000"},
	}, table.Rows)
}

func TestParseQueries(t *testing.T) {
	queries, err := ParseQueries([]byte(`[
		{"type": "drop_rate", "output": "drop_rate.csv"},
		{"type": "session", "session": 7, "output": "session7.csv"},
		{"type": "drops", "output": "drops.csv"},
		{"type": "range", "start": 100, "length": 500, "input": {"type": "drop_rate", "output": "early.csv"}}
	]`))
	require.NoError(t, err)
	require.Len(t, queries, 4)

	assert.Equal(t, DropRateQuery{Output: "drop_rate.csv"}, queries[0])
	assert.Equal(t, SessionQuery{Session: 7, Output: "session7.csv"}, queries[1])
	assert.Equal(t, DropReasonQuery{Output: "drops.csv"}, queries[2])
	assert.Equal(t, RangeQuery{Input: DropRateQuery{Output: "early.csv"}, StartMilliOffset: 100, Length: 500}, queries[3])
	assert.Equal(t, "early.csv", queries[3].Outfile())
}

func TestShippedQueries(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "config", "queries", "default.json"))
	require.NoError(t, err)
	queries, err := ParseQueries(data)
	require.NoError(t, err)
	require.Len(t, queries, 4)
	assert.Equal(t, RangeQuery{Input: DropRateQuery{Output: "fade_drop_rate.csv"}, StartMilliOffset: 2000, Length: 4000}, queries[2])
}

func TestParseQueryErrors(t *testing.T) {
	for _, input := range []string{
		`{`,
		`[{"type": "latency"}]`,
		`[{"type": "range", "length": 10}]`,
		`[{"type": "range", "input": {"type": "drops"}}]`,
		`[{"type": "range", "length": 10, "input": {"type": "nope"}}]`,
		`[{"type": "session", "session": "x"}]`,
	} {
		_, err := ParseQueries([]byte(input))
		assert.ErrorIs(t, err, ErrInvalidQuery, input)
	}
}

func TestTableCsv(t *testing.T) {
	table := NewTable("node", "reason")
	table.Append("1", "pdr")
	table.Append("2", "has,comma")

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf))
	want := "node,reason\n1,pdr\n2,\"has,comma\"\n"
	assert.Equal(t, want, buf.String())

	filename := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, table.ToCsv(filename))
	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}
