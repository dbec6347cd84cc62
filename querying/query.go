package querying

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aditiharini/drone-mesh/network"
	trace "github.com/aditiharini/drone-mesh/traces"
)

// Query turns trace records into a table written to Outfile.
type Query interface {
	Execute(records []trace.Record) (*Table, error)
	Outfile() string
}

// DropRateQuery reports, per drone, how many fragments it forwarded and
// dropped and the drop rate it actually applied.
type DropRateQuery struct {
	Output string `json:"output"`
}

type dropCounts struct {
	forwarded, pdr, other int
}

func (dq DropRateQuery) Execute(records []trace.Record) (*Table, error) {
	counts := make(map[network.NodeID]*dropCounts)
	for _, r := range records {
		if r.Packet != "fragment" {
			continue
		}
		c, ok := counts[r.Node]
		if !ok {
			c = &dropCounts{}
			counts[r.Node] = c
		}
		switch {
		case r.Forwarded():
			c.forwarded++
		case r.Dropped() && r.Reason == "pdr":
			c.pdr++
		case r.Dropped():
			c.other++
		}
	}

	table := NewTable("node", "forwarded", "dropped_pdr", "dropped_other", "drop_rate")
	for _, node := range sortedNodes(counts) {
		c := counts[node]
		rate := 0.
		if sampled := c.forwarded + c.pdr; sampled > 0 {
			rate = float64(c.pdr) / float64(sampled)
		}
		table.Append(
			strconv.Itoa(int(node)),
			strconv.Itoa(c.forwarded),
			strconv.Itoa(c.pdr),
			strconv.Itoa(c.other),
			fmt.Sprintf("%.4f", rate),
		)
	}
	return table, nil
}

func (dq DropRateQuery) Outfile() string {
	return dq.Output
}

// SessionQuery lists every hop taken by packets of one session, in the
// order they happened. Session ids are per sender, so concurrent senders
// using the same id show up together.
type SessionQuery struct {
	Session uint64 `json:"session"`
	Output  string `json:"output"`
}

func (sq SessionQuery) Execute(records []trace.Record) (*Table, error) {
	start := startTime(records)
	table := NewTable("time", "event", "node", "packet", "fragment", "hop_index", "next_hop", "reason")
	for _, r := range records {
		if r.Session != sq.Session {
			continue
		}
		table.Append(
			offsetMillis(r.Time, start),
			r.Event,
			strconv.Itoa(int(r.Node)),
			r.Packet,
			strconv.FormatUint(r.FragmentIndex, 10),
			strconv.Itoa(r.HopIndex),
			strconv.Itoa(int(r.NextHop)),
			r.Reason,
		)
	}
	return table, nil
}

func (sq SessionQuery) Outfile() string {
	return sq.Output
}

// DropReasonQuery counts drops by reason and packet kind.
type DropReasonQuery struct {
	Output string `json:"output"`
}

func (dq DropReasonQuery) Execute(records []trace.Record) (*Table, error) {
	type key struct{ reason, packet string }
	counts := make(map[key]int)
	for _, r := range records {
		if r.Dropped() {
			counts[key{r.Reason, r.Packet}]++
		}
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].reason != keys[j].reason {
			return keys[i].reason < keys[j].reason
		}
		return keys[i].packet < keys[j].packet
	})

	table := NewTable("reason", "packet", "count")
	for _, k := range keys {
		table.Append(k.reason, k.packet, strconv.Itoa(counts[k]))
	}
	return table, nil
}

func (dq DropReasonQuery) Outfile() string {
	return dq.Output
}

// RangeQuery runs Input over the records that happened in
// [StartMilliOffset, StartMilliOffset+Length) after the first record.
type RangeQuery struct {
	Input            Query `json:"input"`
	StartMilliOffset int   `json:"start"`
	Length           int   `json:"length"`
}

func (rq RangeQuery) Execute(records []trace.Record) (*Table, error) {
	start := startTime(records)
	from := time.Duration(rq.StartMilliOffset) * time.Millisecond
	to := from + time.Duration(rq.Length)*time.Millisecond
	var selected []trace.Record
	for _, r := range records {
		offset := r.Time.Sub(start)
		if offset >= from && offset < to {
			selected = append(selected, r)
		}
	}
	return rq.Input.Execute(selected)
}

func (rq RangeQuery) Outfile() string {
	return rq.Input.Outfile()
}

func startTime(records []trace.Record) time.Time {
	var start time.Time
	for _, r := range records {
		if start.IsZero() || r.Time.Before(start) {
			start = r.Time
		}
	}
	return start
}

func offsetMillis(t, start time.Time) string {
	return strconv.FormatInt(t.Sub(start).Milliseconds(), 10)
}

func sortedNodes(counts map[network.NodeID]*dropCounts) []network.NodeID {
	nodes := make([]network.NodeID, 0, len(counts))
	for node := range counts {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}
