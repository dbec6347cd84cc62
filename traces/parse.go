package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kr/logfmt"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/simulation"
)

// Layouts accepted for the time field, the simulator's own first.
var timeLayouts = []string{time.StampMicro, time.RFC3339Nano}

// fields collects the key/value pairs of one log line.
type fields map[string]string

func (f fields) HandleLogfmt(key, val []byte) error {
	f[string(key)] = string(val)
	return nil
}

// ParseLogLine reads one simulator log line, written either with logrus'
// JSON formatter or its text formatter. ok is false for lines that are not
// packet events.
func ParseLogLine(line []byte) (rec Record, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, false, nil
	}
	f := make(fields)
	if line[0] == '{' {
		var mapped map[string]interface{}
		if err := json.Unmarshal(line, &mapped); err != nil {
			return Record{}, false, err
		}
		for k, v := range mapped {
			switch val := v.(type) {
			case string:
				f[k] = val
			case float64:
				f[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				f[k] = fmt.Sprint(val)
			}
		}
	} else if err := logfmt.Unmarshal(line, f); err != nil {
		return Record{}, false, err
	}

	event := f["event"]
	if event != simulation.PacketForwarded.String() && event != simulation.PacketDropped.String() {
		return Record{}, false, nil
	}
	rec = Record{Event: event, Packet: f["packet"], Reason: f["reason"]}

	if ts, present := f["time"]; present {
		if rec.Time, err = parseTime(ts); err != nil {
			return Record{}, false, err
		}
	}
	node, err := parseUint(f, "node", 8)
	if err != nil {
		return Record{}, false, err
	}
	next, err := parseUint(f, "next_hop", 8)
	if err != nil {
		return Record{}, false, err
	}
	rec.Node, rec.NextHop = network.NodeID(node), network.NodeID(next)
	if rec.Session, err = parseUint(f, "session", 64); err != nil {
		return Record{}, false, err
	}
	if rec.FragmentIndex, err = parseUint(f, "fragment", 64); err != nil {
		return Record{}, false, err
	}
	hop, err := parseUint(f, "hop_index", 8)
	if err != nil {
		return Record{}, false, err
	}
	rec.HopIndex = int(hop)
	return rec, true, nil
}

// ReadLog parses every packet event of a log.
func ReadLog(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rec, ok, err := ParseLogLine(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, scanner.Err()
}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func parseUint(f fields, key string, bits int) (uint64, error) {
	s, ok := f[key]
	if !ok || s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return v, nil
}
