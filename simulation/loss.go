package simulation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DropSampler makes the per-packet drop decision of a drone.
type DropSampler struct {
	rate float64
	rng  *rand.Rand
}

func NewDropSampler(rate float64, seed int64) *DropSampler {
	return &DropSampler{rate: rate, rng: rand.New(rand.NewSource(seed))}
}

func (s *DropSampler) Rate() float64 {
	return s.rate
}

// SetRate changes the drop probability. Values outside [0,1] are refused.
func (s *DropSampler) SetRate(rate float64) bool {
	if rate < 0 || rate > 1 {
		return false
	}
	s.rate = rate
	return true
}

func (s *DropSampler) Drop() bool {
	return s.rng.Float64() < s.rate
}

// LossEntry sets the drop probability from Offset until the next entry.
type LossEntry struct {
	Offset      time.Duration
	Probability float64
}

// LossTrace is a repeating drop-rate schedule. The last entry's offset is the
// period after which the schedule starts over.
type LossTrace struct {
	entries []LossEntry
}

func NewLossTrace(entries []LossEntry) (*LossTrace, error) {
	if len(entries) == 0 {
		return nil, errors.New("empty loss trace")
	}
	sorted := append([]LossEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for _, e := range sorted {
		if e.Probability < 0 || e.Probability > 1 {
			return nil, fmt.Errorf("loss probability %v outside [0,1]", e.Probability)
		}
	}
	return &LossTrace{entries: sorted}, nil
}

// LoadLossTrace reads a loss trace file of `offset_ms,probability` rows.
func LoadLossTrace(filename string) (*LossTrace, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseLossTrace(file)
}

func ParseLossTrace(r io.Reader) (*LossTrace, error) {
	lossTraceReader := csv.NewReader(r)
	lossTraceReader.FieldsPerRecord = 2
	var lossEntries []LossEntry
	for {
		row, err := lossTraceReader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		offset, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("loss trace offset %q: %w", row[0], err)
		}
		probability, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("loss trace probability %q: %w", row[1], err)
		}
		lossEntries = append(lossEntries, LossEntry{Offset: time.Millisecond * time.Duration(offset), Probability: probability})
	}
	return NewLossTrace(lossEntries)
}

func (t *LossTrace) Entries() []LossEntry {
	return append([]LossEntry(nil), t.entries...)
}

// Period is the length of one pass over the trace.
func (t *LossTrace) Period() time.Duration {
	return t.entries[len(t.entries)-1].Offset
}

// ProbabilityAt returns the drop probability in effect elapsed after the
// trace started, wrapping around every Period.
func (t *LossTrace) ProbabilityAt(elapsed time.Duration) float64 {
	if len(t.entries) == 1 || t.Period() <= 0 {
		return t.entries[0].Probability
	}
	elapsed %= t.Period()
	current := t.entries[0].Probability
	for _, e := range t.entries[:len(t.entries)-1] {
		if e.Offset > elapsed {
			break
		}
		current = e.Probability
	}
	return current
}

// NextChange returns how long after elapsed the probability next changes.
func (t *LossTrace) NextChange(elapsed time.Duration) time.Duration {
	period := t.Period()
	if len(t.entries) == 1 || period <= 0 {
		return 0
	}
	pos := elapsed % period
	for _, e := range t.entries[1:] {
		if e.Offset > pos {
			return e.Offset - pos
		}
	}
	return period - pos
}
