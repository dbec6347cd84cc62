package message

import (
	"fmt"

	"github.com/aditiharini/drone-mesh/packet"
)

// Disassemble splits data into fragments of at most packet.FragmentSize
// bytes. Indices start at 0 and every fragment carries the same Total. Empty
// data still yields one empty fragment.
func Disassemble(data []byte) []*packet.Fragment {
	total := (len(data) + packet.FragmentSize - 1) / packet.FragmentSize
	if total == 0 {
		total = 1
	}
	frags := make([]*packet.Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * packet.FragmentSize
		end := start + packet.FragmentSize
		if end > len(data) {
			end = len(data)
		}
		f, _ := packet.NewFragment(uint64(i), uint64(total), data[start:end])
		frags = append(frags, f)
	}
	return frags
}

// Assemble concatenates a complete fragment set in index order. Duplicates
// are tolerated; missing indices or disagreeing totals are not.
func Assemble(frags []*packet.Fragment) ([]byte, error) {
	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: no fragments", ErrIncomplete)
	}
	total := frags[0].Total
	if total == 0 {
		return nil, fmt.Errorf("%w: total of zero", ErrInconsistentTotal)
	}
	byIndex := make(map[uint64]*packet.Fragment, total)
	for _, f := range frags {
		if f.Total != total {
			return nil, fmt.Errorf("%w: %d and %d", ErrInconsistentTotal, total, f.Total)
		}
		if f.Index >= total {
			return nil, fmt.Errorf("%w: index %d of %d", ErrInconsistentTotal, f.Index, total)
		}
		if _, dup := byIndex[f.Index]; !dup {
			byIndex[f.Index] = f
		}
	}
	if uint64(len(byIndex)) != total {
		return nil, fmt.Errorf("%w: have %d of %d", ErrIncomplete, len(byIndex), total)
	}
	return join(byIndex, total), nil
}

func join(byIndex map[uint64]*packet.Fragment, total uint64) []byte {
	data := make([]byte, 0, int(total)*packet.FragmentSize)
	for i := uint64(0); i < total; i++ {
		data = append(data, byIndex[i].Payload()...)
	}
	return data
}
