package message

import (
	"fmt"
	"time"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

// Key identifies one message being reassembled.
type Key struct {
	Source  network.NodeID
	Session uint64
}

type buffer struct {
	total    uint64
	frags    map[uint64]*packet.Fragment
	lastSeen time.Time
}

// Reassembler collects fragments per (source, session) until a set is
// complete. It is owned by a single endpoint goroutine and needs no locking.
// Time is passed in by the caller.
type Reassembler struct {
	timeout time.Duration
	pending map[Key]*buffer
	// done remembers finished sessions so late duplicates do not open a new
	// buffer. Entries age out with the same timeout.
	done map[Key]time.Time
}

func NewReassembler(timeout time.Duration) *Reassembler {
	return &Reassembler{
		timeout: timeout,
		pending: make(map[Key]*buffer),
		done:    make(map[Key]time.Time),
	}
}

// Add stores a fragment. It returns the message bytes exactly once, when the
// last missing index arrives.
func (r *Reassembler) Add(key Key, f *packet.Fragment, now time.Time) ([]byte, bool, error) {
	if _, finished := r.done[key]; finished {
		return nil, false, nil
	}
	if f.Total == 0 || f.Index >= f.Total {
		return nil, false, fmt.Errorf("%w: index %d of %d", ErrInconsistentTotal, f.Index, f.Total)
	}

	buf, ok := r.pending[key]
	if !ok {
		buf = &buffer{total: f.Total, frags: make(map[uint64]*packet.Fragment, f.Total)}
		r.pending[key] = buf
	}
	if f.Total != buf.total {
		return nil, false, fmt.Errorf("%w: session %d expects %d fragments, got %d", ErrInconsistentTotal, key.Session, buf.total, f.Total)
	}
	buf.lastSeen = now
	if _, dup := buf.frags[f.Index]; dup {
		return nil, false, nil
	}
	buf.frags[f.Index] = f
	if uint64(len(buf.frags)) < buf.total {
		return nil, false, nil
	}

	delete(r.pending, key)
	r.done[key] = now
	return join(buf.frags, buf.total), true, nil
}

// Expire drops buffers idle for longer than the timeout and returns their
// keys so the owner can report failed receives.
func (r *Reassembler) Expire(now time.Time) []Key {
	var expired []Key
	for key, buf := range r.pending {
		if now.Sub(buf.lastSeen) > r.timeout {
			delete(r.pending, key)
			expired = append(expired, key)
		}
	}
	for key, at := range r.done {
		if now.Sub(at) > r.timeout {
			delete(r.done, key)
		}
	}
	return expired
}

// Pending returns the number of incomplete messages.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}
