package simulation

import (
	"sort"
	"time"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

// Outstanding is the sender side state of one unacknowledged fragment.
type Outstanding struct {
	Route   network.Path
	SentAt  time.Time
	Retries int
	// Parked fragments wait for a discovery round instead of a timer.
	Parked bool
	Avoid  map[network.NodeID]bool
}

// Session is one message being delivered.
type Session struct {
	ID          uint64
	Destination network.NodeID
	Fragments   []*packet.Fragment
	Outstanding map[uint64]*Outstanding
	result      chan error
}

// FragmentRef names one fragment of one session.
type FragmentRef struct {
	Session uint64
	Index   uint64
}

// Tracker keeps per-session delivery state. It holds no timers: callers
// pass the current time and poll Expired.
type Tracker struct {
	maxRetries int
	timeout    time.Duration
	sessions   map[uint64]*Session
}

func NewTracker(maxRetries int, timeout time.Duration) *Tracker {
	return &Tracker{
		maxRetries: maxRetries,
		timeout:    timeout,
		sessions:   make(map[uint64]*Session),
	}
}

// Open starts tracking a session with every fragment outstanding.
func (t *Tracker) Open(id uint64, dst network.NodeID, frags []*packet.Fragment, result chan error) *Session {
	s := &Session{
		ID:          id,
		Destination: dst,
		Fragments:   frags,
		Outstanding: make(map[uint64]*Outstanding, len(frags)),
		result:      result,
	}
	for _, f := range frags {
		s.Outstanding[f.Index] = &Outstanding{Avoid: make(map[network.NodeID]bool)}
	}
	t.sessions[id] = s
	return s
}

func (t *Tracker) Session(id uint64) (*Session, bool) {
	s, ok := t.sessions[id]
	return s, ok
}

// Pending returns the state of an outstanding fragment.
func (t *Tracker) Pending(ref FragmentRef) (*Session, *Outstanding, bool) {
	s, ok := t.sessions[ref.Session]
	if !ok {
		return nil, nil, false
	}
	o, ok := s.Outstanding[ref.Index]
	return s, o, ok
}

// Sent records a transmission on route.
func (t *Tracker) Sent(ref FragmentRef, route network.Path, now time.Time) {
	if _, o, ok := t.Pending(ref); ok {
		o.Route = route
		o.SentAt = now
		o.Parked = false
	}
}

func (t *Tracker) Park(ref FragmentRef) {
	if _, o, ok := t.Pending(ref); ok {
		o.Parked = true
	}
}

// Ack clears one fragment. It returns the session when that fragment was
// the last one, exactly once; duplicate or late Acks return nil.
func (t *Tracker) Ack(ref FragmentRef) *Session {
	s, ok := t.sessions[ref.Session]
	if !ok {
		return nil
	}
	if _, ok := s.Outstanding[ref.Index]; !ok {
		return nil
	}
	delete(s.Outstanding, ref.Index)
	if len(s.Outstanding) > 0 {
		return nil
	}
	delete(t.sessions, ref.Session)
	return s
}

// Retry counts one more attempt for a fragment. It fails with
// ErrRetriesExhausted once the fragment went past the retry bound.
func (t *Tracker) Retry(ref FragmentRef) (*Outstanding, error) {
	_, o, ok := t.Pending(ref)
	if !ok {
		return nil, nil
	}
	o.Retries++
	if o.Retries > t.maxRetries {
		return o, ErrRetriesExhausted
	}
	return o, nil
}

// Close forgets a session and returns it if it was still open.
func (t *Tracker) Close(id uint64) *Session {
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	delete(t.sessions, id)
	return s
}

// Expired lists sent fragments whose last transmission is older than the
// retransmission timeout, in a stable order.
func (t *Tracker) Expired(now time.Time) []FragmentRef {
	var refs []FragmentRef
	for id, s := range t.sessions {
		for index, o := range s.Outstanding {
			if o.Parked || o.SentAt.IsZero() {
				continue
			}
			if now.Sub(o.SentAt) > t.timeout {
				refs = append(refs, FragmentRef{Session: id, Index: index})
			}
		}
	}
	sortRefs(refs)
	return refs
}

// Parked lists fragments waiting for a route.
func (t *Tracker) Parked() []FragmentRef {
	var refs []FragmentRef
	for id, s := range t.sessions {
		for index, o := range s.Outstanding {
			if o.Parked {
				refs = append(refs, FragmentRef{Session: id, Index: index})
			}
		}
	}
	sortRefs(refs)
	return refs
}

func (t *Tracker) Len() int {
	return len(t.sessions)
}

// IDs returns the open session ids in ascending order.
func (t *Tracker) IDs() []uint64 {
	ids := make([]uint64, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortRefs(refs []FragmentRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Session != refs[j].Session {
			return refs[i].Session < refs[j].Session
		}
		return refs[i].Index < refs[j].Index
	})
}
