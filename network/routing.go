package network

import "fmt"

// SourceRoutingHeader is the sender-chosen path a packet follows.
//
// When a packet arrives at a node, Hops[HopIndex] names that node. Forwarding
// increments HopIndex by one and hands the packet to Hops[HopIndex].
type SourceRoutingHeader struct {
	HopIndex int
	Hops     Path
}

// NewRoute returns a header for a packet about to leave Hops[0].
func NewRoute(hops Path) SourceRoutingHeader {
	return SourceRoutingHeader{HopIndex: 0, Hops: hops}
}

func (h SourceRoutingHeader) String() string {
	return fmt.Sprintf("[%d] %s", h.HopIndex, h.Hops)
}

// Valid reports whether HopIndex points inside Hops.
func (h SourceRoutingHeader) Valid() bool {
	return h.HopIndex >= 0 && h.HopIndex < len(h.Hops)
}

// Current returns the hop that is processing the packet.
func (h SourceRoutingHeader) Current() (NodeID, bool) {
	if !h.Valid() {
		return 0, false
	}
	return h.Hops[h.HopIndex], true
}

// Next returns the hop the packet goes to once forwarded.
func (h SourceRoutingHeader) Next() (NodeID, bool) {
	if h.HopIndex < 0 || h.HopIndex+1 >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex+1], true
}

// Previous returns the hop that handed the packet over.
func (h SourceRoutingHeader) Previous() (NodeID, bool) {
	if h.HopIndex <= 0 || h.HopIndex > len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex-1], true
}

// IsLast reports whether the current hop is the destination.
func (h SourceRoutingHeader) IsLast() bool {
	return len(h.Hops) > 0 && h.HopIndex == len(h.Hops)-1
}

func (h SourceRoutingHeader) Source() (NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[0], true
}

func (h SourceRoutingHeader) Destination() (NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[len(h.Hops)-1], true
}

// Backtrack returns a fresh header leading from the current hop back to the
// originator, used for Acks and Nacks.
func (h SourceRoutingHeader) Backtrack() SourceRoutingHeader {
	end := h.HopIndex + 1
	if end > len(h.Hops) {
		end = len(h.Hops)
	}
	if end < 0 {
		end = 0
	}
	return NewRoute(h.Hops[:end].Reverse())
}

// Clone returns a deep copy of the header.
func (h SourceRoutingHeader) Clone() SourceRoutingHeader {
	hops := make(Path, len(h.Hops))
	copy(hops, h.Hops)
	return SourceRoutingHeader{HopIndex: h.HopIndex, Hops: hops}
}
