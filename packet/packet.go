// Package packet defines the envelope exchanged between mesh nodes and its
// wire encoding.
package packet

import (
	"fmt"

	"github.com/aditiharini/drone-mesh/network"
)

// FragmentSize is the maximum payload carried by one fragment.
const FragmentSize = 80

type Kind uint8

const (
	KindFragment Kind = iota + 1
	KindAck
	KindNack
	KindFloodRequest
	KindFloodResponse
)

func (k Kind) String() string {
	switch k {
	case KindFragment:
		return "fragment"
	case KindAck:
		return "ack"
	case KindNack:
		return "nack"
	case KindFloodRequest:
		return "flood_request"
	case KindFloodResponse:
		return "flood_response"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Body is the kind-specific part of a packet.
type Body interface {
	Kind() Kind
}

// Packet is the atomic unit moved over a link.
type Packet struct {
	Header    network.SourceRoutingHeader
	SessionID uint64
	Body      Body
}

func (p *Packet) Kind() Kind {
	if p.Body == nil {
		return 0
	}
	return p.Body.Kind()
}

// FragmentIndex returns the fragment index a packet refers to, or 0 for
// floods.
func (p *Packet) FragmentIndex() uint64 {
	switch b := p.Body.(type) {
	case *Fragment:
		return b.Index
	case *Ack:
		return b.FragmentIndex
	case *Nack:
		return b.FragmentIndex
	default:
		return 0
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s session=%d frag=%d route=%s", p.Kind(), p.SessionID, p.FragmentIndex(), p.Header)
}

type Fragment struct {
	Index  uint64
	Total  uint64
	Length uint8
	Data   [FragmentSize]byte
}

// NewFragment copies payload into a fragment. Payloads over FragmentSize are
// rejected.
func NewFragment(index, total uint64, payload []byte) (*Fragment, error) {
	if len(payload) > FragmentSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	f := &Fragment{Index: index, Total: total, Length: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

func (f *Fragment) Kind() Kind { return KindFragment }

// Payload returns the used bytes of the fragment.
func (f *Fragment) Payload() []byte {
	return f.Data[:f.Length]
}

type Ack struct {
	FragmentIndex uint64
}

func (a *Ack) Kind() Kind { return KindAck }

type NackType uint8

const (
	ErrorInRouting NackType = iota + 1
	DestinationIsDrone
	Dropped
	UnexpectedRecipient
)

func (t NackType) String() string {
	switch t {
	case ErrorInRouting:
		return "error_in_routing"
	case DestinationIsDrone:
		return "destination_is_drone"
	case Dropped:
		return "dropped"
	case UnexpectedRecipient:
		return "unexpected_recipient"
	default:
		return fmt.Sprintf("nack(%d)", uint8(t))
	}
}

// Nack reports that one fragment could not be delivered. Node is set for
// ErrorInRouting (the unreachable next hop) and UnexpectedRecipient (the
// reporting node).
type Nack struct {
	FragmentIndex uint64
	Type          NackType
	Node          network.NodeID
}

func (n *Nack) Kind() Kind { return KindNack }

func (n *Nack) String() string {
	switch n.Type {
	case ErrorInRouting, UnexpectedRecipient:
		return fmt.Sprintf("%s(%d)", n.Type, n.Node)
	default:
		return n.Type.String()
	}
}

type FloodRequest struct {
	FloodID     uint64
	InitiatorID network.NodeID
	TTL         uint8
	PathTrace   []network.NodeEntry
}

func (r *FloodRequest) Kind() Kind { return KindFloodRequest }

// Seen reports whether id is already part of the path trace.
func (r *FloodRequest) Seen(id network.NodeID) bool {
	return traceIndex(r.PathTrace, id) >= 0
}

// Sender returns the last node that handled the request.
func (r *FloodRequest) Sender() (network.NodeID, bool) {
	if len(r.PathTrace) == 0 {
		return 0, false
	}
	return r.PathTrace[len(r.PathTrace)-1].ID, true
}

// Respond turns the request into a response travelling back from self. When
// self already appears in the trace the route is cut at its first
// occurrence, otherwise self is prepended to the reversed trace.
func (r *FloodRequest) Respond(self network.NodeID, sessionID uint64) *Packet {
	var route network.Path
	if i := traceIndex(r.PathTrace, self); i >= 0 {
		route = tracePath(r.PathTrace[:i+1]).Reverse()
	} else {
		route = append(network.Path{self}, tracePath(r.PathTrace).Reverse()...)
	}
	trace := make([]network.NodeEntry, len(r.PathTrace))
	copy(trace, r.PathTrace)
	return &Packet{
		Header:    network.NewRoute(route),
		SessionID: sessionID,
		Body:      &FloodResponse{FloodID: r.FloodID, PathTrace: trace},
	}
}

type FloodResponse struct {
	FloodID   uint64
	PathTrace []network.NodeEntry
}

func (r *FloodResponse) Kind() Kind { return KindFloodResponse }

func traceIndex(trace []network.NodeEntry, id network.NodeID) int {
	for i, e := range trace {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func tracePath(trace []network.NodeEntry) network.Path {
	p := make(network.Path, len(trace))
	for i, e := range trace {
		p[i] = e.ID
	}
	return p
}

// Clone returns a deep copy so a packet can be handed to several links.
func (p *Packet) Clone() *Packet {
	c := &Packet{Header: p.Header.Clone(), SessionID: p.SessionID}
	switch b := p.Body.(type) {
	case *Fragment:
		f := *b
		c.Body = &f
	case *Ack:
		a := *b
		c.Body = &a
	case *Nack:
		n := *b
		c.Body = &n
	case *FloodRequest:
		r := *b
		r.PathTrace = append([]network.NodeEntry(nil), b.PathTrace...)
		c.Body = &r
	case *FloodResponse:
		r := *b
		r.PathTrace = append([]network.NodeEntry(nil), b.PathTrace...)
		c.Body = &r
	}
	return c
}
