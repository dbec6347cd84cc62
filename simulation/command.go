package simulation

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

// Command is an instruction from the controller to a node.
type Command interface {
	commandName() string
}

// AddLink hands the node a new outgoing link to Neighbor.
type AddLink struct {
	Neighbor network.NodeID
	Link     *Link
}

// RemoveLink makes the node close and forget its link to Neighbor.
type RemoveLink struct {
	Neighbor network.NodeID
}

type SetDropRate struct {
	Rate float64
}

// Crash stops the node after it drains its inbox.
type Crash struct{}

func (AddLink) commandName() string     { return "add_link" }
func (RemoveLink) commandName() string  { return "remove_link" }
func (SetDropRate) commandName() string { return "set_drop_rate" }
func (Crash) commandName() string       { return "crash" }

type EventKind uint8

const (
	PacketForwarded EventKind = iota + 1
	PacketDropped
)

func (k EventKind) String() string {
	switch k {
	case PacketForwarded:
		return "packet_forwarded"
	case PacketDropped:
		return "packet_dropped"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Drop reasons carried by PacketDropped events.
const (
	ReasonPDR                 = "pdr"
	ReasonErrorInRouting      = "error_in_routing"
	ReasonUnexpectedRecipient = "unexpected_recipient"
	ReasonDestinationIsDrone  = "destination_is_drone"
	ReasonCrashed             = "crashed"
)

// Event reports what a drone did with a packet.
type Event struct {
	Kind          EventKind
	Node          network.NodeID
	PacketKind    packet.Kind
	Session       uint64
	FragmentIndex uint64
	HopIndex      int
	NextHop       network.NodeID
	Reason        string
	Time          time.Time
}

func newEvent(kind EventKind, node network.NodeID, p *packet.Packet, next network.NodeID, reason string) Event {
	return Event{
		Kind:          kind,
		Node:          node,
		PacketKind:    p.Kind(),
		Session:       p.SessionID,
		FragmentIndex: p.FragmentIndex(),
		HopIndex:      p.Header.HopIndex,
		NextHop:       next,
		Reason:        reason,
		Time:          time.Now(),
	}
}

// Fields is the structured log form of an event.
func (ev Event) Fields() log.Fields {
	return log.Fields{
		"event":     ev.Kind.String(),
		"node":      ev.Node,
		"packet":    ev.PacketKind.String(),
		"session":   ev.Session,
		"fragment":  ev.FragmentIndex,
		"hop_index": ev.HopIndex,
		"next_hop":  ev.NextHop,
		"reason":    ev.Reason,
	}
}
