package trace

import (
	"time"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/simulation"
)

// Record is one stored control plane event.
type Record struct {
	Time          time.Time      `cbor:"1,keyasint"`
	Event         string         `cbor:"2,keyasint"`
	Node          network.NodeID `cbor:"3,keyasint"`
	Packet        string         `cbor:"4,keyasint"`
	Session       uint64         `cbor:"5,keyasint"`
	FragmentIndex uint64         `cbor:"6,keyasint"`
	HopIndex      int            `cbor:"7,keyasint"`
	NextHop       network.NodeID `cbor:"8,keyasint"`
	Reason        string         `cbor:"9,keyasint,omitempty"`
}

func FromEvent(ev simulation.Event) Record {
	return Record{
		Time:          ev.Time,
		Event:         ev.Kind.String(),
		Node:          ev.Node,
		Packet:        ev.PacketKind.String(),
		Session:       ev.Session,
		FragmentIndex: ev.FragmentIndex,
		HopIndex:      ev.HopIndex,
		NextHop:       ev.NextHop,
		Reason:        ev.Reason,
	}
}

func (r Record) Forwarded() bool {
	return r.Event == simulation.PacketForwarded.String()
}

func (r Record) Dropped() bool {
	return r.Event == simulation.PacketDropped.String()
}
