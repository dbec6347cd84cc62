package simulation

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

var errNotNeighbor = errors.New("next hop is not a neighbor")

// forward advances p by one hop and hands it to the link towards the new
// current hop. On failure the header is left untouched.
func forward(links map[network.NodeID]*Link, p *packet.Packet) (network.NodeID, error) {
	next, ok := p.Header.Next()
	if !ok {
		return 0, ErrNoRoute
	}
	link, ok := links[next]
	if !ok {
		return next, errNotNeighbor
	}
	p.Header.HopIndex++
	if err := link.Send(p); err != nil {
		p.Header.HopIndex--
		return next, err
	}
	return next, nil
}

type floodKey struct {
	id        uint64
	initiator network.NodeID
}

// RelayDrone forwards source routed packets and takes part in floods.
type RelayDrone struct {
	id       network.NodeID
	commands <-chan Command
	events   chan<- Event
	inbox    *Inbox
	links    map[network.NodeID]*Link
	sampler  *DropSampler
	seen     map[floodKey]struct{}
	log      *log.Entry
}

func NewRelayDrone(opts DroneOptions) *RelayDrone {
	links := make(map[network.NodeID]*Link, len(opts.Links))
	for id, l := range opts.Links {
		links[id] = l
	}
	return &RelayDrone{
		id:       opts.ID,
		commands: opts.Commands,
		events:   opts.Events,
		inbox:    opts.Inbox,
		links:    links,
		sampler:  NewDropSampler(opts.DropRate, opts.Seed),
		seen:     make(map[floodKey]struct{}),
		log:      nodeLogger(opts.ID, network.KindDrone),
	}
}

func (d *RelayDrone) ID() network.NodeID {
	return d.id
}

// Run processes commands and packets until a Crash arrives or the command
// channel closes. Pending commands always win over queued packets.
func (d *RelayDrone) Run() {
	for {
		select {
		case cmd, ok := <-d.commands:
			if d.handleCommand(cmd, ok) {
				return
			}
			continue
		default:
		}

		select {
		case cmd, ok := <-d.commands:
			if d.handleCommand(cmd, ok) {
				return
			}
		case f := <-d.inbox.frames:
			d.handleFrame(f)
		}
	}
}

// handleCommand applies cmd and reports whether the drone has stopped.
func (d *RelayDrone) handleCommand(cmd Command, ok bool) bool {
	if !ok {
		d.crash()
		return true
	}
	switch c := cmd.(type) {
	case AddLink:
		if old, exists := d.links[c.Neighbor]; exists && old != c.Link {
			old.Close()
		}
		d.links[c.Neighbor] = c.Link
		d.log.WithFields(log.Fields{"event": "add_link", "neighbor": c.Neighbor}).Debug()
	case RemoveLink:
		if l, exists := d.links[c.Neighbor]; exists {
			l.Close()
			delete(d.links, c.Neighbor)
		}
		d.log.WithFields(log.Fields{"event": "remove_link", "neighbor": c.Neighbor}).Debug()
	case SetDropRate:
		if !d.sampler.SetRate(c.Rate) {
			d.log.WithFields(log.Fields{"event": "set_drop_rate", "rate": c.Rate}).Warn("drop rate outside [0,1] ignored")
			return false
		}
		d.log.WithFields(log.Fields{"event": "set_drop_rate", "rate": c.Rate}).Debug()
	case Crash:
		d.crash()
		return true
	}
	return false
}

func (d *RelayDrone) handleFrame(f frame) {
	p, err := packet.Decode(f.data)
	if err != nil {
		d.log.WithFields(log.Fields{"event": "bad_frame", "src": f.src}).Warn(err)
		return
	}
	d.handlePacket(p)
}

func (d *RelayDrone) handlePacket(p *packet.Packet) {
	switch body := p.Body.(type) {
	case *packet.Fragment:
		d.relayFragment(p)
	case *packet.FloodRequest:
		d.handleFloodRequest(p, body)
	default:
		d.relayControl(p)
	}
}

func (d *RelayDrone) relayFragment(p *packet.Packet) {
	h := p.Header
	if cur, ok := h.Current(); !ok || cur != d.id {
		d.rejectUnexpected(p)
		return
	}
	if h.IsLast() {
		d.emit(newEvent(PacketDropped, d.id, p, 0, ReasonDestinationIsDrone))
		d.nack(p, packet.DestinationIsDrone, 0)
		return
	}
	next, _ := h.Next()
	if l, ok := d.links[next]; !ok || l.Closed() {
		d.forgetLink(next)
		d.emit(newEvent(PacketDropped, d.id, p, next, ReasonErrorInRouting))
		d.nack(p, packet.ErrorInRouting, next)
		return
	}
	if d.sampler.Drop() {
		d.emit(newEvent(PacketDropped, d.id, p, next, ReasonPDR))
		d.nack(p, packet.Dropped, 0)
		return
	}
	d.send(p, true)
}

// relayControl forwards Acks, Nacks and FloodResponses. They are never
// sampled and never answered with a Nack.
func (d *RelayDrone) relayControl(p *packet.Packet) {
	h := p.Header
	if cur, ok := h.Current(); !ok || cur != d.id {
		d.emit(newEvent(PacketDropped, d.id, p, 0, ReasonUnexpectedRecipient))
		return
	}
	if h.IsLast() {
		d.emit(newEvent(PacketDropped, d.id, p, 0, ReasonDestinationIsDrone))
		return
	}
	d.send(p, false)
}

// send forwards p along its header. Fragments that cannot leave are nacked,
// anything else is dropped.
func (d *RelayDrone) send(p *packet.Packet, nackOnFailure bool) {
	hopIndex := p.Header.HopIndex
	next, err := forward(d.links, p)
	if err == nil {
		ev := newEvent(PacketForwarded, d.id, p, next, "")
		ev.HopIndex = hopIndex
		d.emit(ev)
		return
	}
	if errors.Is(err, ErrLinkClosed) || errors.Is(err, errNotNeighbor) {
		d.forgetLink(next)
		d.emit(newEvent(PacketDropped, d.id, p, next, ReasonErrorInRouting))
		if nackOnFailure {
			d.nack(p, packet.ErrorInRouting, next)
		}
		return
	}
	d.log.WithFields(log.Fields{"event": "send_failed", "packet": p.String()}).Warn(err)
}

// rejectUnexpected answers a fragment that reached the wrong node. The Nack
// goes back through the previous hop only if that hop is a live neighbor.
func (d *RelayDrone) rejectUnexpected(p *packet.Packet) {
	h := p.Header
	prev, ok := h.Previous()
	d.emit(newEvent(PacketDropped, d.id, p, prev, ReasonUnexpectedRecipient))
	if !ok {
		return
	}
	if l, linked := d.links[prev]; !linked || l.Closed() {
		return
	}
	route := append(network.Path{d.id}, h.Hops[:h.HopIndex].Reverse()...)
	d.originate(&packet.Packet{
		Header:    network.NewRoute(route),
		SessionID: p.SessionID,
		Body:      &packet.Nack{FragmentIndex: p.FragmentIndex(), Type: packet.UnexpectedRecipient, Node: d.id},
	})
}

// nack sends a Nack for p back along the hops it already travelled.
func (d *RelayDrone) nack(p *packet.Packet, kind packet.NackType, node network.NodeID) {
	d.originate(&packet.Packet{
		Header:    p.Header.Backtrack(),
		SessionID: p.SessionID,
		Body:      &packet.Nack{FragmentIndex: p.FragmentIndex(), Type: kind, Node: node},
	})
}

// originate sends a packet created by this drone, whose header starts here.
func (d *RelayDrone) originate(p *packet.Packet) {
	next, err := forward(d.links, p)
	if err != nil {
		if errors.Is(err, ErrLinkClosed) || errors.Is(err, errNotNeighbor) {
			d.forgetLink(next)
		}
		d.emit(newEvent(PacketDropped, d.id, p, next, ReasonErrorInRouting))
		return
	}
	ev := newEvent(PacketForwarded, d.id, p, next, "")
	ev.HopIndex = 0
	d.emit(ev)
}

func (d *RelayDrone) forgetLink(id network.NodeID) {
	if l, ok := d.links[id]; ok && l.Closed() {
		l.Close()
		delete(d.links, id)
	}
}

func (d *RelayDrone) emit(ev Event) {
	if d.events == nil {
		return
	}
	d.events <- ev
}

// crash closes the inbox so neighbors see their links closed, drains what
// was already queued and closes every outgoing link.
func (d *RelayDrone) crash() {
	d.inbox.Close()
	d.log.WithFields(log.Fields{"event": "drone_crashing", "queued": len(d.inbox.frames)}).Info()
	for {
		select {
		case f := <-d.inbox.frames:
			d.drain(f)
			continue
		default:
		}
		break
	}
	for id, l := range d.links {
		l.Close()
		delete(d.links, id)
	}
	d.log.WithFields(log.Fields{"event": "drone_crashed"}).Info()
}

func (d *RelayDrone) drain(f frame) {
	p, err := packet.Decode(f.data)
	if err != nil {
		return
	}
	switch p.Body.(type) {
	case *packet.Fragment:
		d.emit(newEvent(PacketDropped, d.id, p, 0, ReasonCrashed))
		d.nack(p, packet.ErrorInRouting, d.id)
	case *packet.FloodRequest:
		d.emit(newEvent(PacketDropped, d.id, p, 0, ReasonCrashed))
	default:
		d.relayControl(p)
	}
}
