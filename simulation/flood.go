package simulation

import (
	"errors"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

// handleFloodRequest applies the drone side of flood discovery: answer when
// the budget is spent, a cycle is found, the round was already seen or there
// is nobody else to ask; otherwise pass the request on to every other
// neighbor.
func (d *RelayDrone) handleFloodRequest(p *packet.Packet, req *packet.FloodRequest) {
	if d.sampler.Drop() {
		d.emit(newEvent(PacketDropped, d.id, p, 0, ReasonPDR))
		return
	}
	sender, _ := req.Sender()
	if req.TTL == 0 || req.Seen(d.id) {
		d.originate(req.Respond(d.id, p.SessionID))
		return
	}

	req.PathTrace = append(req.PathTrace, network.NodeEntry{ID: d.id, Kind: network.KindDrone})
	key := floodKey{id: req.FloodID, initiator: req.InitiatorID}
	_, seen := d.seen[key]
	targets := d.floodTargets(sender)
	if seen || len(targets) == 0 {
		d.originate(req.Respond(d.id, p.SessionID))
		return
	}
	d.seen[key] = struct{}{}
	req.TTL--

	for _, id := range targets {
		if err := d.links[id].Send(p); err != nil {
			if errors.Is(err, ErrLinkClosed) {
				d.forgetLink(id)
			}
			d.emit(newEvent(PacketDropped, d.id, p, id, ReasonErrorInRouting))
			continue
		}
		d.emit(newEvent(PacketForwarded, d.id, p, id, ""))
	}
}

// floodTargets lists live neighbors except the one a request came from.
func (d *RelayDrone) floodTargets(sender network.NodeID) []network.NodeID {
	targets := make([]network.NodeID, 0, len(d.links))
	for id, l := range d.links {
		if id == sender || l.Closed() {
			continue
		}
		targets = append(targets, id)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// floodRound is one discovery started by an endpoint.
type floodRound struct {
	id       uint64
	deadline time.Time
	waiters  []chan error
}

// startFlood sends a fresh FloodRequest to every neighbor unless a round is
// already running.
func (e *Endpoint) startFlood(now time.Time) *floodRound {
	if e.flood != nil {
		return e.flood
	}
	e.nextFloodID++
	round := &floodRound{id: e.nextFloodID, deadline: now.Add(e.settings.FloodTimeout)}
	e.flood = round
	e.floods[round.id] = struct{}{}

	req := &packet.Packet{
		SessionID: round.id,
		Body: &packet.FloodRequest{
			FloodID:     round.id,
			InitiatorID: e.id,
			TTL:         e.settings.FloodTTL,
			PathTrace:   []network.NodeEntry{{ID: e.id, Kind: e.kind}},
		},
	}
	for _, id := range e.neighborIDs() {
		if err := e.links[id].Send(req); err != nil {
			e.dropLink(id)
		}
	}
	e.log.WithFields(log.Fields{"event": "flood_started", "flood_id": round.id}).Debug()
	return round
}

// handleFloodRequest is the endpoint side: endpoints never forward floods.
func (e *Endpoint) handleFloodRequest(p *packet.Packet, req *packet.FloodRequest) {
	if req.InitiatorID == e.id {
		trace := append(append([]network.NodeEntry(nil), req.PathTrace...), network.NodeEntry{ID: e.id, Kind: e.kind})
		e.topo.MergeTrace(trace)
		return
	}
	if req.TTL > 0 && !req.Seen(e.id) {
		req.PathTrace = append(req.PathTrace, network.NodeEntry{ID: e.id, Kind: e.kind})
	}
	resp := req.Respond(e.id, p.SessionID)
	if _, err := forward(e.links, resp); err != nil {
		e.log.WithFields(log.Fields{"event": "flood_response_failed", "flood_id": req.FloodID}).Debug(err)
	}
}

func (e *Endpoint) handleFloodResponse(resp *packet.FloodResponse) {
	if _, ours := e.floods[resp.FloodID]; !ours {
		return
	}
	e.topo.MergeTrace(resp.PathTrace)
}

// finishFlood closes the running round once its deadline passed, waking
// Discover callers and retrying fragments that were waiting for a route.
func (e *Endpoint) finishFlood(now time.Time) {
	round := e.flood
	if round == nil || now.Before(round.deadline) {
		return
	}
	e.flood = nil
	for _, w := range round.waiters {
		w <- nil
	}
	e.log.WithFields(log.Fields{
		"event":    "flood_finished",
		"flood_id": round.id,
		"nodes":    e.topo.Len(),
	}).Debug()
	e.resumeParked(now)
}
