package simulation

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aditiharini/drone-mesh/message"
	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

// Delivery is a message received by an endpoint, or a receive that failed.
type Delivery struct {
	From    network.NodeID
	Session uint64
	Message *message.Message
	Err     error
}

type EndpointOptions struct {
	ID         network.NodeID
	Kind       network.NodeKind
	ServerKind network.ServerKind
	Commands   <-chan Command
	Inbox      *Inbox
	Links      map[network.NodeID]*Link
	// Handler answers requests on servers. Without one, every complete
	// message is delivered on Received.
	Handler  Handler
	Settings Settings
}

// Endpoint is a client or server. All of its state is owned by the Run
// goroutine; the exported methods hand work to it.
type Endpoint struct {
	id         network.NodeID
	kind       network.NodeKind
	serverKind network.ServerKind
	settings   Settings

	commands   <-chan Command
	inbox      *Inbox
	links      map[network.NodeID]*Link
	handler    Handler
	requests   chan func()
	deliveries chan Delivery
	done       chan struct{}

	topo        *network.Topology
	tracker     *Tracker
	reasm       *message.Reassembler
	flood       *floodRound
	floods      map[uint64]struct{}
	nextFloodID uint64
	nextSession uint64

	log *log.Entry
}

func NewEndpoint(opts EndpointOptions) *Endpoint {
	e := &Endpoint{
		id:         opts.ID,
		kind:       opts.Kind,
		serverKind: opts.ServerKind,
		settings:   opts.Settings,
		commands:   opts.Commands,
		inbox:      opts.Inbox,
		links:      make(map[network.NodeID]*Link, len(opts.Links)),
		handler:    opts.Handler,
		requests:   make(chan func()),
		deliveries: make(chan Delivery, 64),
		done:       make(chan struct{}),
		topo:       network.NewTopology(),
		tracker:    NewTracker(opts.Settings.MaxRetries, opts.Settings.RetryTimeout),
		reasm:      message.NewReassembler(opts.Settings.ReassemblyTimeout),
		floods:     make(map[uint64]struct{}),
		log:        nodeLogger(opts.ID, opts.Kind),
	}
	self := e.topo.AddNode(e.id, e.kind)
	self.ServerKind = e.serverKind
	for id, l := range opts.Links {
		e.addLink(id, l)
	}
	return e
}

func (e *Endpoint) ID() network.NodeID {
	return e.id
}

func (e *Endpoint) Kind() network.NodeKind {
	return e.kind
}

// Received yields complete messages and failed receives. It is closed when
// the endpoint stops.
func (e *Endpoint) Received() <-chan Delivery {
	return e.deliveries
}

// Done is closed once Run has returned.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Send delivers content to dst and blocks until every fragment is
// acknowledged or the session fails.
func (e *Endpoint) Send(ctx context.Context, dst network.NodeID, content message.Content) error {
	result := make(chan error, 1)
	if err := e.do(ctx, func() { e.startSession(dst, content, result) }); err != nil {
		return err
	}
	return e.wait(ctx, result)
}

// Discover runs a flood round, or joins the running one, and returns when it
// completes.
func (e *Endpoint) Discover(ctx context.Context) error {
	result := make(chan error, 1)
	err := e.do(ctx, func() {
		round := e.startFlood(time.Now())
		round.waiters = append(round.waiters, result)
	})
	if err != nil {
		return err
	}
	return e.wait(ctx, result)
}

// Route returns the path the endpoint would currently use towards dst.
func (e *Endpoint) Route(ctx context.Context, dst network.NodeID) (network.Path, error) {
	var (
		path  network.Path
		found bool
	)
	if err := e.do(ctx, func() { path, found = e.route(dst, nil) }); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrNoRoute, dst)
	}
	return path, nil
}

// KnownNodes returns the ids in the endpoint's topology view.
func (e *Endpoint) KnownNodes(ctx context.Context) ([]network.NodeID, error) {
	var ids []network.NodeID
	if err := e.do(ctx, func() { ids = e.topo.IDs() }); err != nil {
		return nil, err
	}
	return ids, nil
}

// do runs fn on the endpoint goroutine and waits for it to finish.
func (e *Endpoint) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}
	select {
	case e.requests <- wrapped:
	case <-e.done:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrNodeStopped
	}
}

func (e *Endpoint) wait(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-e.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrNodeStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves commands, packets, API calls and timers until the endpoint
// crashes.
func (e *Endpoint) Run() {
	ticker := time.NewTicker(e.settings.Tick())
	defer ticker.Stop()
	defer close(e.done)
	defer close(e.deliveries)

	for {
		select {
		case cmd, ok := <-e.commands:
			if e.handleCommand(cmd, ok) {
				return
			}
			continue
		default:
		}

		select {
		case cmd, ok := <-e.commands:
			if e.handleCommand(cmd, ok) {
				return
			}
		case f := <-e.inbox.frames:
			e.handleFrame(f)
		case fn := <-e.requests:
			fn()
		case now := <-ticker.C:
			e.housekeeping(now)
		}
	}
}

func (e *Endpoint) handleCommand(cmd Command, ok bool) bool {
	if !ok {
		e.shutdown()
		return true
	}
	switch c := cmd.(type) {
	case AddLink:
		e.addLink(c.Neighbor, c.Link)
	case RemoveLink:
		e.dropLink(c.Neighbor)
	case SetDropRate:
		e.log.WithFields(log.Fields{"event": "set_drop_rate", "rate": c.Rate}).Warn("endpoints do not drop packets")
	case Crash:
		e.shutdown()
		return true
	}
	return false
}

// addLink records a neighbor. Endpoints only ever connect to drones.
func (e *Endpoint) addLink(id network.NodeID, l *Link) {
	if old, ok := e.links[id]; ok && old != l {
		old.Close()
	}
	e.links[id] = l
	if n, known := e.topo.Node(id); !known || n.Kind == 0 {
		e.topo.AddNode(id, network.KindDrone)
	}
	e.topo.AddLink(e.id, id)
}

func (e *Endpoint) dropLink(id network.NodeID) {
	if l, ok := e.links[id]; ok {
		l.Close()
		delete(e.links, id)
	}
	e.topo.RemoveLink(e.id, id)
}

func (e *Endpoint) neighborIDs() []network.NodeID {
	ids := make([]network.NodeID, 0, len(e.links))
	for id := range e.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Endpoint) shutdown() {
	e.inbox.Close()
	for _, id := range e.tracker.IDs() {
		e.fail(id, ErrNodeStopped)
	}
	if e.flood != nil {
		for _, w := range e.flood.waiters {
			w <- ErrNodeStopped
		}
		e.flood = nil
	}
	for _, id := range e.neighborIDs() {
		e.links[id].Close()
		delete(e.links, id)
	}
	e.log.WithFields(log.Fields{"event": "endpoint_stopped"}).Info()
}

func (e *Endpoint) housekeeping(now time.Time) {
	e.finishFlood(now)
	for _, ref := range e.tracker.Expired(now) {
		e.log.WithFields(log.Fields{
			"event":    "fragment_timeout",
			"session":  ref.Session,
			"fragment": ref.Index,
		}).Debug()
		e.retry(ref, now)
	}
	for _, key := range e.reasm.Expire(now) {
		e.log.WithFields(log.Fields{
			"event":   "reassembly_timeout",
			"source":  key.Source,
			"session": key.Session,
		}).Warn()
		e.deliver(Delivery{
			From:    key.Source,
			Session: key.Session,
			Err:     fmt.Errorf("%w: session %d from %d", message.ErrReassemblyTimeout, key.Session, key.Source),
		})
	}
}

func (e *Endpoint) handleFrame(f frame) {
	p, err := packet.Decode(f.data)
	if err != nil {
		e.log.WithFields(log.Fields{"event": "bad_frame", "src": f.src}).Warn(err)
		return
	}
	switch body := p.Body.(type) {
	case *packet.Fragment:
		e.receiveFragment(p, body)
	case *packet.Ack:
		if e.addressedHere(p) {
			e.handleAck(p, body)
		}
	case *packet.Nack:
		if e.addressedHere(p) {
			e.handleNack(p, body)
		}
	case *packet.FloodRequest:
		e.handleFloodRequest(p, body)
	case *packet.FloodResponse:
		if e.addressedHere(p) {
			e.handleFloodResponse(body)
		}
	}
}

// addressedHere reports whether this endpoint is the final hop of p.
func (e *Endpoint) addressedHere(p *packet.Packet) bool {
	cur, ok := p.Header.Current()
	if ok && cur == e.id && p.Header.IsLast() {
		return true
	}
	e.log.WithFields(log.Fields{"event": "misrouted", "packet": p.String()}).Debug()
	return false
}

// Sender side.

func (e *Endpoint) startSession(dst network.NodeID, content message.Content, result chan error) {
	e.nextSession++
	id := e.nextSession
	data, err := message.Encode(&message.Message{Source: e.id, Session: id, Content: content})
	if err != nil {
		if result != nil {
			result <- err
		}
		return
	}
	frags := message.Disassemble(data)
	e.tracker.Open(id, dst, frags, result)
	e.log.WithFields(log.Fields{
		"event":     "session_started",
		"session":   id,
		"dst":       dst,
		"content":   content.Type().String(),
		"fragments": len(frags),
	}).Debug()

	now := time.Now()
	for _, f := range frags {
		e.transmit(FragmentRef{Session: id, Index: f.Index}, now)
	}
}

// route picks the shortest path to dst through drones only. Destinations
// known to be drones have no route.
func (e *Endpoint) route(dst network.NodeID, avoid map[network.NodeID]bool) (network.Path, bool) {
	if n, ok := e.topo.Node(dst); ok && n.Kind == network.KindDrone {
		return nil, false
	}
	path, ok := e.topo.ShortestPath(e.id, dst, avoid)
	return path, ok && len(path) >= 2
}

// transmit sends one outstanding fragment on the current best route, or
// parks it and starts discovery when there is none.
func (e *Endpoint) transmit(ref FragmentRef, now time.Time) {
	s, o, ok := e.tracker.Pending(ref)
	if !ok {
		return
	}
	path, found := e.route(s.Destination, o.Avoid)
	if !found {
		e.tracker.Park(ref)
		e.startFlood(now)
		return
	}
	p := &packet.Packet{
		Header:    network.NewRoute(path),
		SessionID: ref.Session,
		Body:      s.Fragments[ref.Index],
	}
	if next, err := forward(e.links, p); err != nil {
		e.log.WithFields(log.Fields{"event": "first_hop_failed", "next": next}).Debug(err)
		e.dropLink(next)
		e.retry(ref, now)
		return
	}
	e.tracker.Sent(ref, path, now)
}

func (e *Endpoint) retry(ref FragmentRef, now time.Time) {
	o, err := e.tracker.Retry(ref)
	if o == nil {
		return
	}
	if err != nil {
		e.fail(ref.Session, fmt.Errorf("%w: fragment %d after %d attempts", err, ref.Index, o.Retries))
		return
	}
	e.transmit(ref, now)
}

func (e *Endpoint) handleAck(p *packet.Packet, ack *packet.Ack) {
	s := e.tracker.Ack(FragmentRef{Session: p.SessionID, Index: ack.FragmentIndex})
	if s == nil {
		return
	}
	e.log.WithFields(log.Fields{"event": "session_completed", "session": s.ID, "dst": s.Destination}).Debug()
	if s.result != nil {
		s.result <- nil
	}
}

func (e *Endpoint) handleNack(p *packet.Packet, nack *packet.Nack) {
	ref := FragmentRef{Session: p.SessionID, Index: nack.FragmentIndex}
	s, o, ok := e.tracker.Pending(ref)
	if !ok {
		return
	}
	reporter, _ := p.Header.Source()
	e.log.WithFields(log.Fields{
		"event":    "nack_received",
		"session":  ref.Session,
		"fragment": ref.Index,
		"nack":     nack.String(),
		"reporter": reporter,
	}).Debug()

	switch nack.Type {
	case packet.ErrorInRouting:
		e.topo.RemoveLink(reporter, nack.Node)
	case packet.UnexpectedRecipient:
		if reporter != s.Destination {
			o.Avoid[reporter] = true
		}
	case packet.DestinationIsDrone:
		// The view of dst is stale; forget it so the next flood decides.
		e.topo.RemoveNode(s.Destination)
	case packet.Dropped:
		if reporter != s.Destination && !o.Avoid[reporter] {
			avoid := map[network.NodeID]bool{reporter: true}
			for id := range o.Avoid {
				avoid[id] = true
			}
			if _, alt := e.route(s.Destination, avoid); alt {
				o.Avoid[reporter] = true
			}
		}
	}
	e.retry(ref, time.Now())
}

// resumeParked retries fragments that waited for a discovery round. Those
// still without a path fail their session.
func (e *Endpoint) resumeParked(now time.Time) {
	for _, ref := range e.tracker.Parked() {
		s, o, ok := e.tracker.Pending(ref)
		if !ok {
			continue
		}
		if _, found := e.route(s.Destination, o.Avoid); !found && len(o.Avoid) > 0 {
			o.Avoid = make(map[network.NodeID]bool)
		}
		if _, found := e.route(s.Destination, o.Avoid); !found {
			e.fail(ref.Session, fmt.Errorf("%w: %d", ErrNoRoute, s.Destination))
			continue
		}
		e.transmit(ref, now)
	}
}

func (e *Endpoint) fail(id uint64, err error) {
	s := e.tracker.Close(id)
	if s == nil {
		return
	}
	e.log.WithFields(log.Fields{"event": "session_failed", "session": id, "dst": s.Destination}).Warn(err)
	if s.result != nil {
		s.result <- err
	}
}

// Receiver side.

func (e *Endpoint) receiveFragment(p *packet.Packet, frag *packet.Fragment) {
	h := p.Header
	if cur, ok := h.Current(); !ok || cur != e.id || !h.IsLast() {
		e.rejectUnexpected(p)
		return
	}
	src, _ := h.Source()

	ack := &packet.Packet{
		Header:    h.Backtrack(),
		SessionID: p.SessionID,
		Body:      &packet.Ack{FragmentIndex: frag.Index},
	}
	if _, err := forward(e.links, ack); err != nil {
		e.log.WithFields(log.Fields{"event": "ack_failed", "session": p.SessionID}).Debug(err)
	}

	data, complete, err := e.reasm.Add(message.Key{Source: src, Session: p.SessionID}, frag, time.Now())
	if err != nil {
		e.log.WithFields(log.Fields{"event": "bad_fragment", "source": src, "session": p.SessionID}).Warn(err)
		return
	}
	if !complete {
		return
	}
	m, err := message.Decode(data)
	if err != nil {
		e.deliver(Delivery{From: src, Session: p.SessionID, Err: err})
		return
	}
	e.dispatch(src, m)
}

// rejectUnexpected answers a fragment that was not meant to end here.
// Endpoints never relay.
func (e *Endpoint) rejectUnexpected(p *packet.Packet) {
	h := p.Header
	if _, ok := h.Previous(); !ok {
		return
	}
	route := append(network.Path{e.id}, h.Hops[:h.HopIndex].Reverse()...)
	nack := &packet.Packet{
		Header:    network.NewRoute(route),
		SessionID: p.SessionID,
		Body:      &packet.Nack{FragmentIndex: p.FragmentIndex(), Type: packet.UnexpectedRecipient, Node: e.id},
	}
	if _, err := forward(e.links, nack); err != nil {
		e.log.WithFields(log.Fields{"event": "nack_failed", "session": p.SessionID}).Debug(err)
	}
}

func (e *Endpoint) dispatch(src network.NodeID, m *message.Message) {
	e.log.WithFields(log.Fields{
		"event":   "message_received",
		"source":  src,
		"session": m.Session,
		"content": m.Content.Type().String(),
	}).Debug()
	if e.handler == nil || !message.IsRequest(m.Content) {
		e.deliver(Delivery{From: src, Session: m.Session, Message: m})
		return
	}
	for _, r := range e.handler.Handle(m) {
		e.startSession(r.To, r.Content, nil)
	}
}

func (e *Endpoint) deliver(d Delivery) {
	select {
	case e.deliveries <- d:
	default:
		e.log.WithFields(log.Fields{"event": "delivery_dropped", "source": d.From, "session": d.Session}).Warn()
	}
}
