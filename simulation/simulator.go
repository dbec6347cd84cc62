package simulation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/aditiharini/drone-mesh/config/simulator"
	"github.com/aditiharini/drone-mesh/network"
)

// Settings are the timing and sizing knobs shared by every node.
type Settings struct {
	FloodTTL          uint8
	FloodTimeout      time.Duration
	RetryTimeout      time.Duration
	MaxRetries        int
	ReassemblyTimeout time.Duration
	MaxQueueLength    int
	LinkDelay         time.Duration
	DroneImpl         string
	Seed              int64
}

func SettingsFromConfig(g config.GeneralConfig) Settings {
	return Settings{
		FloodTTL:          uint8(g.FloodTTL),
		FloodTimeout:      g.FloodTimeout(),
		RetryTimeout:      g.RetryTimeout(),
		MaxRetries:        g.MaxRetries,
		ReassemblyTimeout: g.ReassemblyTimeout(),
		MaxQueueLength:    g.MaxQueueLength,
		LinkDelay:         g.LinkDelay(),
		DroneImpl:         g.DroneImpl,
		Seed:              g.Seed,
	}
}

// Tick is how often endpoints check their deadlines.
func (s Settings) Tick() time.Duration {
	tick := s.RetryTimeout
	if s.FloodTimeout > 0 && (tick <= 0 || s.FloodTimeout < tick) {
		tick = s.FloodTimeout
	}
	tick /= 4
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	if tick > 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	return tick
}

// EventSink receives every control plane event, in order, on the
// simulator's event goroutine.
type EventSink interface {
	Observe(Event)
}

type EventSinkFunc func(Event)

func (f EventSinkFunc) Observe(ev Event) {
	f(ev)
}

type Option func(*Simulator)

func WithEventSink(sink EventSink) Option {
	return func(s *Simulator) { s.sinks = append(s.sinks, sink) }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Simulator) {
		s.metrics = m
		s.sinks = append(s.sinks, m)
	}
}

type node struct {
	id       network.NodeID
	kind     network.NodeKind
	commands chan Command
	inbox    *Inbox
	run      func()
	done     chan struct{}
}

// Simulator is the controller: it builds the mesh from a config, runs every
// node on its own goroutine and reconfigures them at runtime.
type Simulator struct {
	settings Settings
	nodes    map[network.NodeID]*node
	clients  map[network.NodeID]*Endpoint
	servers  map[network.NodeID]*Endpoint

	mu        sync.Mutex
	neighbors map[network.NodeID]map[network.NodeID]bool

	events     chan Event
	eventsDone chan struct{}
	sinks      []EventSink
	metrics    *Metrics

	wg        sync.WaitGroup
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

func NewSimulator(conf *config.Config, opts ...Option) (*Simulator, error) {
	settings := SettingsFromConfig(conf.General)
	if settings.Seed == 0 {
		settings.Seed = time.Now().UnixNano()
	}
	s := &Simulator{
		settings:   settings,
		nodes:      make(map[network.NodeID]*node),
		clients:    make(map[network.NodeID]*Endpoint),
		servers:    make(map[network.NodeID]*Endpoint),
		neighbors:  make(map[network.NodeID]map[network.NodeID]bool),
		events:     make(chan Event, 1024),
		eventsDone: make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	addNode := func(id uint8, kind network.NodeKind) *node {
		n := &node{
			id:       network.NodeID(id),
			kind:     kind,
			commands: make(chan Command, 16),
			inbox:    NewInbox(network.NodeID(id), settings.MaxQueueLength),
			done:     make(chan struct{}),
		}
		s.nodes[n.id] = n
		s.neighbors[n.id] = make(map[network.NodeID]bool)
		return n
	}
	for _, d := range conf.Drones {
		addNode(d.ID, network.KindDrone)
	}
	for _, c := range conf.Clients {
		addNode(c.ID, network.KindClient)
	}
	for _, sv := range conf.Servers {
		addNode(sv.ID, network.KindServer)
	}

	linkConfigs := ToLinkConfigs(conf)
	outgoing := make(map[network.NodeID]map[network.NodeID]*Link)
	for _, lc := range linkConfigs {
		dst, ok := s.nodes[lc.Dst]
		if !ok {
			return nil, fmt.Errorf("%w: link to %d", ErrUnknownNode, lc.Dst)
		}
		if outgoing[lc.Src] == nil {
			outgoing[lc.Src] = make(map[network.NodeID]*Link)
		}
		outgoing[lc.Src][lc.Dst] = lc.ToLink(dst.inbox, settings.MaxQueueLength)
	}
	for src, dsts := range ToNeighborsMap(linkConfigs) {
		for _, dst := range dsts {
			s.neighbors[src][dst] = true
		}
	}

	for _, d := range conf.Drones {
		n := s.nodes[network.NodeID(d.ID)]
		drone, err := NewDrone(settings.DroneImpl, DroneOptions{
			ID:       n.id,
			Commands: n.commands,
			Events:   s.events,
			Inbox:    n.inbox,
			Links:    outgoing[n.id],
			DropRate: d.Pdr,
			Seed:     settings.Seed + int64(n.id),
		})
		if err != nil {
			return nil, err
		}
		n.run = drone.Run
	}
	for _, c := range conf.Clients {
		n := s.nodes[network.NodeID(c.ID)]
		ep := NewEndpoint(EndpointOptions{
			ID:       n.id,
			Kind:     network.KindClient,
			Commands: n.commands,
			Inbox:    n.inbox,
			Links:    outgoing[n.id],
			Settings: settings,
		})
		s.clients[n.id] = ep
		n.run = ep.Run
	}
	for _, sv := range conf.Servers {
		n := s.nodes[network.NodeID(sv.ID)]
		kind, err := network.ParseServerKind(sv.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: server %d: %v", config.ErrInvalidConfig, sv.ID, err)
		}
		ep := NewEndpoint(EndpointOptions{
			ID:         n.id,
			Kind:       network.KindServer,
			ServerKind: kind,
			Commands:   n.commands,
			Inbox:      n.inbox,
			Links:      outgoing[n.id],
			Handler:    NewServerHandler(kind, config.ContentIDs(sv.Files), config.ContentIDs(sv.Media)),
			Settings:   settings,
		})
		s.servers[n.id] = ep
		n.run = ep.Run
	}
	return s, nil
}

// Start launches the event consumer and every node.
func (s *Simulator) Start() {
	s.startOnce.Do(func() {
		log.WithFields(log.Fields{
			"event":   "start_simulator",
			"nodes":   len(s.nodes),
			"clients": len(s.clients),
			"servers": len(s.servers),
		}).Info()
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()

		go s.consumeEvents()
		for _, n := range s.nodes {
			s.wg.Add(1)
			go func(n *node) {
				defer s.wg.Done()
				defer close(n.done)
				n.run()
			}(n)
		}
	})
}

// Stop crashes every node still running and waits for them and for the
// event consumer to finish.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}
		for _, id := range s.NodeIDs() {
			_ = s.send(id, Crash{})
		}
		s.wg.Wait()
		close(s.events)
		<-s.eventsDone
		log.WithFields(log.Fields{"event": "stop_simulator"}).Info()
	})
}

func (s *Simulator) consumeEvents() {
	defer close(s.eventsDone)
	for ev := range s.events {
		log.WithFields(ev.Fields()).Info()
		for _, sink := range s.sinks {
			sink.Observe(ev)
		}
	}
}

func (s *Simulator) send(id network.NodeID, cmd Command) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	select {
	case <-n.done:
		return fmt.Errorf("%w: %d", ErrNodeStopped, id)
	default:
	}
	select {
	case n.commands <- cmd:
		s.metrics.command(cmd)
		return nil
	case <-n.done:
		return fmt.Errorf("%w: %d", ErrNodeStopped, id)
	}
}

// AddLink connects a and b in both directions.
func (s *Simulator) AddLink(a, b network.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	na, ok := s.nodes[a]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, a)
	}
	nb, ok := s.nodes[b]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, b)
	}
	if a == b || (na.kind != network.KindDrone && nb.kind != network.KindDrone) {
		return fmt.Errorf("%w: cannot link %d and %d", config.ErrInvalidConfig, a, b)
	}
	ab := NewLink(a, nb.inbox, s.settings.LinkDelay, s.settings.MaxQueueLength)
	ba := NewLink(b, na.inbox, s.settings.LinkDelay, s.settings.MaxQueueLength)
	if err := s.send(a, AddLink{Neighbor: b, Link: ab}); err != nil {
		ab.Close()
		ba.Close()
		return err
	}
	if err := s.send(b, AddLink{Neighbor: a, Link: ba}); err != nil {
		ba.Close()
		_ = s.send(a, RemoveLink{Neighbor: b})
		return err
	}
	s.neighbors[a][b] = true
	s.neighbors[b][a] = true
	log.WithFields(log.Fields{"event": "add_link", "src": a, "dst": b}).Info()
	return nil
}

// RemoveLink disconnects a and b. A stopped end is not an error.
func (s *Simulator) RemoveLink(a, b network.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[a]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, a)
	}
	if _, ok := s.nodes[b]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, b)
	}
	s.removeLinkLocked(a, b)
	log.WithFields(log.Fields{"event": "remove_link", "src": a, "dst": b}).Info()
	return nil
}

func (s *Simulator) removeLinkLocked(a, b network.NodeID) {
	_ = s.send(a, RemoveLink{Neighbor: b})
	_ = s.send(b, RemoveLink{Neighbor: a})
	delete(s.neighbors[a], b)
	delete(s.neighbors[b], a)
}

func (s *Simulator) SetDropRate(id network.NodeID, rate float64) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	if n.kind != network.KindDrone {
		return fmt.Errorf("%w: %d is a %s", ErrUnknownNode, id, n.kind)
	}
	return s.send(id, SetDropRate{Rate: rate})
}

// Crash stops a node and tells its neighbors to drop their links to it.
func (s *Simulator) Crash(id network.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(id, Crash{}); err != nil {
		return err
	}
	for _, nb := range sortedSet(s.neighbors[id]) {
		_ = s.send(nb, RemoveLink{Neighbor: id})
		delete(s.neighbors[nb], id)
	}
	s.neighbors[id] = make(map[network.NodeID]bool)
	s.metrics.crashed()
	log.WithFields(log.Fields{"event": "crash", "node": id}).Info()
	return nil
}

// ReplayLossTrace drives a drone's drop rate from a loss trace until ctx is
// done or the simulator stops.
func (s *Simulator) ReplayLossTrace(ctx context.Context, id network.NodeID, trace *LossTrace) error {
	n, ok := s.nodes[id]
	if !ok || n.kind != network.KindDrone {
		return fmt.Errorf("%w: drone %d", ErrUnknownNode, id)
	}
	log.WithFields(log.Fields{"event": "start_trace", "node": id, "period_ms": trace.Period().Milliseconds()}).Info()
	go func() {
		start := time.Now()
		for {
			elapsed := time.Since(start)
			if err := s.SetDropRate(id, trace.ProbabilityAt(elapsed)); err != nil {
				return
			}
			wait := trace.NextChange(elapsed)
			if wait <= 0 {
				return
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopped:
				timer.Stop()
				return
			}
		}
	}()
	return nil
}

func (s *Simulator) Client(id network.NodeID) (*Endpoint, bool) {
	ep, ok := s.clients[id]
	return ep, ok
}

func (s *Simulator) Server(id network.NodeID) (*Endpoint, bool) {
	ep, ok := s.servers[id]
	return ep, ok
}

func (s *Simulator) Settings() Settings {
	return s.settings
}

// NodeIDs lists every node in ascending order.
func (s *Simulator) NodeIDs() []network.NodeID {
	ids := make([]network.NodeID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Neighbors returns the controller's view of id's links.
func (s *Simulator) Neighbors(id network.NodeID) []network.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedSet(s.neighbors[id])
}

func sortedSet(set map[network.NodeID]bool) []network.NodeID {
	ids := make([]network.NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
