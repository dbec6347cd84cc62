package simulation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/aditiharini/drone-mesh/config/simulator"
	"github.com/aditiharini/drone-mesh/message"
	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(match func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func testGeneral() config.GeneralConfig {
	return config.GeneralConfig{
		FloodTimeoutMillis: 100,
		RetryTimeoutMillis: 500,
		MaxRetries:         5,
		Seed:               1,
	}
}

func drones(links map[uint8][]uint8, ids ...uint8) []config.DroneConfig {
	out := make([]config.DroneConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, config.DroneConfig{ID: id, ConnectedDroneIDs: links[id]})
	}
	return out
}

// chainConfig is client 10 - 1 - 2 - 3 - server 20.
func chainConfig() *config.Config {
	return &config.Config{
		Drones:  drones(map[uint8][]uint8{1: {2}, 2: {3}}, 1, 2, 3),
		Clients: []config.ClientConfig{{ID: 10, ConnectedDroneIDs: []uint8{1}}},
		Servers: []config.ServerConfig{{
			ID:                20,
			ConnectedDroneIDs: []uint8{3},
			Kind:              "text",
			Files:             map[string]string{"1": strings.Repeat("drone mesh ", 100), "2": "short"},
		}},
		General: testGeneral(),
	}
}

// detourConfig adds a longer path 1 - 4 - 5 - 3 to the chain.
func detourConfig() *config.Config {
	conf := chainConfig()
	conf.Drones = drones(map[uint8][]uint8{1: {2, 4}, 2: {3}, 4: {5}, 5: {3}}, 1, 2, 3, 4, 5)
	return conf
}

func startSimulator(t *testing.T, conf *config.Config, opts ...Option) *Simulator {
	conf.ApplyDefaults()
	require.NoError(t, conf.Validate())
	sim, err := NewSimulator(conf, opts...)
	require.NoError(t, err)
	sim.Start()
	t.Cleanup(sim.Stop)
	return sim
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func client(t *testing.T, sim *Simulator, id network.NodeID) *Endpoint {
	ep, ok := sim.Client(id)
	require.True(t, ok)
	return ep
}

func receive(t *testing.T, ep *Endpoint) Delivery {
	select {
	case d, ok := <-ep.Received():
		require.True(t, ok, "endpoint stopped")
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("nothing received")
		return Delivery{}
	}
}

func TestSingleFragmentOverChain(t *testing.T) {
	rec := &recorder{}
	sim := startSimulator(t, chainConfig(), WithEventSink(rec))
	ctx := testContext(t)
	c := client(t, sim, 10)

	require.NoError(t, c.Send(ctx, 20, &message.ReqServerType{}))

	d := receive(t, c)
	require.NoError(t, d.Err)
	assert.Equal(t, network.NodeID(20), d.From)
	resp, ok := d.Message.Content.(*message.RespServerType)
	require.True(t, ok, "got %v", d.Message)
	assert.Equal(t, network.ServerText, resp.Kind)

	sim.Stop()

	hop := func(kind packet.Kind, node, next network.NodeID) func(Event) bool {
		return func(ev Event) bool {
			return ev.Kind == PacketForwarded && ev.PacketKind == kind && ev.Node == node && ev.NextHop == next
		}
	}
	for _, h := range [][2]network.NodeID{{1, 2}, {2, 3}, {3, 20}} {
		assert.Equal(t, 1, rec.count(hop(packet.KindFragment, h[0], h[1])), "fragment %d->%d", h[0], h[1])
	}
	for _, h := range [][2]network.NodeID{{3, 2}, {2, 1}, {1, 10}} {
		assert.Equal(t, 1, rec.count(hop(packet.KindAck, h[0], h[1])), "ack %d->%d", h[0], h[1])
	}
	assert.Zero(t, rec.count(func(ev Event) bool {
		return ev.Kind == PacketDropped && ev.PacketKind == packet.KindFragment
	}))
}

func TestDiscover(t *testing.T) {
	sim := startSimulator(t, chainConfig())
	ctx := testContext(t)
	c := client(t, sim, 10)

	require.NoError(t, c.Discover(ctx))

	known, err := c.KnownNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []network.NodeID{1, 2, 3, 10, 20}, known)

	route, err := c.Route(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, network.Path{10, 1, 2, 3, 20}, route)

	_, err = c.Route(ctx, 2)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestFloodTTLBoundsTrace(t *testing.T) {
	conf := chainConfig()
	conf.Drones = drones(map[uint8][]uint8{1: {2}, 2: {3}, 3: {4}, 4: {5}}, 1, 2, 3, 4, 5)
	conf.Servers[0].ConnectedDroneIDs = []uint8{5}
	conf.General.FloodTTL = 2
	sim := startSimulator(t, conf)
	ctx := testContext(t)
	c := client(t, sim, 10)

	require.NoError(t, c.Discover(ctx))

	known, err := c.KnownNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []network.NodeID{1, 2, 10}, known)

	assert.ErrorIs(t, c.Send(ctx, 20, &message.ReqServerType{}), ErrNoRoute)
}

func TestMultiFragmentFile(t *testing.T) {
	sim := startSimulator(t, chainConfig())
	ctx := testContext(t)
	c := client(t, sim, 10)

	require.NoError(t, c.Send(ctx, 20, &message.ReqFile{ID: 1}))
	d := receive(t, c)
	require.NoError(t, d.Err)
	file, ok := d.Message.Content.(*message.RespFile)
	require.True(t, ok, "got %v", d.Message)
	assert.Equal(t, strings.Repeat("drone mesh ", 100), string(file.Data))

	require.NoError(t, c.Send(ctx, 20, &message.ReqFile{ID: 9}))
	d = receive(t, c)
	assert.IsType(t, &message.ErrRequestedNotFound{}, d.Message.Content)

	require.NoError(t, c.Send(ctx, 20, &message.ReqMedia{ID: 1}))
	d = receive(t, c)
	assert.IsType(t, &message.ErrUnsupportedRequestType{}, d.Message.Content)
}

func TestLossyChainDelivers(t *testing.T) {
	conf := chainConfig()
	conf.General.MaxRetries = 60
	sim := startSimulator(t, conf)
	ctx := testContext(t)
	c := client(t, sim, 10)
	srv, ok := sim.Server(20)
	require.True(t, ok)

	// Learn routes first: flood requests are sampled too.
	require.NoError(t, c.Discover(ctx))
	require.NoError(t, srv.Discover(ctx))
	for _, id := range []network.NodeID{1, 2, 3} {
		require.NoError(t, sim.SetDropRate(id, 0.3))
	}

	require.NoError(t, c.Send(ctx, 20, &message.ReqFile{ID: 1}))
	d := receive(t, c)
	require.NoError(t, d.Err)
	file, ok := d.Message.Content.(*message.RespFile)
	require.True(t, ok)
	assert.Len(t, file.Data, len(strings.Repeat("drone mesh ", 100)))
}

func TestRetriesExhausted(t *testing.T) {
	conf := chainConfig()
	conf.General.MaxRetries = 2
	sim := startSimulator(t, conf)
	ctx := testContext(t)
	c := client(t, sim, 10)

	require.NoError(t, c.Discover(ctx))
	require.NoError(t, sim.SetDropRate(2, 1))

	assert.ErrorIs(t, c.Send(ctx, 20, &message.ReqServerType{}), ErrRetriesExhausted)
}

func TestRemoveLinkReroutes(t *testing.T) {
	rec := &recorder{}
	sim := startSimulator(t, detourConfig(), WithEventSink(rec))
	ctx := testContext(t)
	c := client(t, sim, 10)

	require.NoError(t, c.Discover(ctx))
	route, err := c.Route(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, network.Path{10, 1, 2, 3, 20}, route)

	require.NoError(t, sim.RemoveLink(2, 3))
	assert.Equal(t, []network.NodeID{1}, sim.Neighbors(2))

	require.NoError(t, c.Send(ctx, 20, &message.ReqServerType{}))
	route, err = c.Route(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, network.Path{10, 1, 4, 5, 3, 20}, route)

	sim.Stop()
	assert.Equal(t, 1, rec.count(func(ev Event) bool {
		return ev.Kind == PacketDropped && ev.Node == 2 && ev.Reason == ReasonErrorInRouting && ev.PacketKind == packet.KindFragment
	}))
}

func TestCrashReroutes(t *testing.T) {
	sim := startSimulator(t, detourConfig())
	ctx := testContext(t)
	c := client(t, sim, 10)

	require.NoError(t, c.Discover(ctx))
	require.NoError(t, sim.Crash(2))
	assert.Equal(t, []network.NodeID{4, 10}, sim.Neighbors(1))
	assert.Empty(t, sim.Neighbors(2))

	require.NoError(t, c.Send(ctx, 20, &message.ReqServerType{}))
	route, err := c.Route(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, network.Path{10, 1, 4, 5, 3, 20}, route)
}

func TestAddLinkAtRuntime(t *testing.T) {
	conf := chainConfig()
	conf.Drones = drones(map[uint8][]uint8{2: {3}}, 1, 2, 3)
	sim := startSimulator(t, conf)
	ctx := testContext(t)
	c := client(t, sim, 10)

	assert.ErrorIs(t, c.Send(ctx, 20, &message.ReqServerType{}), ErrNoRoute)

	require.NoError(t, sim.AddLink(1, 2))
	assert.Equal(t, []network.NodeID{2, 10}, sim.Neighbors(1))
	require.NoError(t, c.Send(ctx, 20, &message.ReqServerType{}))

	assert.Error(t, sim.AddLink(10, 10))
	assert.ErrorIs(t, sim.AddLink(1, 99), ErrUnknownNode)
}

func TestChatServer(t *testing.T) {
	conf := &config.Config{
		Drones: drones(map[uint8][]uint8{1: {2}}, 1, 2),
		Clients: []config.ClientConfig{
			{ID: 10, ConnectedDroneIDs: []uint8{1}},
			{ID: 11, ConnectedDroneIDs: []uint8{1}},
		},
		Servers: []config.ServerConfig{{ID: 20, ConnectedDroneIDs: []uint8{2}, Kind: "chat"}},
		General: testGeneral(),
	}
	sim := startSimulator(t, conf)
	ctx := testContext(t)
	alice := client(t, sim, 10)
	bob := client(t, sim, 11)

	require.NoError(t, alice.Send(ctx, 20, &message.ReqRegistrationToChat{}))
	d := receive(t, alice)
	list, ok := d.Message.Content.(*message.RespClientList)
	require.True(t, ok, "got %v", d.Message)
	assert.Equal(t, []network.NodeID{10}, list.IDs)

	require.NoError(t, alice.Send(ctx, 20, &message.ReqMessageSend{To: 11, Message: []byte("hi")}))
	d = receive(t, alice)
	assert.IsType(t, &message.ErrWrongClientID{}, d.Message.Content)

	require.NoError(t, bob.Send(ctx, 20, &message.ReqRegistrationToChat{}))
	d = receive(t, bob)
	list, ok = d.Message.Content.(*message.RespClientList)
	require.True(t, ok)
	assert.Equal(t, []network.NodeID{10, 11}, list.IDs)

	require.NoError(t, alice.Send(ctx, 20, &message.ReqMessageSend{To: 11, Message: []byte("hi")}))
	d = receive(t, bob)
	from, ok := d.Message.Content.(*message.RespMessageFrom)
	require.True(t, ok, "got %v", d.Message)
	assert.Equal(t, network.NodeID(10), from.From)
	assert.Equal(t, []byte("hi"), from.Message)
	assert.Equal(t, network.NodeID(20), d.From)
}

func TestControllerErrors(t *testing.T) {
	sim := startSimulator(t, chainConfig())

	assert.ErrorIs(t, sim.SetDropRate(10, 0.5), ErrUnknownNode)
	assert.ErrorIs(t, sim.SetDropRate(42, 0.5), ErrUnknownNode)
	assert.ErrorIs(t, sim.Crash(42), ErrUnknownNode)
	assert.ErrorIs(t, sim.RemoveLink(1, 42), ErrUnknownNode)
	assert.NoError(t, sim.SetDropRate(1, 7))

	_, ok := sim.Client(20)
	assert.False(t, ok)
}

func TestSendAfterStop(t *testing.T) {
	sim := startSimulator(t, chainConfig())
	c := client(t, sim, 10)
	sim.Stop()

	assert.ErrorIs(t, c.Send(testContext(t), 20, &message.ReqServerType{}), ErrNodeStopped)
	assert.ErrorIs(t, sim.AddLink(1, 2), ErrNodeStopped)
}

func TestUnknownDroneImpl(t *testing.T) {
	conf := chainConfig()
	conf.General.DroneImpl = "absent"
	_, err := NewSimulator(conf)
	assert.ErrorIs(t, err, ErrUnknownDroneImpl)

	RegisterDrone("test-relay", func(opts DroneOptions) Drone { return NewRelayDrone(opts) })
	assert.Contains(t, DroneImpls(), "test-relay")
	conf.General.DroneImpl = "test-relay"
	_, err = NewSimulator(conf)
	assert.NoError(t, err)
}

func TestReplayLossTrace(t *testing.T) {
	metrics := NewMetrics("drone_mesh_test")
	sim := startSimulator(t, chainConfig(), WithMetrics(metrics))
	trace, err := NewLossTrace([]LossEntry{{Offset: 0, Probability: 0.2}, {Offset: 20 * time.Millisecond, Probability: 0.4}, {Offset: 40 * time.Millisecond}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sim.ReplayLossTrace(ctx, 2, trace))
	assert.ErrorIs(t, sim.ReplayLossTrace(ctx, 10, trace), ErrUnknownNode)
	time.Sleep(100 * time.Millisecond)
	cancel()

	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	var setDropRate float64
	for _, mf := range families {
		if mf.GetName() != "drone_mesh_test_commands_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == "set_drop_rate" {
					setDropRate = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.GreaterOrEqual(t, setDropRate, 3.0)
}
