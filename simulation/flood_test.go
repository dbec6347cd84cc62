package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

func floodRequest(ttl uint8, trace ...network.NodeEntry) *packet.Packet {
	return &packet.Packet{
		SessionID: 1,
		Body: &packet.FloodRequest{
			FloodID:     1,
			InitiatorID: trace[0].ID,
			TTL:         ttl,
			PathTrace:   trace,
		},
	}
}

var (
	client10 = network.NodeEntry{ID: 10, Kind: network.KindClient}
	drone1   = network.NodeEntry{ID: 1, Kind: network.KindDrone}
	drone2   = network.NodeEntry{ID: 2, Kind: network.KindDrone}
	drone3   = network.NodeEntry{ID: 3, Kind: network.KindDrone}
	drone4   = network.NodeEntry{ID: 4, Kind: network.KindDrone}
)

func TestFloodRebroadcast(t *testing.T) {
	h := newDroneHarness(t, 2, []network.NodeID{1, 3, 4}, 0)
	h.start(t)

	h.inject(t, 1, floodRequest(3, client10, drone1))

	for _, peer := range []network.NodeID{3, 4} {
		got := h.expect(t, peer)
		req, ok := got.Body.(*packet.FloodRequest)
		require.True(t, ok)
		assert.Equal(t, uint8(2), req.TTL)
		assert.Equal(t, []network.NodeEntry{client10, drone1, drone2}, req.PathTrace)
	}
	h.expectNothing(t, 1)
}

func TestFloodRespondsWhenTTLSpent(t *testing.T) {
	h := newDroneHarness(t, 2, []network.NodeID{1, 3}, 0)
	h.start(t)

	h.inject(t, 1, floodRequest(0, client10, drone1))

	got := h.expect(t, 1)
	resp, ok := got.Body.(*packet.FloodResponse)
	require.True(t, ok)
	assert.Equal(t, []network.NodeEntry{client10, drone1}, resp.PathTrace)
	assert.Equal(t, network.Path{2, 1, 10}, got.Header.Hops)
	assert.Equal(t, 1, got.Header.HopIndex)
	h.expectNothing(t, 3)
}

func TestFloodRespondsToRepeatedRound(t *testing.T) {
	h := newDroneHarness(t, 2, []network.NodeID{1, 3, 4}, 0)
	h.start(t)

	h.inject(t, 1, floodRequest(5, client10, drone1))
	h.expect(t, 3)
	h.expect(t, 4)

	h.inject(t, 3, floodRequest(4, client10, drone4, drone3))

	got := h.expect(t, 3)
	resp, ok := got.Body.(*packet.FloodResponse)
	require.True(t, ok)
	assert.Equal(t, []network.NodeEntry{client10, drone4, drone3, drone2}, resp.PathTrace)
	assert.Equal(t, network.Path{2, 3, 4, 10}, got.Header.Hops)
	h.expectNothing(t, 1)
	h.expectNothing(t, 4)
}

func TestFloodRespondsAtDeadEnd(t *testing.T) {
	h := newDroneHarness(t, 2, []network.NodeID{1}, 0)
	h.start(t)

	h.inject(t, 1, floodRequest(5, client10, drone1))

	got := h.expect(t, 1)
	resp, ok := got.Body.(*packet.FloodResponse)
	require.True(t, ok)
	assert.Equal(t, []network.NodeEntry{client10, drone1, drone2}, resp.PathTrace)
	assert.Equal(t, network.Path{2, 1, 10}, got.Header.Hops)
}

func TestFloodRequestsAreSampled(t *testing.T) {
	h := newDroneHarness(t, 2, []network.NodeID{1, 3}, 1)
	h.start(t)

	h.inject(t, 1, floodRequest(5, client10, drone1))

	ev := h.event(t)
	assert.Equal(t, PacketDropped, ev.Kind)
	assert.Equal(t, packet.KindFloodRequest, ev.PacketKind)
	assert.Equal(t, ReasonPDR, ev.Reason)
	h.expectNothing(t, 1)
	h.expectNothing(t, 3)
}
