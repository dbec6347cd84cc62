package packet

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditiharini/drone-mesh/network"
)

func roundTrip(t *testing.T, p *Packet) *Packet {
	t.Helper()
	raw, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	return got
}

func TestEncodeDecode(t *testing.T) {
	frag, err := NewFragment(3, 7, []byte("hello mesh"))
	require.NoError(t, err)

	cases := []struct {
		name string
		pkt  *Packet
	}{
		{"fragment", &Packet{
			Header:    network.SourceRoutingHeader{HopIndex: 1, Hops: network.Path{10, 1, 2, 20}},
			SessionID: 42,
			Body:      frag,
		}},
		{"ack", &Packet{
			Header:    network.NewRoute(network.Path{20, 2, 1, 10}),
			SessionID: 42,
			Body:      &Ack{FragmentIndex: 3},
		}},
		{"nack", &Packet{
			Header:    network.NewRoute(network.Path{2, 1, 10}),
			SessionID: 42,
			Body:      &Nack{FragmentIndex: 3, Type: ErrorInRouting, Node: 3},
		}},
		{"flood request", &Packet{
			SessionID: 9,
			Body: &FloodRequest{
				FloodID:     5,
				InitiatorID: 10,
				TTL:         4,
				PathTrace:   []network.NodeEntry{{ID: 10, Kind: network.KindClient}, {ID: 1, Kind: network.KindDrone}},
			},
		}},
		{"flood response", &Packet{
			Header:    network.NewRoute(network.Path{1, 10}),
			SessionID: 9,
			Body: &FloodResponse{
				FloodID:   5,
				PathTrace: []network.NodeEntry{{ID: 10, Kind: network.KindClient}, {ID: 1, Kind: network.KindDrone}},
			},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, tc.pkt)
			assert.Equal(t, tc.pkt, got)
		})
	}
}

func TestFragmentPayload(t *testing.T) {
	full := make([]byte, FragmentSize)
	for i := range full {
		full[i] = byte(i)
	}
	f, err := NewFragment(0, 1, full)
	require.NoError(t, err)

	got := roundTrip(t, &Packet{Header: network.NewRoute(network.Path{1, 2}), Body: f})
	assert.Equal(t, full, got.Body.(*Fragment).Payload())

	_, err = NewFragment(0, 1, make([]byte, FragmentSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeTruncated(t *testing.T) {
	raw, err := Encode(&Packet{
		Header: network.NewRoute(network.Path{1, 2, 3}),
		Body:   &Nack{FragmentIndex: 1, Type: Dropped},
	})
	require.NoError(t, err)

	for _, n := range []int{1, HeaderSize - 1, HeaderSize + 1, len(raw) - 1} {
		_, err := Decode(raw[:n])
		assert.ErrorIs(t, err, ErrTruncated, "prefix of %d bytes", n)
	}

	raw[0] = 99
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEncodeRejectsLongHeader(t *testing.T) {
	hops := make(network.Path, 300)
	_, err := Encode(&Packet{Header: network.NewRoute(hops), Body: &Ack{}})
	assert.ErrorIs(t, err, ErrHeaderTooLong)
}

func TestGopacketDecoder(t *testing.T) {
	raw, err := Encode(&Packet{
		Header:    network.NewRoute(network.Path{10, 1}),
		SessionID: 1,
		Body:      &Ack{FragmentIndex: 2},
	})
	require.NoError(t, err)

	gp := gopacket.NewPacket(raw, LayerTypeDronePacket, gopacket.Default)
	require.Nil(t, gp.ErrorLayer())
	l, ok := gp.Layer(LayerTypeDronePacket).(*Layer)
	require.True(t, ok)
	assert.Equal(t, KindAck, l.Packet.Kind())
	assert.Equal(t, uint64(2), l.Packet.FragmentIndex())
}

func TestRespond(t *testing.T) {
	req := &FloodRequest{
		FloodID:     1,
		InitiatorID: 10,
		TTL:         2,
		PathTrace: []network.NodeEntry{
			{ID: 10, Kind: network.KindClient},
			{ID: 1, Kind: network.KindDrone},
			{ID: 2, Kind: network.KindDrone},
		},
	}

	resp := req.Respond(3, 7)
	assert.Equal(t, network.Path{3, 2, 1, 10}, resp.Header.Hops)
	assert.Equal(t, uint64(7), resp.SessionID)

	resp = req.Respond(1, 7)
	assert.Equal(t, network.Path{1, 10}, resp.Header.Hops)
	assert.Len(t, resp.Body.(*FloodResponse).PathTrace, 3)
}

func TestClone(t *testing.T) {
	req := &Packet{Body: &FloodRequest{PathTrace: []network.NodeEntry{{ID: 1}}}}
	c := req.Clone()
	c.Body.(*FloodRequest).PathTrace[0].ID = 9
	assert.Equal(t, network.NodeID(1), req.Body.(*FloodRequest).PathTrace[0].ID)
}
