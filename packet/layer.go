package packet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/aditiharini/drone-mesh/network"
)

// HeaderSize is the fixed part of the envelope:
// Kind(1) + SessionID(8) + HopIndex(1) + HopCount(1).
const HeaderSize = 11

const (
	fragmentBodySize = 8 + 8 + 1 + FragmentSize
	ackBodySize      = 8
	nackBodySize     = 8 + 1 + 1
)

// LayerTypeDronePacket lets gopacket decode mesh envelopes.
var LayerTypeDronePacket = gopacket.RegisterLayerType(1721, gopacket.LayerTypeMetadata{
	Name:    "DronePacket",
	Decoder: gopacket.DecodeFunc(decodeDronePacket),
})

// Layer is the gopacket view of a Packet.
type Layer struct {
	layers.BaseLayer
	Packet Packet
}

func (l *Layer) LayerType() gopacket.LayerType { return LayerTypeDronePacket }

func (l *Layer) CanDecode() gopacket.LayerClass { return LayerTypeDronePacket }

func (l *Layer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

func (l *Layer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	p := &l.Packet
	hops := p.Header.Hops
	if len(hops) > math.MaxUint8 || p.Header.HopIndex < 0 || p.Header.HopIndex > math.MaxUint8 {
		return fmt.Errorf("%w: %d hops, index %d", ErrHeaderTooLong, len(hops), p.Header.HopIndex)
	}

	body, err := encodeBody(p.Body)
	if err != nil {
		return err
	}

	buf, err := b.PrependBytes(HeaderSize + len(hops) + len(body))
	if err != nil {
		return err
	}
	buf[0] = uint8(p.Kind())
	binary.BigEndian.PutUint64(buf[1:9], p.SessionID)
	buf[9] = uint8(p.Header.HopIndex)
	buf[10] = uint8(len(hops))
	for i, hop := range hops {
		buf[HeaderSize+i] = uint8(hop)
	}
	copy(buf[HeaderSize+len(hops):], body)
	return nil
}

func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderSize {
		df.SetTruncated()
		return fmt.Errorf("%w: %d bytes (need at least %d)", ErrTruncated, len(data), HeaderSize)
	}
	kind := Kind(data[0])
	nHops := int(data[10])
	if len(data) < HeaderSize+nHops {
		df.SetTruncated()
		return fmt.Errorf("%w: header declares %d hops", ErrTruncated, nHops)
	}

	var hops network.Path
	if nHops > 0 {
		hops = make(network.Path, nHops)
		for i := range hops {
			hops[i] = network.NodeID(data[HeaderSize+i])
		}
	}

	body, err := decodeBody(kind, data[HeaderSize+nHops:])
	if err != nil {
		return err
	}

	l.Packet = Packet{
		Header:    network.SourceRoutingHeader{HopIndex: int(data[9]), Hops: hops},
		SessionID: binary.BigEndian.Uint64(data[1:9]),
		Body:      body,
	}
	l.BaseLayer = layers.BaseLayer{Contents: data}
	return nil
}

func decodeDronePacket(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return nil
}

func encodeBody(body Body) ([]byte, error) {
	switch b := body.(type) {
	case *Fragment:
		if b.Length > FragmentSize {
			return nil, fmt.Errorf("%w: length %d", ErrPayloadTooLarge, b.Length)
		}
		buf := make([]byte, fragmentBodySize)
		binary.BigEndian.PutUint64(buf[0:8], b.Index)
		binary.BigEndian.PutUint64(buf[8:16], b.Total)
		buf[16] = b.Length
		copy(buf[17:], b.Data[:])
		return buf, nil
	case *Ack:
		buf := make([]byte, ackBodySize)
		binary.BigEndian.PutUint64(buf, b.FragmentIndex)
		return buf, nil
	case *Nack:
		buf := make([]byte, nackBodySize)
		binary.BigEndian.PutUint64(buf[0:8], b.FragmentIndex)
		buf[8] = uint8(b.Type)
		buf[9] = uint8(b.Node)
		return buf, nil
	case *FloodRequest:
		if len(b.PathTrace) > math.MaxUint8 {
			return nil, fmt.Errorf("%w: path trace of %d entries", ErrHeaderTooLong, len(b.PathTrace))
		}
		buf := make([]byte, 11, 11+2*len(b.PathTrace))
		binary.BigEndian.PutUint64(buf[0:8], b.FloodID)
		buf[8] = uint8(b.InitiatorID)
		buf[9] = b.TTL
		buf[10] = uint8(len(b.PathTrace))
		return appendTrace(buf, b.PathTrace), nil
	case *FloodResponse:
		if len(b.PathTrace) > math.MaxUint8 {
			return nil, fmt.Errorf("%w: path trace of %d entries", ErrHeaderTooLong, len(b.PathTrace))
		}
		buf := make([]byte, 9, 9+2*len(b.PathTrace))
		binary.BigEndian.PutUint64(buf[0:8], b.FloodID)
		buf[8] = uint8(len(b.PathTrace))
		return appendTrace(buf, b.PathTrace), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, body)
	}
}

func decodeBody(kind Kind, data []byte) (Body, error) {
	switch kind {
	case KindFragment:
		if len(data) < fragmentBodySize {
			return nil, fmt.Errorf("%w: fragment body of %d bytes", ErrTruncated, len(data))
		}
		f := &Fragment{
			Index:  binary.BigEndian.Uint64(data[0:8]),
			Total:  binary.BigEndian.Uint64(data[8:16]),
			Length: data[16],
		}
		if f.Length > FragmentSize {
			return nil, fmt.Errorf("%w: length %d", ErrPayloadTooLarge, f.Length)
		}
		copy(f.Data[:], data[17:fragmentBodySize])
		return f, nil
	case KindAck:
		if len(data) < ackBodySize {
			return nil, fmt.Errorf("%w: ack body of %d bytes", ErrTruncated, len(data))
		}
		return &Ack{FragmentIndex: binary.BigEndian.Uint64(data)}, nil
	case KindNack:
		if len(data) < nackBodySize {
			return nil, fmt.Errorf("%w: nack body of %d bytes", ErrTruncated, len(data))
		}
		return &Nack{
			FragmentIndex: binary.BigEndian.Uint64(data[0:8]),
			Type:          NackType(data[8]),
			Node:          network.NodeID(data[9]),
		}, nil
	case KindFloodRequest:
		if len(data) < 11 {
			return nil, fmt.Errorf("%w: flood request body of %d bytes", ErrTruncated, len(data))
		}
		trace, err := readTrace(data[11:], int(data[10]))
		if err != nil {
			return nil, err
		}
		return &FloodRequest{
			FloodID:     binary.BigEndian.Uint64(data[0:8]),
			InitiatorID: network.NodeID(data[8]),
			TTL:         data[9],
			PathTrace:   trace,
		}, nil
	case KindFloodResponse:
		if len(data) < 9 {
			return nil, fmt.Errorf("%w: flood response body of %d bytes", ErrTruncated, len(data))
		}
		trace, err := readTrace(data[9:], int(data[8]))
		if err != nil {
			return nil, err
		}
		return &FloodResponse{FloodID: binary.BigEndian.Uint64(data[0:8]), PathTrace: trace}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
}

func appendTrace(buf []byte, trace []network.NodeEntry) []byte {
	for _, e := range trace {
		buf = append(buf, uint8(e.ID), uint8(e.Kind))
	}
	return buf
}

func readTrace(data []byte, n int) ([]network.NodeEntry, error) {
	if len(data) < 2*n {
		return nil, fmt.Errorf("%w: path trace declares %d entries", ErrTruncated, n)
	}
	trace := make([]network.NodeEntry, n)
	for i := range trace {
		trace[i] = network.NodeEntry{ID: network.NodeID(data[2*i]), Kind: network.NodeKind(data[2*i+1])}
	}
	return trace, nil
}

// Encode serializes a packet into its wire form.
func Encode(p *Packet) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, &Layer{Packet: *p}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a wire frame back into a packet.
func Decode(data []byte) (*Packet, error) {
	var l Layer
	parser := gopacket.NewDecodingLayerParser(LayerTypeDronePacket, &l)
	decoded := make([]gopacket.LayerType, 0, 1)
	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrTruncated)
	}
	p := l.Packet
	return &p, nil
}
