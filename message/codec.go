package message

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/aditiharini/drone-mesh/network"
)

type envelope struct {
	Source  network.NodeID  `cbor:"1,keyasint"`
	Session uint64          `cbor:"2,keyasint"`
	Type    ContentType     `cbor:"3,keyasint"`
	Body    cbor.RawMessage `cbor:"4,keyasint"`
}

// Encode serializes a message into the byte string that gets fragmented.
func Encode(m *Message) ([]byte, error) {
	if m.Content == nil {
		return nil, ErrEmptyMessage
	}
	body, err := cbor.Marshal(m.Content)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Content.Type(), err)
	}
	return cbor.Marshal(envelope{
		Source:  m.Source,
		Session: m.Session,
		Type:    m.Content.Type(),
		Body:    body,
	})
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Message, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	content, err := newContent(env.Type)
	if err != nil {
		return nil, err
	}
	if err := cbor.Unmarshal(env.Body, content); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return &Message{Source: env.Source, Session: env.Session, Content: content}, nil
}
