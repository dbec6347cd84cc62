// Package message holds the application messages endpoints exchange and
// the codec that turns them into fragments and back.
package message

import (
	"fmt"

	"github.com/aditiharini/drone-mesh/network"
)

// Message is an application level unit. It never travels as is; it is
// encoded and split into fragments first.
type Message struct {
	Source  network.NodeID
	Session uint64
	Content Content
}

func (m *Message) String() string {
	return fmt.Sprintf("%s from %d session %d", m.Content.Type(), m.Source, m.Session)
}

// ContentType tags the closed set of message contents on the wire.
type ContentType uint8

const (
	TypeReqServerType ContentType = iota + 1
	TypeReqFilesList
	TypeReqFile
	TypeReqMedia
	TypeReqClientList
	TypeReqRegistrationToChat
	TypeReqMessageSend
	TypeRespServerType
	TypeRespFilesList
	TypeRespFile
	TypeRespMedia
	TypeErrUnsupportedRequestType
	TypeErrRequestedNotFound
	TypeRespClientList
	TypeRespMessageFrom
	TypeErrWrongClientID
)

var typeNames = map[ContentType]string{
	TypeReqServerType:             "req_server_type",
	TypeReqFilesList:              "req_files_list",
	TypeReqFile:                   "req_file",
	TypeReqMedia:                  "req_media",
	TypeReqClientList:             "req_client_list",
	TypeReqRegistrationToChat:     "req_registration_to_chat",
	TypeReqMessageSend:            "req_message_send",
	TypeRespServerType:            "resp_server_type",
	TypeRespFilesList:             "resp_files_list",
	TypeRespFile:                  "resp_file",
	TypeRespMedia:                 "resp_media",
	TypeErrUnsupportedRequestType: "err_unsupported_request_type",
	TypeErrRequestedNotFound:      "err_requested_not_found",
	TypeRespClientList:            "resp_client_list",
	TypeRespMessageFrom:           "resp_message_from",
	TypeErrWrongClientID:          "err_wrong_client_id",
}

func (t ContentType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("content(%d)", uint8(t))
}

// Content is one of the message variants below.
type Content interface {
	Type() ContentType
}

// Client -> server.

type ReqServerType struct{}

type ReqFilesList struct{}

type ReqFile struct {
	ID uint64 `cbor:"id"`
}

type ReqMedia struct {
	ID uint64 `cbor:"id"`
}

type ReqClientList struct{}

type ReqRegistrationToChat struct{}

type ReqMessageSend struct {
	To      network.NodeID `cbor:"to"`
	Message []byte         `cbor:"message"`
}

// Server -> client.

type RespServerType struct {
	Kind network.ServerKind `cbor:"kind"`
}

type RespFilesList struct {
	IDs []uint64 `cbor:"ids"`
}

type RespFile struct {
	Data []byte `cbor:"data"`
}

type RespMedia struct {
	Data []byte `cbor:"data"`
}

type ErrUnsupportedRequestType struct{}

type ErrRequestedNotFound struct{}

type RespClientList struct {
	IDs []network.NodeID `cbor:"ids"`
}

type RespMessageFrom struct {
	From    network.NodeID `cbor:"from"`
	Message []byte         `cbor:"message"`
}

type ErrWrongClientID struct{}

func (*ReqServerType) Type() ContentType             { return TypeReqServerType }
func (*ReqFilesList) Type() ContentType              { return TypeReqFilesList }
func (*ReqFile) Type() ContentType                   { return TypeReqFile }
func (*ReqMedia) Type() ContentType                  { return TypeReqMedia }
func (*ReqClientList) Type() ContentType             { return TypeReqClientList }
func (*ReqRegistrationToChat) Type() ContentType     { return TypeReqRegistrationToChat }
func (*ReqMessageSend) Type() ContentType            { return TypeReqMessageSend }
func (*RespServerType) Type() ContentType            { return TypeRespServerType }
func (*RespFilesList) Type() ContentType             { return TypeRespFilesList }
func (*RespFile) Type() ContentType                  { return TypeRespFile }
func (*RespMedia) Type() ContentType                 { return TypeRespMedia }
func (*ErrUnsupportedRequestType) Type() ContentType { return TypeErrUnsupportedRequestType }
func (*ErrRequestedNotFound) Type() ContentType      { return TypeErrRequestedNotFound }
func (*RespClientList) Type() ContentType            { return TypeRespClientList }
func (*RespMessageFrom) Type() ContentType           { return TypeRespMessageFrom }
func (*ErrWrongClientID) Type() ContentType          { return TypeErrWrongClientID }

// newContent returns an empty value of the variant tagged t.
func newContent(t ContentType) (Content, error) {
	switch t {
	case TypeReqServerType:
		return &ReqServerType{}, nil
	case TypeReqFilesList:
		return &ReqFilesList{}, nil
	case TypeReqFile:
		return &ReqFile{}, nil
	case TypeReqMedia:
		return &ReqMedia{}, nil
	case TypeReqClientList:
		return &ReqClientList{}, nil
	case TypeReqRegistrationToChat:
		return &ReqRegistrationToChat{}, nil
	case TypeReqMessageSend:
		return &ReqMessageSend{}, nil
	case TypeRespServerType:
		return &RespServerType{}, nil
	case TypeRespFilesList:
		return &RespFilesList{}, nil
	case TypeRespFile:
		return &RespFile{}, nil
	case TypeRespMedia:
		return &RespMedia{}, nil
	case TypeErrUnsupportedRequestType:
		return &ErrUnsupportedRequestType{}, nil
	case TypeErrRequestedNotFound:
		return &ErrRequestedNotFound{}, nil
	case TypeRespClientList:
		return &RespClientList{}, nil
	case TypeRespMessageFrom:
		return &RespMessageFrom{}, nil
	case TypeErrWrongClientID:
		return &ErrWrongClientID{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownContent, uint8(t))
	}
}

// IsRequest reports whether the content is sent by clients to servers.
func IsRequest(c Content) bool {
	return c.Type() <= TypeReqMessageSend
}
