package simulation

import (
	"sort"

	"github.com/aditiharini/drone-mesh/message"
	"github.com/aditiharini/drone-mesh/network"
)

// Reply is a message a server sends in answer to a request.
type Reply struct {
	To      network.NodeID
	Content message.Content
}

// Handler answers requests received by a server endpoint. It runs on the
// endpoint goroutine.
type Handler interface {
	Handle(req *message.Message) []Reply
}

type HandlerFunc func(req *message.Message) []Reply

func (f HandlerFunc) Handle(req *message.Message) []Reply {
	return f(req)
}

// ServerHandler is the default behavior of text, media and chat servers.
type ServerHandler struct {
	kind       network.ServerKind
	files      map[uint64][]byte
	media      map[uint64][]byte
	registered map[network.NodeID]bool
}

func NewServerHandler(kind network.ServerKind, files, media map[uint64][]byte) *ServerHandler {
	if files == nil {
		files = make(map[uint64][]byte)
	}
	if media == nil {
		media = make(map[uint64][]byte)
	}
	return &ServerHandler{
		kind:       kind,
		files:      files,
		media:      media,
		registered: make(map[network.NodeID]bool),
	}
}

func (h *ServerHandler) Handle(req *message.Message) []Reply {
	from := req.Source
	reply := func(c message.Content) []Reply { return []Reply{{To: from, Content: c}} }
	unsupported := reply(&message.ErrUnsupportedRequestType{})

	switch c := req.Content.(type) {
	case *message.ReqServerType:
		return reply(&message.RespServerType{Kind: h.kind})

	case *message.ReqFilesList:
		if h.kind != network.ServerText {
			return unsupported
		}
		return reply(&message.RespFilesList{IDs: sortedIDs(h.files)})

	case *message.ReqFile:
		if h.kind != network.ServerText {
			return unsupported
		}
		data, ok := h.files[c.ID]
		if !ok {
			return reply(&message.ErrRequestedNotFound{})
		}
		return reply(&message.RespFile{Data: data})

	case *message.ReqMedia:
		if h.kind != network.ServerMedia {
			return unsupported
		}
		data, ok := h.media[c.ID]
		if !ok {
			return reply(&message.ErrRequestedNotFound{})
		}
		return reply(&message.RespMedia{Data: data})

	case *message.ReqRegistrationToChat:
		if h.kind != network.ServerChat {
			return unsupported
		}
		h.registered[from] = true
		return reply(&message.RespClientList{IDs: h.clients()})

	case *message.ReqClientList:
		if h.kind != network.ServerChat {
			return unsupported
		}
		return reply(&message.RespClientList{IDs: h.clients()})

	case *message.ReqMessageSend:
		if h.kind != network.ServerChat {
			return unsupported
		}
		if !h.registered[from] || !h.registered[c.To] {
			return reply(&message.ErrWrongClientID{})
		}
		return []Reply{{To: c.To, Content: &message.RespMessageFrom{From: from, Message: c.Message}}}

	default:
		return unsupported
	}
}

func (h *ServerHandler) clients() []network.NodeID {
	ids := make([]network.NodeID, 0, len(h.registered))
	for id := range h.registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedIDs(content map[uint64][]byte) []uint64 {
	ids := make([]uint64, 0, len(content))
	for id := range content {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
