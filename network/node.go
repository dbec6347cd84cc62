// Package network holds node addressing, source routing headers and the
// topology graph endpoints use to pick routes.
package network

import (
	"fmt"
	"strings"
)

// NodeID identifies a node for the lifetime of a simulation.
type NodeID uint8

type NodeKind uint8

const (
	KindClient NodeKind = iota + 1
	KindDrone
	KindServer
)

func (k NodeKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindDrone:
		return "drone"
	case KindServer:
		return "server"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsEndpoint reports whether nodes of this kind terminate traffic.
func (k NodeKind) IsEndpoint() bool {
	return k == KindClient || k == KindServer
}

type ServerKind uint8

const (
	ServerText ServerKind = iota + 1
	ServerMedia
	ServerChat
)

func (k ServerKind) String() string {
	switch k {
	case ServerText:
		return "text"
	case ServerMedia:
		return "media"
	case ServerChat:
		return "chat"
	default:
		return fmt.Sprintf("server(%d)", uint8(k))
	}
}

// ParseServerKind maps the config spelling of a server kind.
func ParseServerKind(s string) (ServerKind, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return ServerText, nil
	case "media":
		return ServerMedia, nil
	case "chat":
		return ServerChat, nil
	default:
		return 0, fmt.Errorf("unknown server kind %q", s)
	}
}

// NodeEntry is one (id, kind) pair of a flood path trace.
type NodeEntry struct {
	ID   NodeID
	Kind NodeKind
}

// Path is an ordered list of hops, originator first.
type Path []NodeID

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, id := range p {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, "->")
}

// Reverse returns a reversed copy of the path.
func (p Path) Reverse() Path {
	r := make(Path, len(p))
	for i, id := range p {
		r[len(p)-1-i] = id
	}
	return r
}

// Contains reports whether id is one of the hops.
func (p Path) Contains(id NodeID) bool {
	return p.IndexOf(id) >= 0
}

// IndexOf returns the first position of id in the path, or -1.
func (p Path) IndexOf(id NodeID) int {
	for i, hop := range p {
		if hop == id {
			return i
		}
	}
	return -1
}
