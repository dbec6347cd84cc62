package network

import "sort"

// Node is one vertex of a topology. Neighbors are stored as ids and resolved
// through the owning Topology.
type Node struct {
	ID         NodeID
	Kind       NodeKind
	ServerKind ServerKind
	neighbors  map[NodeID]struct{}
}

// Neighbors returns the node's neighbor ids in ascending order.
func (n *Node) Neighbors() []NodeID {
	ids := make([]NodeID, 0, len(n.neighbors))
	for id := range n.neighbors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (n *Node) HasNeighbor(id NodeID) bool {
	_, ok := n.neighbors[id]
	return ok
}

// Topology is an arena of nodes indexed by id. It is not safe for concurrent
// use; each endpoint owns its own view.
type Topology struct {
	nodes map[NodeID]*Node
}

func NewTopology() *Topology {
	return &Topology{nodes: make(map[NodeID]*Node)}
}

// AddNode inserts a node or updates the kind of a known one.
func (t *Topology) AddNode(id NodeID, kind NodeKind) *Node {
	n, ok := t.nodes[id]
	if !ok {
		n = &Node{ID: id, neighbors: make(map[NodeID]struct{})}
		t.nodes[id] = n
	}
	if kind != 0 {
		n.Kind = kind
	}
	return n
}

func (t *Topology) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *Topology) Len() int {
	return len(t.nodes)
}

// IDs returns every known node id in ascending order.
func (t *Topology) IDs() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddLink records an undirected link, creating unknown endpoints with an
// unknown kind.
func (t *Topology) AddLink(a, b NodeID) {
	if a == b {
		return
	}
	na := t.AddNode(a, 0)
	nb := t.AddNode(b, 0)
	na.neighbors[b] = struct{}{}
	nb.neighbors[a] = struct{}{}
}

func (t *Topology) RemoveLink(a, b NodeID) {
	if na, ok := t.nodes[a]; ok {
		delete(na.neighbors, b)
	}
	if nb, ok := t.nodes[b]; ok {
		delete(nb.neighbors, a)
	}
}

func (t *Topology) HasLink(a, b NodeID) bool {
	n, ok := t.nodes[a]
	return ok && n.HasNeighbor(b)
}

// RemoveNode deletes a node and every link touching it.
func (t *Topology) RemoveNode(id NodeID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	for nb := range n.neighbors {
		if other, ok := t.nodes[nb]; ok {
			delete(other.neighbors, id)
		}
	}
	delete(t.nodes, id)
}

// MergeTrace adds the nodes of a flood path trace and links consecutive
// entries.
func (t *Topology) MergeTrace(trace []NodeEntry) {
	for i, entry := range trace {
		t.AddNode(entry.ID, entry.Kind)
		if i > 0 {
			t.AddLink(trace[i-1].ID, entry.ID)
		}
	}
}

// ShortestPath runs a breadth first search from src to dst. Only drones may
// appear between the two ends, and nodes in avoid are never traversed. Ties
// are broken towards lower ids so results are stable.
func (t *Topology) ShortestPath(src, dst NodeID, avoid map[NodeID]bool) (Path, bool) {
	if _, ok := t.nodes[src]; !ok {
		return nil, false
	}
	if _, ok := t.nodes[dst]; !ok {
		return nil, false
	}
	if src == dst {
		return Path{src}, true
	}

	prev := map[NodeID]NodeID{src: src}
	queue := []NodeID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, nb := range t.nodes[cur].Neighbors() {
			if _, seen := prev[nb]; seen {
				continue
			}
			if nb == dst {
				prev[nb] = cur
				return t.walkBack(prev, src, dst), true
			}
			if avoid[nb] {
				continue
			}
			if n := t.nodes[nb]; n.Kind != KindDrone {
				continue
			}
			prev[nb] = cur
			queue = append(queue, nb)
		}
	}
	return nil, false
}

func (t *Topology) walkBack(prev map[NodeID]NodeID, src, dst NodeID) Path {
	var rev Path
	for cur := dst; cur != src; cur = prev[cur] {
		rev = append(rev, cur)
	}
	rev = append(rev, src)
	return rev.Reverse()
}
