package simulation

import (
	"sort"
	"time"

	config "github.com/aditiharini/drone-mesh/config/simulator"
	"github.com/aditiharini/drone-mesh/network"
)

// LinkConfig describes one directed link of the initial topology.
type LinkConfig struct {
	Src   network.NodeID
	Dst   network.NodeID
	Delay time.Duration
}

func (c LinkConfig) ToLink(inbox *Inbox, maxQueueLength int) *Link {
	return NewLink(c.Src, inbox, c.Delay, maxQueueLength)
}

func (c LinkConfig) SrcAddr() network.NodeID {
	return c.Src
}

func (c LinkConfig) DstAddr() network.NodeID {
	return c.Dst
}

type NeighborMap = map[network.NodeID][]network.NodeID

func ToNeighborsMap(configs []LinkConfig) NeighborMap {
	neighborMap := make(NeighborMap)
	for _, c := range configs {
		neighborMap[c.Src] = append(neighborMap[c.Src], c.Dst)
	}
	for _, neighbors := range neighborMap {
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
	}
	return neighborMap
}

// ToLinkConfigs turns the undirected connections of a config into links in
// both directions, each listed once.
func ToLinkConfigs(conf *config.Config) []LinkConfig {
	delay := conf.General.LinkDelay()
	seen := make(map[[2]network.NodeID]bool)
	var linkConfigs []LinkConfig
	connect := func(a, b uint8) {
		for _, pair := range [][2]network.NodeID{{network.NodeID(a), network.NodeID(b)}, {network.NodeID(b), network.NodeID(a)}} {
			if seen[pair] {
				continue
			}
			seen[pair] = true
			linkConfigs = append(linkConfigs, LinkConfig{Src: pair[0], Dst: pair[1], Delay: delay})
		}
	}
	for _, d := range conf.Drones {
		for _, other := range d.ConnectedDroneIDs {
			connect(d.ID, other)
		}
	}
	for _, c := range conf.Clients {
		for _, other := range c.ConnectedDroneIDs {
			connect(c.ID, other)
		}
	}
	for _, s := range conf.Servers {
		for _, other := range s.ConnectedDroneIDs {
			connect(s.ID, other)
		}
	}
	return linkConfigs
}
