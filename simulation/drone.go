package simulation

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/aditiharini/drone-mesh/network"
)

// Drone is a relay node. Run blocks until the drone crashes.
type Drone interface {
	Run()
}

// DroneOptions is everything a drone implementation is built from.
type DroneOptions struct {
	ID       network.NodeID
	Commands <-chan Command
	Events   chan<- Event
	Inbox    *Inbox
	Links    map[network.NodeID]*Link
	DropRate float64
	Seed     int64
}

type DroneFactory func(DroneOptions) Drone

var (
	registryMu sync.RWMutex
	registry   = map[string]DroneFactory{
		"relay": func(opts DroneOptions) Drone { return NewRelayDrone(opts) },
	}
)

// RegisterDrone makes a drone implementation available under name,
// replacing any previous one.
func RegisterDrone(name string, factory DroneFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

func NewDrone(name string, opts DroneOptions) (Drone, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDroneImpl, name)
	}
	return factory(opts), nil
}

// DroneImpls lists registered implementation names.
func DroneImpls() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nodeLogger(id network.NodeID, kind network.NodeKind) *log.Entry {
	return log.WithFields(log.Fields{
		"node": id,
		"kind": kind.String(),
	})
}
