package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

var ErrInvalidConfig = errors.New("invalid simulator config")

type DroneConfig struct {
	ID                uint8   `json:"id"`
	ConnectedDroneIDs []uint8 `json:"connected_drone_ids"`
	Pdr               float64 `json:"pdr"`
}

type ClientConfig struct {
	ID                uint8   `json:"id"`
	ConnectedDroneIDs []uint8 `json:"connected_drone_ids"`
}

type ServerConfig struct {
	ID                uint8   `json:"id"`
	ConnectedDroneIDs []uint8 `json:"connected_drone_ids"`
	Kind              string  `json:"kind"`
	// Files and Media map content ids to their body.
	Files map[string]string `json:"files"`
	Media map[string]string `json:"media"`
}

type GeneralConfig struct {
	FloodTTL                int    `json:"floodTtl"`
	FloodTimeoutMillis      int    `json:"floodTimeoutMillis"`
	RetryTimeoutMillis      int    `json:"retryTimeoutMillis"`
	MaxRetries              int    `json:"maxRetries"`
	ReassemblyTimeoutMillis int    `json:"reassemblyTimeoutMillis"`
	MaxQueueLength          int    `json:"maxQueueLength"`
	LinkDelayMillis         int    `json:"linkDelayMillis"`
	DroneImpl               string `json:"droneImpl"`
	Seed                    int64  `json:"seed"`
}

type Config struct {
	Drones  []DroneConfig  `json:"drones"`
	Clients []ClientConfig `json:"clients"`
	Servers []ServerConfig `json:"servers"`
	General GeneralConfig  `json:"general"`
}

// DefaultGeneral holds the values used for every general field left at zero.
var DefaultGeneral = GeneralConfig{
	FloodTTL:                8,
	FloodTimeoutMillis:      300,
	RetryTimeoutMillis:      500,
	MaxRetries:              16,
	ReassemblyTimeoutMillis: 5000,
	MaxQueueLength:          1000,
	DroneImpl:               "relay",
}

func ReadConfig(filename string) (*Config, error) {
	confFile, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer confFile.Close()
	return Parse(confFile)
}

// Parse decodes, defaults and validates a config.
func Parse(r io.Reader) (*Config, error) {
	var conf Config
	if err := json.NewDecoder(r).Decode(&conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) ApplyDefaults() {
	g := &c.General
	if g.FloodTTL == 0 {
		g.FloodTTL = DefaultGeneral.FloodTTL
	}
	if g.FloodTimeoutMillis == 0 {
		g.FloodTimeoutMillis = DefaultGeneral.FloodTimeoutMillis
	}
	if g.RetryTimeoutMillis == 0 {
		g.RetryTimeoutMillis = DefaultGeneral.RetryTimeoutMillis
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = DefaultGeneral.MaxRetries
	}
	if g.ReassemblyTimeoutMillis == 0 {
		g.ReassemblyTimeoutMillis = DefaultGeneral.ReassemblyTimeoutMillis
	}
	if g.MaxQueueLength == 0 {
		g.MaxQueueLength = DefaultGeneral.MaxQueueLength
	}
	if g.DroneImpl == "" {
		g.DroneImpl = DefaultGeneral.DroneImpl
	}
}

// Validate checks ids are unique, every connection names a drone, and drop
// rates and timings are in range.
func (c *Config) Validate() error {
	seen := make(map[uint8]string)
	add := func(id uint8, role string) error {
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("%w: id %d used by %s and %s", ErrInvalidConfig, id, prev, role)
		}
		seen[id] = role
		return nil
	}
	drones := make(map[uint8]bool, len(c.Drones))
	for _, d := range c.Drones {
		if err := add(d.ID, "drone"); err != nil {
			return err
		}
		drones[d.ID] = true
		if d.Pdr < 0 || d.Pdr > 1 {
			return fmt.Errorf("%w: drone %d pdr %v outside [0,1]", ErrInvalidConfig, d.ID, d.Pdr)
		}
	}
	for _, cl := range c.Clients {
		if err := add(cl.ID, "client"); err != nil {
			return err
		}
	}
	for _, s := range c.Servers {
		if err := add(s.ID, "server"); err != nil {
			return err
		}
		if err := checkContentIDs(s.ID, s.Files); err != nil {
			return err
		}
		if err := checkContentIDs(s.ID, s.Media); err != nil {
			return err
		}
	}

	check := func(id uint8, conns []uint8) error {
		for _, other := range conns {
			if other == id {
				return fmt.Errorf("%w: node %d connected to itself", ErrInvalidConfig, id)
			}
			if !drones[other] {
				return fmt.Errorf("%w: node %d connected to %d which is not a drone", ErrInvalidConfig, id, other)
			}
		}
		return nil
	}
	for _, d := range c.Drones {
		if err := check(d.ID, d.ConnectedDroneIDs); err != nil {
			return err
		}
	}
	for _, cl := range c.Clients {
		if err := check(cl.ID, cl.ConnectedDroneIDs); err != nil {
			return err
		}
	}
	for _, s := range c.Servers {
		if err := check(s.ID, s.ConnectedDroneIDs); err != nil {
			return err
		}
	}

	g := c.General
	if g.FloodTTL < 0 || g.FloodTTL > 255 {
		return fmt.Errorf("%w: floodTtl %d", ErrInvalidConfig, g.FloodTTL)
	}
	if g.FloodTimeoutMillis < 0 || g.RetryTimeoutMillis < 0 || g.ReassemblyTimeoutMillis < 0 || g.LinkDelayMillis < 0 {
		return fmt.Errorf("%w: negative timing", ErrInvalidConfig)
	}
	if g.MaxRetries < 0 || g.MaxQueueLength < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return nil
}

func checkContentIDs(server uint8, content map[string]string) error {
	for key := range content {
		if _, err := strconv.ParseUint(key, 10, 64); err != nil {
			return fmt.Errorf("%w: server %d content id %q", ErrInvalidConfig, server, key)
		}
	}
	return nil
}

func (g GeneralConfig) FloodTimeout() time.Duration {
	return time.Duration(g.FloodTimeoutMillis) * time.Millisecond
}

func (g GeneralConfig) RetryTimeout() time.Duration {
	return time.Duration(g.RetryTimeoutMillis) * time.Millisecond
}

func (g GeneralConfig) ReassemblyTimeout() time.Duration {
	return time.Duration(g.ReassemblyTimeoutMillis) * time.Millisecond
}

func (g GeneralConfig) LinkDelay() time.Duration {
	return time.Duration(g.LinkDelayMillis) * time.Millisecond
}

// ContentIDs converts a validated content map to numeric ids.
func ContentIDs(content map[string]string) map[uint64][]byte {
	out := make(map[uint64][]byte, len(content))
	for key, body := range content {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			continue
		}
		out[id] = []byte(body)
	}
	return out
}
