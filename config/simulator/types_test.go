package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chain = `{
  "drones":  [{"id": 1, "connected_drone_ids": [2], "pdr": 0.1},
              {"id": 2, "connected_drone_ids": [1, 3]},
              {"id": 3, "connected_drone_ids": [2]}],
  "clients": [{"id": 10, "connected_drone_ids": [1]}],
  "servers": [{"id": 20, "connected_drone_ids": [3], "kind": "text", "files": {"1": "hello"}}],
  "general": {"floodTtl": 4, "retryTimeoutMillis": 200}
}`

func TestParse(t *testing.T) {
	conf, err := Parse(strings.NewReader(chain))
	require.NoError(t, err)

	require.Len(t, conf.Drones, 3)
	assert.Equal(t, []uint8{2}, conf.Drones[0].ConnectedDroneIDs)
	assert.Equal(t, 0.1, conf.Drones[0].Pdr)
	assert.Equal(t, "text", conf.Servers[0].Kind)

	g := conf.General
	assert.Equal(t, 4, g.FloodTTL)
	assert.Equal(t, 200*time.Millisecond, g.RetryTimeout())
	assert.Equal(t, DefaultGeneral.FloodTimeout(), g.FloodTimeout())
	assert.Equal(t, DefaultGeneral.MaxRetries, g.MaxRetries)
	assert.Equal(t, DefaultGeneral.ReassemblyTimeout(), g.ReassemblyTimeout())
	assert.Equal(t, "relay", g.DroneImpl)
	assert.Zero(t, g.LinkDelay())

	assert.Equal(t, map[uint64][]byte{1: []byte("hello")}, ContentIDs(conf.Servers[0].Files))
}

func TestReadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "chain.json")
	require.NoError(t, os.WriteFile(filename, []byte(chain), 0o644))

	conf, err := ReadConfig(filename)
	require.NoError(t, err)
	assert.Len(t, conf.Clients, 1)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"duplicate id", func(c *Config) { c.Clients[0].ID = 1 }},
		{"client to client", func(c *Config) { c.Servers[0].ConnectedDroneIDs = []uint8{10} }},
		{"self link", func(c *Config) { c.Drones[1].ConnectedDroneIDs = []uint8{2} }},
		{"unknown neighbor", func(c *Config) { c.Drones[0].ConnectedDroneIDs = []uint8{7} }},
		{"pdr above one", func(c *Config) { c.Drones[0].Pdr = 1.2 }},
		{"negative pdr", func(c *Config) { c.Drones[0].Pdr = -0.1 }},
		{"ttl too large", func(c *Config) { c.General.FloodTTL = 256 }},
		{"negative timeout", func(c *Config) { c.General.RetryTimeoutMillis = -1 }},
		{"negative retries", func(c *Config) { c.General.MaxRetries = -2 }},
		{"bad content id", func(c *Config) { c.Servers[0].Media = map[string]string{"cat": "x"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := Parse(strings.NewReader(chain))
			require.NoError(t, err)
			tt.modify(conf)
			assert.ErrorIs(t, conf.Validate(), ErrInvalidConfig)
		})
	}
}

func TestParseRejectsBadJSON(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"drones": [`))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`{"drones": [{"id": 1, "pdr": 2}]}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestShippedConfig(t *testing.T) {
	conf, err := ReadConfig("chain.json")
	require.NoError(t, err)
	assert.Len(t, conf.Drones, 5)
	assert.Equal(t, "chat", conf.Servers[1].Kind)
	assert.Equal(t, 2*time.Millisecond, conf.General.LinkDelay())
}
