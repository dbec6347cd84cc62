package main

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	senderConfig "github.com/aditiharini/drone-mesh/config/packet-sender"
	config "github.com/aditiharini/drone-mesh/config/simulator"
	"github.com/aditiharini/drone-mesh/message"
	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/simulation"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := log.ParseLevel(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		log.SetLevel(lvl)
	} else {
		log.SetLevel(log.PanicLevel)
	}
	os.Exit(m.Run())
}

const chain = `{
  "drones":  [{"id": 1, "connected_drone_ids": [2]},
              {"id": 2, "connected_drone_ids": [1, 3]},
              {"id": 3, "connected_drone_ids": [2]}],
  "clients": [{"id": 10, "connected_drone_ids": [1]},
              {"id": 11, "connected_drone_ids": [1]}],
  "servers": [{"id": 20, "connected_drone_ids": [3], "kind": "text", "files": {"1": "hello mesh"}}],
  "general": {"floodTimeoutMillis": 100, "retryTimeoutMillis": 1000, "seed": 1}
}`

func startChain(t *testing.T) *simulation.Simulator {
	conf, err := config.Parse(strings.NewReader(chain))
	require.NoError(t, err)
	sim, err := simulation.NewSimulator(conf)
	require.NoError(t, err)
	sim.Start()
	t.Cleanup(sim.Stop)
	return sim
}

func TestRunTraffic(t *testing.T) {
	sim := startChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	results := runTraffic(ctx, sim, []senderConfig.Config{
		{Traffic: senderConfig.TrafficFile, Client: 10, Server: 20, ContentID: 1, Count: 3, Wait: 10},
		{Traffic: senderConfig.TrafficServerType, Client: 11, Server: 20, Count: 1},
		{Traffic: senderConfig.TrafficFile, Client: 20, Server: 10, Count: 2},
	})
	require.Len(t, results, 3)

	assert.Equal(t, network.NodeID(10), results[0].client)
	assert.Equal(t, 3, results[0].sent)
	assert.Zero(t, results[0].failed)
	assert.Equal(t, 3, results[0].replies)

	assert.Equal(t, 1, results[1].sent)
	assert.Equal(t, 1, results[1].replies)

	// 20 is a server, so its traffic never starts.
	assert.Zero(t, results[2].sent)
	assert.Equal(t, 2, results[2].failed)

	fields := results[0].fields()
	assert.Equal(t, "traffic_done", fields["event"])
	assert.Equal(t, 3, fields["sent"])
}

func TestRunTrafficCancelled(t *testing.T) {
	sim := startChain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := runTraffic(ctx, sim, []senderConfig.Config{
		{Traffic: senderConfig.TrafficServerType, Client: 10, Server: 20, Count: 4},
	})
	require.Len(t, results, 1)
	assert.Zero(t, results[0].sent)
	assert.Equal(t, 4, results[0].failed)
}

func TestContentFor(t *testing.T) {
	tests := []struct {
		conf senderConfig.Config
		want message.Content
	}{
		{senderConfig.Config{Traffic: senderConfig.TrafficServerType}, &message.ReqServerType{}},
		{senderConfig.Config{Traffic: senderConfig.TrafficFilesList}, &message.ReqFilesList{}},
		{senderConfig.Config{Traffic: senderConfig.TrafficFile, ContentID: 7}, &message.ReqFile{ID: 7}},
		{senderConfig.Config{Traffic: senderConfig.TrafficMedia, ContentID: 3}, &message.ReqMedia{ID: 3}},
		{senderConfig.Config{Traffic: senderConfig.TrafficChat, To: 11, Size: 3}, &message.ReqMessageSend{To: 11, Message: []byte("ccc")}},
		{senderConfig.Config{Traffic: senderConfig.TrafficChat, To: 11}, &message.ReqMessageSend{To: 11, Message: []byte("c")}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, contentFor(tt.conf, 2), tt.conf.Traffic)
	}
}
