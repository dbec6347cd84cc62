package main

import (
	"bytes"
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	senderConfig "github.com/aditiharini/drone-mesh/config/packet-sender"
	"github.com/aditiharini/drone-mesh/message"
	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/simulation"
)

type trafficResult struct {
	client  network.NodeID
	server  network.NodeID
	traffic string
	sent    int
	failed  int
	replies int
	elapsed time.Duration
}

func (r trafficResult) fields() log.Fields {
	return log.Fields{
		"event":      "traffic_done",
		"client":     r.client,
		"server":     r.server,
		"traffic":    r.traffic,
		"sent":       r.sent,
		"failed":     r.failed,
		"replies":    r.replies,
		"elapsed_ms": r.elapsed.Milliseconds(),
	}
}

// contentFor builds the i-th request of a traffic config.
func contentFor(c senderConfig.Config, i int) message.Content {
	switch c.Traffic {
	case senderConfig.TrafficFilesList:
		return &message.ReqFilesList{}
	case senderConfig.TrafficFile:
		return &message.ReqFile{ID: c.ContentID}
	case senderConfig.TrafficMedia:
		return &message.ReqMedia{ID: c.ContentID}
	case senderConfig.TrafficChat:
		size := c.Size
		if size == 0 {
			size = 1
		}
		return &message.ReqMessageSend{
			To:      network.NodeID(c.To),
			Message: bytes.Repeat([]byte{byte('a' + i%26)}, size),
		}
	default:
		return &message.ReqServerType{}
	}
}

// replyCounter drains what clients receive and counts it per server.
type replyCounter struct {
	mu     sync.Mutex
	counts map[[2]network.NodeID]int
}

func (rc *replyCounter) drain(ctx context.Context, client *simulation.Endpoint, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case d, ok := <-client.Received():
			if !ok {
				return
			}
			if d.Err != nil {
				log.WithFields(log.Fields{"event": "receive_failed", "client": client.ID(), "from": d.From}).Warn(d.Err)
				continue
			}
			log.WithFields(log.Fields{
				"event":   "message_delivered",
				"client":  client.ID(),
				"from":    d.From,
				"session": d.Session,
				"content": d.Message.Content.Type().String(),
			}).Info()
			rc.mu.Lock()
			rc.counts[[2]network.NodeID{client.ID(), d.From}]++
			rc.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (rc *replyCounter) get(client, server network.NodeID) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.counts[[2]network.NodeID{client, server}]
}

// runTraffic plays every traffic config concurrently and reports per config
// how many requests were acknowledged. Replies still in flight get one retry
// timeout to arrive.
func runTraffic(ctx context.Context, sim *simulation.Simulator, confs []senderConfig.Config) []trafficResult {
	drainCtx, stopDrains := context.WithCancel(ctx)
	defer stopDrains()
	counter := &replyCounter{counts: make(map[[2]network.NodeID]int)}
	var drains sync.WaitGroup
	draining := make(map[network.NodeID]bool)
	for _, c := range confs {
		id := network.NodeID(c.Client)
		client, ok := sim.Client(id)
		if !ok || draining[id] {
			continue
		}
		draining[id] = true
		drains.Add(1)
		go counter.drain(drainCtx, client, &drains)
	}

	results := make([]trafficResult, len(confs))
	var wg sync.WaitGroup
	for i, c := range confs {
		wg.Add(1)
		go func(i int, c senderConfig.Config) {
			defer wg.Done()
			results[i] = generate(ctx, sim, c)
		}(i, c)
	}
	wg.Wait()

	select {
	case <-time.After(sim.Settings().RetryTimeout):
	case <-ctx.Done():
	}
	stopDrains()
	drains.Wait()
	for i := range results {
		results[i].replies = counter.get(results[i].client, results[i].server)
	}
	return results
}

func generate(ctx context.Context, sim *simulation.Simulator, c senderConfig.Config) trafficResult {
	res := trafficResult{client: network.NodeID(c.Client), server: network.NodeID(c.Server), traffic: c.Traffic}
	client, ok := sim.Client(res.client)
	if !ok {
		log.WithFields(log.Fields{"event": "traffic_skipped", "client": res.client}).Warn("not a client")
		res.failed = c.Count
		return res
	}
	start := time.Now()
	defer func() { res.elapsed = time.Since(start) }()

	if c.Traffic == senderConfig.TrafficChat {
		if err := client.Send(ctx, res.server, &message.ReqRegistrationToChat{}); err != nil {
			log.WithFields(log.Fields{"event": "chat_registration_failed", "client": res.client}).Warn(err)
		}
	}
	for i := 0; i < c.Count; i++ {
		sendStart := time.Now()
		content := contentFor(c, i)
		if err := client.Send(ctx, res.server, content); err != nil {
			res.failed++
			log.WithFields(log.Fields{
				"event":   "request_failed",
				"client":  res.client,
				"server":  res.server,
				"content": content.Type().String(),
			}).Warn(err)
			if ctx.Err() != nil {
				res.failed += c.Count - i - 1
				return res
			}
		} else {
			res.sent++
			log.WithFields(log.Fields{
				"event":      "request_acked",
				"client":     res.client,
				"server":     res.server,
				"content":    content.Type().String(),
				"latency_ms": time.Since(sendStart).Milliseconds(),
			}).Debug()
		}
		if i+1 < c.Count && c.Wait > 0 {
			select {
			case <-time.After(c.WaitDuration()):
			case <-ctx.Done():
				res.failed += c.Count - i - 1
				return res
			}
		}
	}
	return res
}
