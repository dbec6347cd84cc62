package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrInvalidTraffic = errors.New("invalid traffic config")

// Traffic kinds a client can generate.
const (
	TrafficServerType = "server_type"
	TrafficFilesList  = "files_list"
	TrafficFile       = "file"
	TrafficMedia      = "media"
	TrafficChat       = "chat"
)

// Config drives the requests one client sends to one server.
type Config struct {
	Traffic   string `json:"traffic"`
	Client    uint8  `json:"client"`
	Server    uint8  `json:"server"`
	ContentID uint64 `json:"contentId"`
	// To is the chat peer; Size is the chat message length in bytes.
	To    uint8 `json:"to"`
	Count int   `json:"count"`
	Size  int   `json:"size"`
	Wait  int   `json:"wait"`
}

func ReadConfig(filename string) ([]Config, error) {
	confFile, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer confFile.Close()
	var confs []Config
	if err := json.NewDecoder(confFile).Decode(&confs); err != nil {
		return nil, fmt.Errorf("decode traffic config: %w", err)
	}
	for i := range confs {
		if err := confs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return confs, nil
}

func (c *Config) Validate() error {
	switch c.Traffic {
	case TrafficServerType, TrafficFilesList, TrafficFile, TrafficMedia:
	case TrafficChat:
		if c.To == 0 {
			return fmt.Errorf("%w: chat traffic from %d needs a peer", ErrInvalidTraffic, c.Client)
		}
	default:
		return fmt.Errorf("%w: traffic %q", ErrInvalidTraffic, c.Traffic)
	}
	if c.Count <= 0 {
		c.Count = 1
	}
	if c.Size < 0 || c.Wait < 0 {
		return fmt.Errorf("%w: negative size or wait", ErrInvalidTraffic)
	}
	return nil
}

func (c Config) WaitDuration() time.Duration {
	return time.Duration(c.Wait) * time.Millisecond
}
