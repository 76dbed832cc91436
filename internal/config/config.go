// Package config holds the runtime configuration for a chat session.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role represents which side of the negotiation this process plays.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Protocol selects the relay wire protocol.
type Protocol string

const (
	// ProtocolTrickle sends offer, answer and every candidate as separate
	// envelopes as soon as they are available.
	ProtocolTrickle Protocol = "trickle"
	// ProtocolCombined waits for ICE gathering to complete and sends a single
	// description carrying all candidates. Legacy.
	ProtocolCombined Protocol = "combined"
)

// Defaults.
const (
	DefaultRelayURL = "ws://localhost:9090"
	DefaultTimeout  = 30 * time.Second
	DefaultLabel    = "chat"
)

var DefaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// ICEServer is one STUN or TURN server.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// TURN reports whether s has a turn: or turns: URL. Only those servers take
// a username and credential.
func (s ICEServer) TURN() bool {
	for _, u := range s.URLs {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

// SplitICEURLs groups urls into one STUN server and one TURN server, leaving
// out a group that is empty.
func SplitICEURLs(urls []string) []ICEServer {
	var stun, turn ICEServer
	for _, u := range urls {
		if (ICEServer{URLs: []string{u}}).TURN() {
			turn.URLs = append(turn.URLs, u)
		} else {
			stun.URLs = append(stun.URLs, u)
		}
	}

	var servers []ICEServer
	for _, s := range []ICEServer{stun, turn} {
		if len(s.URLs) > 0 {
			servers = append(servers, s)
		}
	}
	return servers
}

// Config stores everything gathered from the config file and CLI flags.
type Config struct {
	Role       Role          `yaml:"-"`
	PeerID     string        `yaml:"-"` // Initiator only: who to call
	RelayURL   string        `yaml:"relay"`
	ICEServers []ICEServer   `yaml:"iceServers"`
	Protocol   Protocol      `yaml:"protocol"`
	Timeout    time.Duration `yaml:"timeout"`
	Label      string        `yaml:"label"`
	Debug      bool          `yaml:"debug"`
}

// Default returns a Config filled with the built-in defaults.
func Default() Config {
	return Config{
		Role:       RoleResponder,
		RelayURL:   DefaultRelayURL,
		ICEServers: append([]ICEServer(nil), DefaultICEServers...),
		Protocol:   ProtocolTrickle,
		Timeout:    DefaultTimeout,
		Label:      DefaultLabel,
	}
}

// Load reads a YAML config file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SetPeer fixes the role from the optional positional peer argument.
func (c *Config) SetPeer(peerID string) {
	c.PeerID = strings.TrimSpace(peerID)
	if c.PeerID != "" {
		c.Role = RoleInitiator
	} else {
		c.Role = RoleResponder
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RelayURL == "" {
		return errors.New("missing relay URL")
	}
	if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("invalid relay URL %q: must start with ws:// or wss://", c.RelayURL)
	}
	switch c.Protocol {
	case ProtocolTrickle, ProtocolCombined:
	default:
		return fmt.Errorf("invalid protocol %q: must be %q or %q", c.Protocol, ProtocolTrickle, ProtocolCombined)
	}
	if c.Role == RoleInitiator && c.PeerID == "" {
		return errors.New("initiator requires a peer id")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout)
	}
	if c.Label == "" {
		return errors.New("missing data channel label")
	}
	for _, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return errors.New("ICE server without urls")
		}
	}
	return nil
}
