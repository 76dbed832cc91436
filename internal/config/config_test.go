package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Role != RoleResponder {
		t.Errorf("default role = %q, want %q", cfg.Role, RoleResponder)
	}
}

func TestSetPeer(t *testing.T) {
	cfg := Default()

	cfg.SetPeer("  bob ")
	if cfg.Role != RoleInitiator || cfg.PeerID != "bob" {
		t.Errorf("SetPeer(bob) = %q/%q, want initiator/bob", cfg.Role, cfg.PeerID)
	}

	cfg.SetPeer("")
	if cfg.Role != RoleResponder || cfg.PeerID != "" {
		t.Errorf("SetPeer(\"\") = %q/%q, want responder/\"\"", cfg.Role, cfg.PeerID)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty relay", func(c *Config) { c.RelayURL = "" }},
		{"http relay", func(c *Config) { c.RelayURL = "http://localhost:9090" }},
		{"unknown protocol", func(c *Config) { c.Protocol = "carrier-pigeon" }},
		{"initiator without peer", func(c *Config) { c.Role = RoleInitiator }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"empty label", func(c *Config) { c.Label = "" }},
		{"ice server without urls", func(c *Config) { c.ICEServers = []ICEServer{{Username: "golem"}} }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p2pchat.yaml")
	data := []byte(`
relay: wss://relay.example.com
protocol: combined
timeout: 5s
iceServers:
  - urls: ["stun:3.66.118.100:3478"]
    username: golem
    credential: melog
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RelayURL != "wss://relay.example.com" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.Protocol != ProtocolCombined {
		t.Errorf("Protocol = %q", cfg.Protocol)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s", cfg.Timeout)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "golem" || cfg.ICEServers[0].Credential != "melog" {
		t.Errorf("ICEServers = %+v", cfg.ICEServers)
	}
	if cfg.Label != DefaultLabel {
		t.Errorf("Label = %q, want default %q", cfg.Label, DefaultLabel)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("RelayURL = %q, want %q", cfg.RelayURL, DefaultRelayURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestICEServerTURN(t *testing.T) {
	testCases := []struct {
		urls []string
		want bool
	}{
		{[]string{"stun:stun.l.google.com:19302"}, false},
		{[]string{"turn:turn.example.com:3478"}, true},
		{[]string{"turns:turn.example.com:5349?transport=tcp"}, true},
		{[]string{"stun:stun.example.com", "turn:turn.example.com"}, true},
		{nil, false},
	}

	for _, tc := range testCases {
		if got := (ICEServer{URLs: tc.urls}).TURN(); got != tc.want {
			t.Errorf("TURN(%v) = %v, want %v", tc.urls, got, tc.want)
		}
	}
}

func TestSplitICEURLs(t *testing.T) {
	testCases := []struct {
		name string
		urls []string
		want []ICEServer
	}{
		{
			name: "stun only",
			urls: []string{"stun:a:19302", "stun:b:19302"},
			want: []ICEServer{{URLs: []string{"stun:a:19302", "stun:b:19302"}}},
		},
		{
			name: "turn only",
			urls: []string{"turns:t:5349"},
			want: []ICEServer{{URLs: []string{"turns:t:5349"}}},
		},
		{
			name: "mixed",
			urls: []string{"turn:t:3478", "stun:a:19302", "turns:t:5349"},
			want: []ICEServer{
				{URLs: []string{"stun:a:19302"}},
				{URLs: []string{"turn:t:3478", "turns:t:5349"}},
			},
		},
		{name: "empty", urls: nil, want: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SplitICEURLs(tc.urls); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("SplitICEURLs(%v) = %+v, want %+v", tc.urls, got, tc.want)
			}
		})
	}
}
