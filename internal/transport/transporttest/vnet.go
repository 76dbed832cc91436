// Package transporttest provides a virtual network for exercising real
// PeerConnections in tests without touching the host network.
package transporttest

import (
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

const (
	cidr = "10.0.0.0/24"
	ipA  = "10.0.0.1"
	ipB  = "10.0.0.2"
)

// Pair returns two engines attached to the same virtual LAN. The router is
// stopped when the test ends.
func Pair(tb testing.TB) (a, b *webrtc.API) {
	tb.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		tb.Fatalf("new router: %v", err)
	}
	tb.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipA}})
	if err != nil {
		tb.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipB}})
	if err != nil {
		tb.Fatalf("new net B: %v", err)
	}

	if err := router.AddNet(netA); err != nil {
		tb.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		tb.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		tb.Fatalf("start router: %v", err)
	}

	return newAPI(tb, netA), newAPI(tb, netB)
}

func newAPI(tb testing.TB, n *vnet.Net) *webrtc.API {
	tb.Helper()

	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		tb.Fatalf("register codecs: %v", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)
}
