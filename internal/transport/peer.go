package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/config"
	"github.com/1ureka/p2pchat/internal/util"
)

// newAPI builds the default RTC engine with its logs routed to our logger.
func newAPI() *webrtc.API {
	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// iceServers converts configured STUN/TURN servers to the engine's form.
func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// newPeerConnection creates a PeerConnection configured with the given ICE servers.
func newPeerConnection(api *webrtc.API, servers []config.ICEServer) (*webrtc.PeerConnection, error) {
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers(servers),
	})
}
