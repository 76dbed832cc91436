package signaling

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/config"
	"github.com/1ureka/p2pchat/internal/transport"
)

// State is the signaling progress of a Session.
type State uint8

const (
	StateIdle State = iota
	StateOffering
	StateAnsweringPending
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnsweringPending:
		return "answering-pending"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is an open data channel as seen by the machine.
type Channel interface {
	Label() string
	Send(ctx context.Context, text string) error
}

// Negotiator is the subset of the RTC engine the machine drives.
// *transport.Transport satisfies it through a thin adapter that converts
// its concrete channel type.
type Negotiator interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	Reset() error // withdraw a local offer by starting over on a fresh connection
	LocalDescription() *webrtc.SessionDescription
	AddRemoteCandidate(*webrtc.ICECandidateInit) error
	CreateDataChannel(label string) (Channel, error)
}

// FrameWriter sends one encoded envelope over the relay.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// Session is the machine's view of one peer relationship.
type Session struct {
	Role    config.Role
	LocalID string // our name on the relay, from its first login announcement
	PeerID  string // set once, from config (initiator) or the first offer (responder)
	State   State
	Engine  transport.States // mirrored for diagnostics

	Channel Channel // set once, when the first data channel opens

	RemoteDescriptionSet bool
	DescriptionSent      bool // combined protocol only
}
