package signaling

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/transport"
)

// Event is anything the machine reacts to. Engine callbacks and the relay
// read loop turn what they observe into events and Post them; only the
// machine's Run loop touches the Session.
type Event interface {
	event()
}

// Start kicks off the session according to its role.
type Start struct{}

// Inbound carries a decoded relay envelope.
type Inbound struct {
	Envelope Envelope
}

// LocalCandidate is a candidate gathered by the local engine. Nil marks the
// end of gathering.
type LocalCandidate struct {
	Candidate *webrtc.ICECandidateInit
}

// StateChanged carries a fresh snapshot of the engine states.
type StateChanged struct {
	States transport.States
}

// ChannelArrived reports a data channel opened by the remote peer. It is
// not usable until ChannelOpened.
type ChannelArrived struct {
	Channel Channel
}

// ChannelOpened reports that a data channel, local or remote, is open.
type ChannelOpened struct {
	Channel Channel
}

// ChannelClosed reports that a data channel closed.
type ChannelClosed struct {
	Channel Channel
}

// RelayClosed reports that the relay read loop ended.
type RelayClosed struct {
	Err error
}

type negotiationTimeout struct{}

func (Start) event()              {}
func (Inbound) event()            {}
func (LocalCandidate) event()     {}
func (StateChanged) event()       {}
func (ChannelArrived) event()     {}
func (ChannelOpened) event()      {}
func (ChannelClosed) event()      {}
func (RelayClosed) event()        {}
func (negotiationTimeout) event() {}
