// Package signaling implements the relay envelope codec and the state machine
// that drives offer/answer and ICE candidate exchange over the relay.
package signaling

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMalformedEnvelope is returned when a relay frame is not a valid envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Kind identifies which payload an Envelope carries.
type Kind uint8

const (
	KindLogin       Kind = iota // bare username announcement
	KindOffer                   // four-field shape, "offer"
	KindAnswer                  // four-field shape, "answer"
	KindCandidate               // four-field shape, "candidate" (nil = end of candidates)
	KindDescription             // two-field shape, "desc" tagged by its own type
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	case KindDescription:
		return "desc"
	default:
		return "unknown"
	}
}

// Envelope is the unit exchanged over the relay. PeerID names the addressee
// on the way out and the sender on the way in; the relay rewrites it.
type Envelope struct {
	PeerID      string
	Kind        Kind
	Description *webrtc.SessionDescription // KindOffer, KindAnswer, KindDescription
	Candidate   *webrtc.ICECandidateInit   // KindCandidate; nil marks end of candidates
}

// NewOffer returns an envelope carrying an offer for peerID.
func NewOffer(peerID string, desc webrtc.SessionDescription) Envelope {
	return Envelope{PeerID: peerID, Kind: KindOffer, Description: &desc}
}

// NewAnswer returns an envelope carrying an answer for peerID.
func NewAnswer(peerID string, desc webrtc.SessionDescription) Envelope {
	return Envelope{PeerID: peerID, Kind: KindAnswer, Description: &desc}
}

// NewCandidate returns an envelope carrying a candidate for peerID. A nil
// candidate is the end-of-candidates marker.
func NewCandidate(peerID string, c *webrtc.ICECandidateInit) Envelope {
	return Envelope{PeerID: peerID, Kind: KindCandidate, Candidate: c}
}

// NewDescription returns a combined-description envelope for peerID.
func NewDescription(peerID string, desc webrtc.SessionDescription) Envelope {
	return Envelope{PeerID: peerID, Kind: KindDescription, Description: &desc}
}
