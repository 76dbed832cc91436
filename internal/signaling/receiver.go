package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/transport"
	"github.com/1ureka/p2pchat/internal/util"
)

// Inbound half of the machine. All handlers run under the session lock.

// onEnvelope dispatches one inbound relay envelope by payload kind.
func (m *Machine) onEnvelope(env Envelope) error {
	if env.PeerID == "" {
		util.LogWarning("dropping %s without username", env.Kind)
		return nil
	}
	util.LogDebug("-> WS %s from %s", env.Kind, env.PeerID)

	switch env.Kind {
	case KindOffer, KindAnswer, KindDescription:
		if env.Description == nil {
			util.LogWarning("dropping %s from %s without description", env.Kind, env.PeerID)
			return nil
		}
	}

	switch env.Kind {
	case KindLogin:
		m.onLogin(env.PeerID)
		return nil

	case KindOffer:
		return m.onOffer(env.PeerID, *env.Description)

	case KindAnswer:
		return m.onAnswer(env.PeerID, *env.Description)

	case KindCandidate:
		return m.onRemoteCandidate(env)

	case KindDescription:
		switch env.Description.Type {
		case webrtc.SDPTypeOffer:
			return m.onOffer(env.PeerID, *env.Description)
		case webrtc.SDPTypeAnswer:
			return m.onAnswer(env.PeerID, *env.Description)
		default:
			util.LogWarning("dropping desc of type %s from %s", env.Description.Type, env.PeerID)
			return nil
		}

	default:
		util.LogWarning("dropping envelope of unknown kind %d", env.Kind)
		return nil
	}
}

// onLogin handles a bare username. The relay's first announcement names us;
// anything later is a peer announcing itself.
func (m *Machine) onLogin(id string) {
	if m.session.LocalID == "" {
		m.session.LocalID = id
		util.LogInfo("** Username: %s", id)
		return
	}
	util.LogInfo("** Peer announced: %s", id)
}

// onOffer answers an offer. Offers are accepted while idle, and while
// offering only on the polite side of a collision.
func (m *Machine) onOffer(peer string, offer webrtc.SessionDescription) error {
	if m.session.PeerID != "" && m.session.PeerID != peer {
		util.LogWarning("ignoring offer from %s: already negotiating with %s", peer, m.session.PeerID)
		return nil
	}

	switch m.session.State {
	case StateIdle:

	case StateOffering:
		polite, err := m.resolveGlare(peer)
		if err != nil {
			return err
		}
		if !polite {
			util.LogWarning("offer collision with %s: keeping our offer", peer)
			return nil
		}
		util.LogWarning("offer collision with %s: withdrawing our offer", peer)
		if err := m.neg.Reset(); err != nil {
			return fmt.Errorf("%w: %w", ErrGlare, err)
		}
		m.session.DescriptionSent = false
		m.session.Engine = transport.States{}

	default:
		util.LogWarning("ignoring offer from %s in state %s: renegotiation is not supported", peer, m.session.State)
		return nil
	}

	if err := m.neg.SetRemoteDescription(offer); err != nil {
		return err
	}
	m.session.RemoteDescriptionSet = true
	m.session.PeerID = peer
	m.session.State = StateAnsweringPending
	m.armTimer()

	if err := m.flushRemoteCandidates(); err != nil {
		return err
	}
	if err := m.sendAnswer(); err != nil {
		return err
	}
	return m.flushLocalCandidates()
}

// resolveGlare decides who yields when both sides offered: the side whose
// relay name sorts higher is polite, drops its own offer and answers the
// other's. The other side keeps its offer and waits for that answer.
func (m *Machine) resolveGlare(peer string) (polite bool, err error) {
	if m.session.LocalID == "" {
		return false, fmt.Errorf("%w: own relay name unknown", ErrGlare)
	}
	if m.session.LocalID == peer {
		return false, fmt.Errorf("%w: peer has our own name %s", ErrGlare, peer)
	}
	return m.session.LocalID > peer, nil
}

func (m *Machine) onAnswer(peer string, answer webrtc.SessionDescription) error {
	if m.session.State != StateOffering {
		util.LogWarning("ignoring answer from %s in state %s", peer, m.session.State)
		return nil
	}
	if peer != m.session.PeerID {
		util.LogWarning("ignoring answer from %s: offered to %s", peer, m.session.PeerID)
		return nil
	}

	if err := m.neg.SetRemoteDescription(answer); err != nil {
		return err
	}
	m.session.RemoteDescriptionSet = true
	m.session.State = StateConnected

	return m.flushRemoteCandidates()
}

// onRemoteCandidate adds a candidate, or queues it until a remote
// description is set since the engine rejects candidates before that.
func (m *Machine) onRemoteCandidate(env Envelope) error {
	if m.session.PeerID != "" && env.PeerID != m.session.PeerID {
		util.LogWarning("ignoring candidate from %s: negotiating with %s", env.PeerID, m.session.PeerID)
		return nil
	}
	util.LogDebug("-> WS candidate: %s", describeCandidate(env.Candidate))

	if !m.session.RemoteDescriptionSet {
		m.pendingRemote = append(m.pendingRemote, env)
		return nil
	}
	return m.neg.AddRemoteCandidate(env.Candidate)
}

// flushRemoteCandidates applies queued candidates from the chosen peer.
func (m *Machine) flushRemoteCandidates() error {
	pending := m.pendingRemote
	m.pendingRemote = nil

	for _, env := range pending {
		if env.PeerID != m.session.PeerID {
			continue
		}
		if err := m.neg.AddRemoteCandidate(env.Candidate); err != nil {
			return err
		}
	}
	return nil
}
