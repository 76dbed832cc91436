package signaling

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/config"
	"github.com/1ureka/p2pchat/internal/util"
)

// Outbound half of the machine. All helpers run under the session lock.

// send encodes env and writes it to the relay. Once the data channel is open
// the relay is no longer needed, so write failures are only logged.
func (m *Machine) send(env Envelope) error {
	if m.relayClosed {
		util.LogDebug("relay closed, dropping outbound %s", env.Kind)
		return nil
	}

	frame, err := Encode(env)
	if err != nil {
		return err
	}

	util.LogDebug("<- WS %s to %s", env.Kind, env.PeerID)
	if err := m.out.WriteFrame(frame); err != nil {
		if m.session.Channel != nil {
			util.LogDebug("relay write after data channel opened: %v", err)
			return nil
		}
		return err
	}

	util.Stats.AddEnvelopeSent()
	return nil
}

// sendOffer creates an SDP offer, sets it as local description, and sends it
// (trickle) or waits for gathering to finish (combined).
func (m *Machine) sendOffer() error {
	offer, err := m.neg.CreateOffer()
	if err != nil {
		return err
	}
	if err := m.neg.SetLocalDescription(offer); err != nil {
		return err
	}

	if m.protocol == config.ProtocolCombined {
		return m.maybeSendDescription()
	}
	return m.send(NewOffer(m.session.PeerID, offer))
}

// sendAnswer creates an SDP answer, sets it as local description, and sends
// it (trickle) or waits for gathering to finish (combined).
func (m *Machine) sendAnswer() error {
	answer, err := m.neg.CreateAnswer()
	if err != nil {
		return err
	}
	if err := m.neg.SetLocalDescription(answer); err != nil {
		return err
	}

	if m.protocol == config.ProtocolCombined {
		return m.maybeSendDescription()
	}
	return m.send(NewAnswer(m.session.PeerID, answer))
}

// maybeSendDescription sends the full local description once, in the
// combined protocol, as soon as ICE gathering has completed.
func (m *Machine) maybeSendDescription() error {
	if m.protocol != config.ProtocolCombined || m.session.DescriptionSent || m.session.PeerID == "" {
		return nil
	}
	if m.session.Engine.ICEGathering != webrtc.ICEGatheringStateComplete {
		return nil
	}
	switch m.session.State {
	case StateOffering, StateAnsweringPending:
	default:
		return nil
	}

	desc := m.neg.LocalDescription()
	if desc == nil {
		return nil
	}
	if err := m.send(NewDescription(m.session.PeerID, *desc)); err != nil {
		return err
	}
	m.session.DescriptionSent = true
	return nil
}

// flushLocalCandidates sends candidates gathered before the peer was known.
func (m *Machine) flushLocalCandidates() error {
	pending := m.pendingLocal
	m.pendingLocal = nil

	for _, env := range pending {
		env.PeerID = m.session.PeerID
		if err := m.send(env); err != nil {
			return err
		}
	}
	return nil
}

func describeCandidate(c *webrtc.ICECandidateInit) string {
	if c == nil {
		return "end of candidates"
	}
	return c.Candidate
}
