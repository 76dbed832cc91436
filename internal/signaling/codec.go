package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// wire field names shared by both message shapes.
const (
	fieldUsername  = "username"
	fieldOffer     = "offer"
	fieldAnswer    = "answer"
	fieldCandidate = "candidate"
	fieldDesc      = "desc"
)

var jsonNull = json.RawMessage("null")

// wireEnvelope is the JSON form of an Envelope. Absent fields are omitted;
// Candidate is raw so that an explicit null survives encoding.
type wireEnvelope struct {
	Username  string                     `json:"username"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate json.RawMessage            `json:"candidate,omitempty"`
	Desc      *webrtc.SessionDescription `json:"desc,omitempty"`
}

// Encode serializes an Envelope into a relay text frame.
func Encode(env Envelope) ([]byte, error) {
	w := wireEnvelope{Username: env.PeerID}

	switch env.Kind {
	case KindLogin:
	case KindOffer, KindAnswer, KindDescription:
		if env.Description == nil {
			return nil, fmt.Errorf("%w: %s without description", ErrMalformedEnvelope, env.Kind)
		}
		switch env.Kind {
		case KindOffer:
			w.Offer = env.Description
		case KindAnswer:
			w.Answer = env.Description
		default:
			w.Desc = env.Description
		}
	case KindCandidate:
		if env.Candidate == nil {
			w.Candidate = jsonNull
			break
		}
		data, err := json.Marshal(env.Candidate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		w.Candidate = data
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedEnvelope, env.Kind)
	}

	return json.Marshal(w)
}

// Decode deserializes a relay text frame. It accepts both the four-field
// (offer/answer/candidate) and the two-field (desc) shapes, and tells an
// omitted candidate apart from an explicit null one.
func Decode(frame []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrMalformedEnvelope)
	}

	var env Envelope
	if raw, ok := fields[fieldUsername]; ok {
		if err := json.Unmarshal(raw, &env.PeerID); err != nil {
			return Envelope{}, fmt.Errorf("%w: username: %v", ErrMalformedEnvelope, err)
		}
	}

	// A null description means "absent"; a null candidate does not.
	present := func(name string) bool {
		raw, ok := fields[name]
		if !ok {
			return false
		}
		return name == fieldCandidate || !isNull(raw)
	}

	var payload []string
	for _, name := range []string{fieldOffer, fieldAnswer, fieldCandidate, fieldDesc} {
		if present(name) {
			payload = append(payload, name)
		}
	}

	switch len(payload) {
	case 0:
		env.Kind = KindLogin
		return env, nil
	case 1:
	default:
		return Envelope{}, fmt.Errorf("%w: multiple payloads %v", ErrMalformedEnvelope, payload)
	}

	name := payload[0]
	raw := fields[name]

	if name == fieldCandidate {
		env.Kind = KindCandidate
		if isNull(raw) {
			return env, nil
		}
		if !isObject(raw) {
			return Envelope{}, fmt.Errorf("%w: candidate is not an object", ErrMalformedEnvelope)
		}
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &c); err != nil {
			return Envelope{}, fmt.Errorf("%w: candidate: %v", ErrMalformedEnvelope, err)
		}
		env.Candidate = &c
		return env, nil
	}

	if !isObject(raw) {
		return Envelope{}, fmt.Errorf("%w: %s is not an object", ErrMalformedEnvelope, name)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, name, err)
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer, webrtc.SDPTypeRollback:
	default:
		return Envelope{}, fmt.Errorf("%w: %s has unknown type %q", ErrMalformedEnvelope, name, desc.Type)
	}
	env.Description = &desc

	switch name {
	case fieldOffer:
		env.Kind = KindOffer
	case fieldAnswer:
		env.Kind = KindAnswer
	default:
		env.Kind = KindDescription
	}
	return env, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
