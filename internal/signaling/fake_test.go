package signaling

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/transport"
)

// Compile-time interface checks.
var (
	_ Negotiator  = (*fakeNegotiator)(nil)
	_ Channel     = (*fakeChannel)(nil)
	_ FrameWriter = (*frameRecorder)(nil)
)

// fakeNegotiator emulates the engine's signaling-state rules closely enough
// for the machine: answers need a remote offer, candidates need a remote
// description, a remote offer is rejected while holding a local one, and
// there is no rollback. Reset starts over from stable.
type fakeNegotiator struct {
	mu         sync.Mutex
	state      webrtc.SignalingState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []*webrtc.ICECandidateInit
	channels   []*fakeChannel
	resets     int

	setRemoteDelay time.Duration
	failSetRemote  error
}

func (f *fakeNegotiator) signaling() webrtc.SignalingState {
	if f.state == webrtc.SignalingStateUnknown {
		return webrtc.SignalingStateStable
	}
	return f.state
}

func invalidTransition(from webrtc.SignalingState, op string, t webrtc.SDPType) error {
	return fmt.Errorf("%w: invalid signaling state transition %s->%s(%s)", transport.ErrNegotiation, from, op, t)
}

func (f *fakeNegotiator) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeNegotiator) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaling() != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: no remote offer", transport.ErrNegotiation)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeNegotiator) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.signaling()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && (from == webrtc.SignalingStateStable || from == webrtc.SignalingStateHaveLocalOffer):
		f.state = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && from == webrtc.SignalingStateHaveRemoteOffer:
		f.state = webrtc.SignalingStateStable
	default:
		return invalidTransition(from, "SetLocal", desc.Type)
	}
	f.local = &desc
	return nil
}

func (f *fakeNegotiator) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if f.setRemoteDelay > 0 {
		time.Sleep(f.setRemoteDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetRemote != nil {
		return f.failSetRemote
	}

	from := f.signaling()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && (from == webrtc.SignalingStateStable || from == webrtc.SignalingStateHaveRemoteOffer):
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && from == webrtc.SignalingStateHaveLocalOffer:
		f.state = webrtc.SignalingStateStable
	default:
		return invalidTransition(from, "SetRemote", desc.Type)
	}
	f.remote = &desc
	return nil
}

func (f *fakeNegotiator) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = webrtc.SignalingStateStable
	f.local = nil
	f.remote = nil
	f.candidates = nil
	f.resets++
	return nil
}

func (f *fakeNegotiator) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakeNegotiator) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.local == nil {
		return nil
	}
	desc := *f.local
	desc.SDP += "\r\na=candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host"
	return &desc
}

func (f *fakeNegotiator) AddRemoteCandidate(c *webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c == nil {
		return nil
	}
	if f.remote == nil {
		return fmt.Errorf("%w: no remote description", transport.ErrNegotiation)
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeNegotiator) CreateDataChannel(label string) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &fakeChannel{label: label}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeNegotiator) remoteCandidates() []*webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*webrtc.ICECandidateInit(nil), f.candidates...)
}

func (f *fakeNegotiator) createdChannels() []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeChannel(nil), f.channels...)
}

// fakeChannel records what was sent on it.
type fakeChannel struct {
	label string

	mu   sync.Mutex
	sent []string
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

// frameRecorder stands in for the relay connection.
type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	fail   error
}

func (r *frameRecorder) WriteFrame(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

// envelopes decodes everything written so far.
func (r *frameRecorder) envelopes(t *testing.T) []Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Envelope, 0, len(r.frames))
	for _, f := range r.frames {
		env, err := Decode(f)
		if err != nil {
			t.Fatalf("machine wrote an undecodable frame %s: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

// runMachine starts Run in the background and returns a channel with its
// result. The machine is stopped when the test ends.
func runMachine(t *testing.T, m *Machine) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return errCh
}

// waitFor polls the session until cond holds.
func waitFor(t *testing.T, m *Machine, what string, cond func(Session) bool) Session {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s := m.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; session = %+v", what, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitErr waits for Run to return.
func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not stop")
		return nil
	}
}

// assertRunning fails if Run has already returned.
func assertRunning(t *testing.T, m *Machine, errCh <-chan error) {
	t.Helper()

	select {
	case err := <-errCh:
		t.Fatalf("machine stopped unexpectedly: %v", err)
	case <-m.Done():
		t.Fatal("machine stopped unexpectedly")
	default:
	}
}
