// Package transport is a thin facade over the pion RTC engine: one
// PeerConnection, its data channels, and its asynchronous callbacks.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/config"
	"github.com/1ureka/p2pchat/internal/util"
)

// ErrNegotiation is returned when the engine rejects a negotiation step,
// e.g. creating an answer before a remote offer is set, or glare.
var ErrNegotiation = errors.New("negotiation failed")

// States is a snapshot of the engine's four observable state machines.
type States struct {
	PeerConnection webrtc.PeerConnectionState
	ICEConnection  webrtc.ICEConnectionState
	ICEGathering   webrtc.ICEGatheringState
	Signaling      webrtc.SignalingState
}

func (s States) String() string {
	return fmt.Sprintf("peer: %s, ice: %s, gathering: %s, signal: %s",
		s.PeerConnection, s.ICEConnection, s.ICEGathering, s.Signaling)
}

// Option customizes a Transport.
type Option func(*options)

type options struct {
	api *webrtc.API
}

// WithAPI makes the Transport use a preconfigured engine instead of the
// default one (e.g. one bound to a virtual network).
func WithAPI(api *webrtc.API) Option {
	return func(o *options) { o.api = api }
}

// Transport wraps a single PeerConnection. Engine callbacks are registered
// once per PeerConnection and fan out to the handlers set through the On*
// methods, which may be (re)set at any time and survive Reset.
//
// Handlers run on engine goroutines and must not block.
type Transport struct {
	api     *webrtc.API
	servers []config.ICEServer

	mu               sync.RWMutex
	pc               *webrtc.PeerConnection
	onLocalCandidate func(*webrtc.ICECandidateInit)
	onDataChannel    func(*Channel)
	onChannelOpen    func(*Channel)
	onChannelClose   func(*Channel)
	onStateChange    func(States)
}

// New creates a Transport backed by a new PeerConnection.
func New(servers []config.ICEServer, opts ...Option) (*Transport, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.api == nil {
		o.api = newAPI()
	}

	t := &Transport{api: o.api, servers: servers}

	pc, err := t.attach()
	if err != nil {
		return nil, err
	}
	t.pc = pc

	return t, nil
}

// attach creates a PeerConnection whose callbacks forward to the Transport
// handlers for as long as it is the current one.
func (t *Transport) attach() (*webrtc.PeerConnection, error) {
	pc, err := newPeerConnection(t.api, t.servers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		var init *webrtc.ICECandidateInit
		if c != nil {
			j := c.ToJSON()
			init = &j
		}
		t.mu.RLock()
		fn := t.onLocalCandidate
		current := t.pc == pc
		t.mu.RUnlock()
		if fn != nil && current {
			fn(init)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := t.watch(pc, dc)
		t.mu.RLock()
		fn := t.onDataChannel
		current := t.pc == pc
		t.mu.RUnlock()
		if fn != nil && current {
			fn(ch)
		}
	})

	pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) { t.emitStates(pc) })
	pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) { t.emitStates(pc) })
	pc.OnICEGatheringStateChange(func(webrtc.ICEGatheringState) { t.emitStates(pc) })
	pc.OnSignalingStateChange(func(webrtc.SignalingState) { t.emitStates(pc) })

	return pc, nil
}

// emitStates reports the states of pc, unless a Reset has replaced it.
func (t *Transport) emitStates(pc *webrtc.PeerConnection) {
	t.mu.RLock()
	fn := t.onStateChange
	current := t.pc == pc
	t.mu.RUnlock()
	if fn != nil && current {
		fn(statesOf(pc))
	}
}

// watch wraps dc and forwards its open/close events to the Transport
// handlers while pc is the current PeerConnection.
func (t *Transport) watch(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *Channel {
	ch := newChannel(dc)

	handler := func(get func() func(*Channel)) func() {
		return func() {
			t.mu.RLock()
			fn := get()
			current := t.pc == pc
			t.mu.RUnlock()
			if fn != nil && current {
				fn(ch)
			}
		}
	}
	dc.OnOpen(handler(func() func(*Channel) { return t.onChannelOpen }))
	dc.OnClose(handler(func() func(*Channel) { return t.onChannelClose }))

	return ch
}

func (t *Transport) peer() *webrtc.PeerConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pc
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// States returns the engine's current states.
func (t *Transport) States() States {
	return statesOf(t.peer())
}

func statesOf(pc *webrtc.PeerConnection) States {
	return States{
		PeerConnection: pc.ConnectionState(),
		ICEConnection:  pc.ICEConnectionState(),
		ICEGathering:   pc.ICEGatheringState(),
		Signaling:      pc.SignalingState(),
	}
}

// Close shuts down the PeerConnection and all of its data channels.
func (t *Transport) Close() error {
	return t.peer().Close()
}

// Reset discards the current PeerConnection, together with any local offer
// and data channels, and continues on a fresh one. The engine has no
// rollback from have-local-offer, so this is how an offer is withdrawn.
// Nothing from the old connection reaches the handlers afterwards.
func (t *Transport) Reset() error {
	pc, err := t.attach()
	if err != nil {
		return fmt.Errorf("%w: reset: %w", ErrNegotiation, err)
	}

	t.mu.Lock()
	old := t.pc
	t.pc = pc
	t.mu.Unlock()

	if err := old.Close(); err != nil {
		util.LogDebug("closing replaced PeerConnection: %v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

// OnLocalCandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnLocalCandidate(fn func(*webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onLocalCandidate = fn
	t.mu.Unlock()
}

// OnDataChannel registers a callback invoked when the remote peer opens a
// data channel.
func (t *Transport) OnDataChannel(fn func(*Channel)) {
	t.mu.Lock()
	t.onDataChannel = fn
	t.mu.Unlock()
}

// OnChannelOpen registers a callback invoked when any data channel, local or
// remote, becomes open.
func (t *Transport) OnChannelOpen(fn func(*Channel)) {
	t.mu.Lock()
	t.onChannelOpen = fn
	t.mu.Unlock()
}

// OnChannelClose registers a callback invoked when any data channel closes.
func (t *Transport) OnChannelClose(fn func(*Channel)) {
	t.mu.Lock()
	t.onChannelClose = fn
	t.mu.Unlock()
}

// OnStateChange registers a callback invoked with a full snapshot whenever
// any of the four engine states changes.
func (t *Transport) OnStateChange(fn func(States)) {
	t.mu.Lock()
	t.onStateChange = fn
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.peer().CreateOffer(nil)
	if err != nil {
		return offer, fmt.Errorf("%w: create offer: %w", ErrNegotiation, err)
	}
	return offer, nil
}

// CreateAnswer generates an SDP answer. A remote offer must be set first.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.peer().CreateAnswer(nil)
	if err != nil {
		return answer, fmt.Errorf("%w: create answer: %w", ErrNegotiation, err)
	}
	return answer, nil
}

// SetLocalDescription applies the local SDP and starts ICE gathering.
func (t *Transport) SetLocalDescription(desc webrtc.SessionDescription) error {
	if err := t.peer().SetLocalDescription(desc); err != nil {
		return fmt.Errorf("%w: set local %s: %w", ErrNegotiation, desc.Type, err)
	}
	return nil
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := t.peer().SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %w", ErrNegotiation, desc.Type, err)
	}
	return nil
}

// LocalDescription returns the current local description, including every
// candidate gathered so far, or nil before SetLocalDescription.
func (t *Transport) LocalDescription() *webrtc.SessionDescription {
	return t.peer().LocalDescription()
}

// AddRemoteCandidate adds a remote ICE candidate received through signaling.
// A nil candidate marks the end of the remote candidates and never fails.
func (t *Transport) AddRemoteCandidate(c *webrtc.ICECandidateInit) error {
	if c == nil {
		util.LogDebug("remote end of candidates")
		return nil
	}
	if err := t.peer().AddICECandidate(*c); err != nil {
		return fmt.Errorf("%w: add candidate: %w", ErrNegotiation, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// CreateDataChannel creates an ordered, reliable data channel. It is
// negotiated in-band, so the remote side sees it through OnDataChannel.
func (t *Transport) CreateDataChannel(label string) (*Channel, error) {
	pc := t.peer()
	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create data channel: %w", ErrNegotiation, err)
	}
	return t.watch(pc, dc), nil
}
