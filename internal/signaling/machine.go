package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/config"
	"github.com/1ureka/p2pchat/internal/relay"
	"github.com/1ureka/p2pchat/internal/transport"
	"github.com/1ureka/p2pchat/internal/util"
)

var (
	// ErrGlare is returned when both sides offered at once and the collision
	// cannot be resolved.
	ErrGlare = fmt.Errorf("%w: offer collision", transport.ErrNegotiation)

	// ErrTimeout is returned when no data channel opened in time.
	ErrTimeout = errors.New("negotiation timed out")

	// errClosed ends Run without an error: the peer went away normally.
	errClosed = errors.New("session closed")
)

const inboxSize = 128

// Options configures a Machine.
type Options struct {
	Role     config.Role
	PeerID   string // required for RoleInitiator
	Protocol config.Protocol
	Label    string        // data channel label, initiator only
	Timeout  time.Duration // zero disables the negotiation timeout
}

// Machine is the signaling state machine. It owns the Session exclusively:
// events are handled one at a time by Run, and each transition holds the
// session lock for its whole duration so Snapshot never sees half of one.
type Machine struct {
	neg      Negotiator
	out      FrameWriter
	protocol config.Protocol
	label    string
	timeout  time.Duration

	events    chan Event
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu            sync.Mutex
	session       Session
	started       bool
	relayClosed   bool
	timer         *time.Timer
	pendingLocal  []Envelope // local candidates waiting for a peer id
	pendingRemote []Envelope // remote candidates waiting for a remote description
}

// NewMachine creates a machine in the Idle state. Call Run to start
// processing and Post(Start{}) to kick off the session.
func NewMachine(neg Negotiator, out FrameWriter, opts Options) *Machine {
	if opts.Protocol == "" {
		opts.Protocol = config.ProtocolTrickle
	}
	if opts.Label == "" {
		opts.Label = config.DefaultLabel
	}

	return &Machine{
		neg:      neg,
		out:      out,
		protocol: opts.Protocol,
		label:    opts.Label,
		timeout:  opts.Timeout,
		events:   make(chan Event, inboxSize),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		session: Session{
			Role:   opts.Role,
			PeerID: opts.PeerID,
			State:  StateIdle,
		},
	}
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Post enqueues an event. It never runs the transition inline, so it is safe
// to call from engine callbacks. Returns false once the machine has stopped.
func (m *Machine) Post(ev Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// PostFrame decodes a relay frame and posts it. Malformed frames are dropped
// with a warning.
func (m *Machine) PostFrame(frame []byte) bool {
	util.Stats.AddEnvelopeRecv()

	env, err := Decode(frame)
	if err != nil {
		util.LogWarning("dropping relay frame: %v", err)
		return true
	}
	return m.Post(Inbound{Envelope: env})
}

// Ready returns a channel that is closed once a data channel is open.
func (m *Machine) Ready() <-chan struct{} {
	return m.ready
}

// Done returns a channel that is closed when Run returns.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Run processes events until the session ends. It returns nil when the data
// channel or peer connection closes normally, ctx.Err() on cancellation, and
// the failing error otherwise.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.stopTimer()

	for {
		select {
		case ev := <-m.events:
			if err := m.handle(ev); err != nil {
				if errors.Is(err, errClosed) {
					return nil
				}
				return err
			}
		case <-ctx.Done():
			m.mu.Lock()
			m.session.State = StateClosed
			m.mu.Unlock()
			return ctx.Err()
		}
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func (m *Machine) handle(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.dispatch(ev)
	if err != nil {
		m.session.State = StateClosed
	}
	return err
}

func (m *Machine) dispatch(ev Event) error {
	switch ev := ev.(type) {
	case Start:
		return m.start()
	case Inbound:
		return m.onEnvelope(ev.Envelope)
	case LocalCandidate:
		return m.onLocalCandidate(ev.Candidate)
	case StateChanged:
		return m.onStateChange(ev.States)
	case ChannelArrived:
		util.LogInfo("inbound data channel %q", ev.Channel.Label())
		return nil
	case ChannelOpened:
		return m.onChannelOpened(ev.Channel)
	case ChannelClosed:
		return m.onChannelClosed(ev.Channel)
	case RelayClosed:
		return m.onRelayClosed(ev.Err)
	case negotiationTimeout:
		if m.session.Channel == nil {
			return fmt.Errorf("%w after %s", ErrTimeout, m.timeout)
		}
		return nil
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

// start performs the role-based kickoff: the initiator creates the data
// channel and offers, the responder waits.
func (m *Machine) start() error {
	if m.started {
		util.LogWarning("session already started")
		return nil
	}
	m.started = true

	if m.session.Role != config.RoleInitiator {
		util.LogInfo("waiting for an offer")
		return nil
	}
	if m.session.State != StateIdle {
		util.LogInfo("already negotiating with %s, not offering", m.session.PeerID)
		return nil
	}
	if m.session.PeerID == "" {
		return fmt.Errorf("%w: initiator without peer id", transport.ErrNegotiation)
	}

	if _, err := m.neg.CreateDataChannel(m.label); err != nil {
		return err
	}

	m.session.State = StateOffering
	m.armTimer()
	util.LogInfo("connecting to %s", m.session.PeerID)
	return m.sendOffer()
}

func (m *Machine) onLocalCandidate(c *webrtc.ICECandidateInit) error {
	if m.protocol == config.ProtocolCombined {
		return nil
	}
	util.LogDebug("-- RTC candidate: %s", describeCandidate(c))

	env := NewCandidate(m.session.PeerID, c)
	if m.session.PeerID == "" {
		m.pendingLocal = append(m.pendingLocal, env)
		return nil
	}
	return m.send(env)
}

func (m *Machine) onStateChange(st transport.States) error {
	m.session.Engine = st
	util.LogDebug("-- RTC state: %s", st)

	switch st.PeerConnection {
	case webrtc.PeerConnectionStateFailed:
		return fmt.Errorf("%w: peer connection failed", transport.ErrNegotiation)
	case webrtc.PeerConnectionStateClosed:
		return errClosed
	}

	return m.maybeSendDescription()
}

func (m *Machine) onChannelOpened(ch Channel) error {
	if m.session.Channel != nil {
		util.LogDebug("extra data channel %q open, ignoring", ch.Label())
		return nil
	}

	m.session.Channel = ch
	m.session.State = StateConnected
	m.stopTimer()
	m.readyOnce.Do(func() { close(m.ready) })
	util.LogSuccess("data channel %q open with %s", ch.Label(), m.session.PeerID)
	return nil
}

func (m *Machine) onChannelClosed(ch Channel) error {
	if m.session.Channel == nil || ch != m.session.Channel {
		return nil
	}
	util.LogWarning("data channel %q closed", ch.Label())
	return errClosed
}

func (m *Machine) onRelayClosed(err error) error {
	m.relayClosed = true

	if m.session.Channel != nil {
		util.LogDebug("relay closed after data channel opened: %v", err)
		return nil
	}
	if err == nil || !errors.Is(err, relay.ErrTransport) {
		err = errors.Join(relay.ErrTransport, err)
	}
	return fmt.Errorf("closed before data channel opened: %w", err)
}

// ---------------------------------------------------------------------------
// Timeout
// ---------------------------------------------------------------------------

func (m *Machine) armTimer() {
	if m.timeout <= 0 || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.timeout, func() {
		m.Post(negotiationTimeout{})
	})
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
	}
}
