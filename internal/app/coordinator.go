// Package app contains the top-level orchestration of a chat session: relay,
// engine and signaling machine wired together behind a small chat API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/config"
	"github.com/1ureka/p2pchat/internal/relay"
	"github.com/1ureka/p2pchat/internal/signaling"
	"github.com/1ureka/p2pchat/internal/transport"
	"github.com/1ureka/p2pchat/internal/util"
)

const messageBuffer = 64

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithTransport passes options through to the engine, e.g. a virtual network.
func WithTransport(opts ...transport.Option) Option {
	return func(c *Coordinator) { c.trOpts = append(c.trOpts, opts...) }
}

// WithBackoff overrides the relay dial retry policy.
func WithBackoff(b relay.Backoff) Option {
	return func(c *Coordinator) { c.backoff = b }
}

// WithOutput sets where sent messages are echoed. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(c *Coordinator) { c.out = w }
}

// Coordinator runs one chat session:
//  1. Dial the relay
//  2. Build the engine and turn its callbacks into machine events
//  3. Feed relay frames to the machine
//  4. Kick off the session and run the machine until it ends
type Coordinator struct {
	cfg     config.Config
	trOpts  []transport.Option
	backoff relay.Backoff
	out     io.Writer

	conn     *relay.Conn
	tr       *transport.Transport
	machine  *signaling.Machine
	messages chan string

	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Start dials the relay and begins negotiating. It returns once the session
// is running; use Ready to wait for the data channel.
func Start(ctx context.Context, cfg config.Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:      cfg,
		backoff:  relay.DefaultBackoff,
		out:      io.Discard,
		messages: make(chan string, messageBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// ── 1. Relay ───────────────────────────────────────────────────────
	conn, err := relay.Dial(ctx, cfg.RelayURL, c.backoff)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	// ── 2. Engine ──────────────────────────────────────────────────────
	tr, err := transport.New(cfg.ICEServers, c.trOpts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.tr = tr

	c.machine = signaling.NewMachine(negotiator{tr: tr, deliver: c.deliver}, conn, signaling.Options{
		Role:     cfg.Role,
		PeerID:   cfg.PeerID,
		Protocol: cfg.Protocol,
		Label:    cfg.Label,
		Timeout:  cfg.Timeout,
	})
	c.wire()

	// ── 3. Run ─────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.readRelay()
	go func() {
		defer close(c.done)
		c.err = c.machine.Run(runCtx)
		c.release()
	}()
	go c.closeRelayWhenReady()

	c.machine.Post(signaling.Start{})
	return c, nil
}

// wire turns engine callbacks into machine events.
func (c *Coordinator) wire() {
	bind(c.tr, c.machine, c.deliver)
}

// bind posts every engine callback of tr to m. Handlers only post; inbound
// text of remote channels goes to deliver.
func bind(tr *transport.Transport, m *signaling.Machine, deliver func(string)) {
	tr.OnLocalCandidate(func(cand *webrtc.ICECandidateInit) {
		m.Post(signaling.LocalCandidate{Candidate: cand})
	})
	tr.OnStateChange(func(st transport.States) {
		m.Post(signaling.StateChanged{States: st})
	})
	tr.OnDataChannel(func(ch *transport.Channel) {
		ch.OnMessage(deliver)
		m.Post(signaling.ChannelArrived{Channel: ch})
	})
	tr.OnChannelOpen(func(ch *transport.Channel) {
		m.Post(signaling.ChannelOpened{Channel: ch})
	})
	tr.OnChannelClose(func(ch *transport.Channel) {
		m.Post(signaling.ChannelClosed{Channel: ch})
	})
}

// readRelay feeds relay frames to the machine until the connection ends.
func (c *Coordinator) readRelay() {
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			c.machine.Post(signaling.RelayClosed{Err: err})
			return
		}
		if !c.machine.PostFrame(frame) {
			return
		}
	}
}

// closeRelayWhenReady drops the relay once the data channel is open; all
// further traffic goes peer to peer.
func (c *Coordinator) closeRelayWhenReady() {
	select {
	case <-c.machine.Ready():
		util.LogDebug("data channel open, closing relay")
		c.conn.Close()
	case <-c.machine.Done():
	}
}

func (c *Coordinator) deliver(text string) {
	select {
	case c.messages <- text:
	case <-c.machine.Done():
	}
}

// release frees the relay and the engine. Runs once, when the machine stops.
func (c *Coordinator) release() {
	c.conn.Close()
	if err := c.tr.Close(); err != nil {
		util.LogDebug("closing peer connection: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Chat API
// ---------------------------------------------------------------------------

// Ready is closed once the data channel is open.
func (c *Coordinator) Ready() <-chan struct{} { return c.machine.Ready() }

// Done is closed once the session has ended and its resources are released.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Err waits for the session to end and returns why: nil when the peer left
// normally or Close was called.
func (c *Coordinator) Err() error {
	<-c.done
	if errors.Is(c.err, context.Canceled) {
		return nil
	}
	return c.err
}

// Session returns a snapshot of the signaling state.
func (c *Coordinator) Session() signaling.Session { return c.machine.Snapshot() }

// Messages delivers inbound chat text in arrival order.
func (c *Coordinator) Messages() <-chan string { return c.messages }

// Send sends text to the peer and, once it is sent, echoes it as "< text".
// It fails with transport.ErrChannelClosed while no data channel is open.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	ch := c.machine.Snapshot().Channel
	if ch == nil {
		return fmt.Errorf("%w: not connected yet", transport.ErrChannelClosed)
	}

	if err := ch.Send(ctx, text); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "< %s\n", text)
	return nil
}

// Close ends the session and waits for everything to be released.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

// ---------------------------------------------------------------------------
// Engine adapter
// ---------------------------------------------------------------------------

// negotiator adapts *transport.Transport to signaling.Negotiator. Channels
// it creates are hooked up to deliver inbound text before they can open.
type negotiator struct {
	tr      *transport.Transport
	deliver func(string)
}

func (n negotiator) CreateOffer() (webrtc.SessionDescription, error) { return n.tr.CreateOffer() }

func (n negotiator) CreateAnswer() (webrtc.SessionDescription, error) { return n.tr.CreateAnswer() }

func (n negotiator) SetLocalDescription(d webrtc.SessionDescription) error {
	return n.tr.SetLocalDescription(d)
}

func (n negotiator) SetRemoteDescription(d webrtc.SessionDescription) error {
	return n.tr.SetRemoteDescription(d)
}

func (n negotiator) Reset() error { return n.tr.Reset() }

func (n negotiator) LocalDescription() *webrtc.SessionDescription { return n.tr.LocalDescription() }

func (n negotiator) AddRemoteCandidate(c *webrtc.ICECandidateInit) error {
	return n.tr.AddRemoteCandidate(c)
}

func (n negotiator) CreateDataChannel(label string) (signaling.Channel, error) {
	ch, err := n.tr.CreateDataChannel(label)
	if err != nil {
		return nil, err
	}
	ch.OnMessage(n.deliver)
	return ch, nil
}
