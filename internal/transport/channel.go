package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pchat/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// ErrChannelClosed is returned when sending on a data channel that is not open.
var ErrChannelClosed = errors.New("data channel not open")

// Channel wraps a pion DataChannel carrying UTF-8 chat text, with
// buffered-amount backpressure on send. Open/close notifications are owned by
// the Transport that created or accepted the channel.
type Channel struct {
	raw       *webrtc.DataChannel
	sendReady chan struct{}
}

// newChannel wraps raw and initializes the backpressure signal.
func newChannel(raw *webrtc.DataChannel) *Channel {
	ch := &Channel{
		raw:       raw,
		sendReady: make(chan struct{}, 1),
	}

	raw.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	raw.OnBufferedAmountLow(func() {
		select {
		case ch.sendReady <- struct{}{}:
		default:
		}
	})

	return ch
}

// Label returns the negotiated channel label.
func (c *Channel) Label() string { return c.raw.Label() }

// IsOpen reports whether the channel can currently send.
func (c *Channel) IsOpen() bool { return c.raw.ReadyState() == webrtc.DataChannelStateOpen }

// Send transmits text as one message. It blocks under backpressure until the
// buffer drains or ctx is cancelled, and fails with ErrChannelClosed if the
// channel is not open.
func (c *Channel) Send(ctx context.Context, text string) error {
	if !c.IsOpen() {
		return fmt.Errorf("%w: %s", ErrChannelClosed, c.raw.ReadyState())
	}

	if c.raw.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-c.sendReady:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.raw.SendText(text); err != nil {
		if !c.IsOpen() {
			return fmt.Errorf("%w: %w", ErrChannelClosed, err)
		}
		return err
	}

	util.Stats.AddSent(len(text))
	return nil
}

// OnMessage registers the callback for inbound messages.
func (c *Channel) OnMessage(fn func(text string)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		fn(string(msg.Data))
	})
}

// Close closes the underlying data channel.
func (c *Channel) Close() error { return c.raw.Close() }
