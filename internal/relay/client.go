// Package relay carries signaling frames between peers over a WebSocket
// rendezvous server. It holds both the client connection used by a chat
// peer and the server that pairs peers by name.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pchat/internal/util"
)

// ErrTransport wraps every failure to reach or talk to the relay.
var ErrTransport = errors.New("relay transport error")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Backoff bounds the retries made by Dial.
type Backoff struct {
	Attempts int           // total dial attempts, at least 1
	Initial  time.Duration // delay after the first failure
	Max      time.Duration // cap for the doubling delay
}

// DefaultBackoff retries a handful of times over roughly ten seconds.
var DefaultBackoff = Backoff{Attempts: 5, Initial: 500 * time.Millisecond, Max: 4 * time.Second}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Conn is a client connection to the relay. Reads must come from a single
// goroutine; writes are serialized internally.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Dial connects to the relay at url, retrying with backoff until it succeeds,
// the attempts run out, or ctx is cancelled.
func Dial(ctx context.Context, url string, b Backoff) (*Conn, error) {
	if b.Attempts < 1 {
		b.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			util.LogDebug("relay connected: %s", url)
			return newConn(ws), nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == b.Attempts {
			break
		}

		wait := b.delay(attempt)
		util.LogWarning("relay dial failed (attempt %d/%d): %v; retrying in %s", attempt, b.Attempts, err, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, url, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrTransport, url, lastErr)
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, done: make(chan struct{})}

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()
	return c
}

// keepalive pings the relay so idle connections survive proxies.
func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				util.LogDebug("relay ping failed: %v", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadFrame blocks until the next text frame arrives. Non-text frames are
// skipped.
func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			util.LogDebug("relay: skipping non-text frame (type %d)", msgType)
			continue
		}
		return data, nil
	}
}

// WriteFrame sends one text frame.
func (c *Conn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
