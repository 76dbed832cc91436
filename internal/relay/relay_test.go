package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startRelay(t *testing.T) (*Server, string) {
	t.Helper()

	srv := NewServer()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialRelay(t *testing.T, url string) *Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, Backoff{Attempts: 1})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// readFields reads one frame and decodes it into a field map.
func readFields(t *testing.T, c *Conn) map[string]json.RawMessage {
	t.Helper()

	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := c.ReadFrame()
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("ReadFrame: %v", r.err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(r.frame, &m); err != nil {
			t.Fatalf("frame %s: %v", r.frame, err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func login(t *testing.T, c *Conn) string {
	t.Helper()

	m := readFields(t, c)
	var name string
	if err := json.Unmarshal(m["username"], &name); err != nil || name == "" {
		t.Fatalf("login frame = %v, want a username", m)
	}
	if len(m) != 1 {
		t.Errorf("login frame has %d fields, want 1", len(m))
	}
	return name
}

func TestServerAssignsDistinctNames(t *testing.T) {
	_, url := startRelay(t)

	a := login(t, dialRelay(t, url))
	b := login(t, dialRelay(t, url))
	if a == b {
		t.Fatalf("both clients named %q", a)
	}
}

func TestServerForwardsWithSenderName(t *testing.T) {
	_, url := startRelay(t)

	alice := dialRelay(t, url)
	bob := dialRelay(t, url)
	aliceName := login(t, alice)
	bobName := login(t, bob)

	frame := `{"username":"` + bobName + `","offer":{"type":"offer","sdp":"v=0"}}`
	if err := alice.WriteFrame([]byte(frame)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got := readFields(t, bob)
	var from string
	_ = json.Unmarshal(got["username"], &from)
	if from != aliceName {
		t.Errorf("username = %q, want sender %q", from, aliceName)
	}
	if string(got["offer"]) != `{"type":"offer","sdp":"v=0"}` {
		t.Errorf("offer = %s, want it forwarded untouched", got["offer"])
	}
}

func TestServerDropsUnroutableFrames(t *testing.T) {
	_, url := startRelay(t)

	alice := dialRelay(t, url)
	bob := dialRelay(t, url)
	login(t, alice)
	bobName := login(t, bob)

	for _, frame := range []string{
		`{"username":"nobody","candidate":null}`,
		`{"candidate":null}`,
		`{"username":42}`,
		`not json`,
	} {
		if err := alice.WriteFrame([]byte(frame)); err != nil {
			t.Fatalf("WriteFrame(%q): %v", frame, err)
		}
	}

	// The relay keeps serving alice: the next valid frame still arrives.
	if err := alice.WriteFrame([]byte(`{"username":"` + bobName + `","candidate":null}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got := readFields(t, bob)
	if string(got["candidate"]) != "null" {
		t.Errorf("first frame at bob = %v, want the end-of-candidates frame", got)
	}
}

func TestServerForgetsDisconnectedUsers(t *testing.T) {
	srv, url := startRelay(t)

	c := dialRelay(t, url)
	login(t, c)
	if n := srv.Users(); n != 1 {
		t.Fatalf("users = %d, want 1", n)
	}

	_ = c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Users() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("users = %d after disconnect, want 0", srv.Users())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStart(t *testing.T) {
	srv := NewServer()
	addr, err := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Close()

	login(t, dialRelay(t, "ws://"+addr))
}

func TestDialFailure(t *testing.T) {
	srv := NewServer()
	addr, err := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv.Close()

	start := time.Now()
	_, err = Dial(context.Background(), "ws://"+addr, Backoff{Attempts: 3, Initial: 10 * time.Millisecond})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Dial error = %v, want ErrTransport", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Dial gave up after %s, want at least two backoff delays", elapsed)
	}
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1", Backoff{Attempts: 5, Initial: time.Second})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Dial error = %v, want ErrTransport", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 350 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{8, 350 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestWriteAfterClose(t *testing.T) {
	_, url := startRelay(t)

	c := dialRelay(t, url)
	login(t, c)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := c.WriteFrame([]byte(`{}`)); !errors.Is(err, ErrTransport) {
		t.Errorf("WriteFrame after Close = %v, want ErrTransport", err)
	}
}
