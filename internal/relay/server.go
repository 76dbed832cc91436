package relay

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pchat/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// peer is one connected client. Writes to it may come from any other
// client's read loop.
type peer struct {
	name string
	ws   *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}

// Server is the rendezvous relay. Every connection gets a random name,
// announced to it as {"username": name}. A frame whose "username" names
// another connection is forwarded there with "username" rewritten to the
// sender's name.
type Server struct {
	listener net.Listener

	mu    sync.Mutex
	users map[string]*peer
}

// NewServer creates an empty relay.
func NewServer() *Server {
	return &Server{users: make(map[string]*peer)}
}

// Start begins listening on addr (":0" picks a free port) and returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener

	go func() {
		_ = http.Serve(listener, s)
	}()

	return listener.Addr().String(), nil
}

// Close shuts down the listener, preventing new connections.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// Users returns the number of connected clients.
func (s *Server) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("relay upgrade failed: %v", err)
		return
	}

	p := &peer{name: uuid.NewString(), ws: ws}
	s.add(p)
	defer s.remove(p)

	hello, _ := json.Marshal(map[string]string{"username": p.name})
	if err := p.write(hello); err != nil {
		util.LogError("relay: greeting %s: %v", p.name, err)
		return
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("relay: read from %s: %v", p.name, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.forward(p, data)
	}
}

func (s *Server) add(p *peer) {
	s.mu.Lock()
	s.users[p.name] = p
	s.mu.Unlock()
	util.LogInfo("User connect: %s", p.name)
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	delete(s.users, p.name)
	s.mu.Unlock()
	p.ws.Close()
	util.LogInfo("User disconnect: %s", p.name)
}

// forward routes one frame from sender to the addressee it names.
func (s *Server) forward(sender *peer, data []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg == nil {
		util.LogWarning("relay: dropping malformed frame from %s", sender.name)
		return
	}

	var to string
	if raw, ok := msg["username"]; !ok || json.Unmarshal(raw, &to) != nil || to == "" {
		util.LogWarning("relay: username missing in frame from %s", sender.name)
		return
	}

	s.mu.Lock()
	target := s.users[to]
	s.mu.Unlock()
	if target == nil {
		util.LogWarning("relay: username not found: %s", to)
		return
	}

	msg["username"], _ = json.Marshal(sender.name)
	out, err := json.Marshal(msg)
	if err != nil {
		util.LogError("relay: re-encoding frame from %s: %v", sender.name, err)
		return
	}

	util.LogTrace("relay: %s -> %s (%d bytes)", sender.name, to, len(out))
	if err := target.write(out); err != nil {
		util.LogDebug("relay: write to %s: %v", to, err)
	}
}
