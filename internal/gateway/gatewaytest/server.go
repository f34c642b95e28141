// Package gatewaytest provides a mock chat gateway for tests.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/gateway"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg gateway.Message) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(msg)
}

// Server simulates a chat gateway. It authenticates with a fixed token,
// records every request and assigns sequential message ids.
type Server struct {
	srv   *httptest.Server
	token string

	connsMu     sync.Mutex
	connections []*connWrapper
	accepted    int

	mu       sync.Mutex
	requests []gateway.Message
	failNext map[string]*gateway.Error
	nextID   chat.MessageID
}

// NewServer starts a mock gateway on a loopback port.
func NewServer(token string) *Server {
	s := &Server{
		token:    token,
		failNext: make(map[string]*gateway.Error),
		nextID:   100,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	return s
}

// URL returns the websocket URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close stops the server and drops all connections.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// DropConnections closes every live connection, as if the network failed.
func (s *Server) DropConnections() {
	s.connsMu.Lock()
	conns := s.connections
	s.connections = nil
	s.connsMu.Unlock()
	for _, w := range conns {
		w.conn.Close()
	}
}

// Accepted counts authenticated connections since start.
func (s *Server) Accepted() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.accepted
}

// Connections counts live authenticated connections.
func (s *Server) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// Push broadcasts an update to every connection.
func (s *Server) Push(u chat.Update) {
	s.connsMu.Lock()
	conns := make([]*connWrapper, len(s.connections))
	copy(conns, s.connections)
	s.connsMu.Unlock()

	for _, w := range conns {
		_ = w.write(gateway.Message{Type: gateway.TypeUpdate, Update: &u})
	}
}

// FailNext makes the next request of the given type fail with err.
func (s *Server) FailNext(msgType string, err *gateway.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[msgType] = err
}

// Requests returns the recorded requests of the given type, or all of them
// when msgType is empty.
func (s *Server) Requests(msgType string) []gateway.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gateway.Message
	for _, m := range s.requests {
		if msgType == "" || m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer func() {
		s.connsMu.Lock()
		for i, c := range s.connections {
			if c == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	if err := wrapper.write(gateway.Message{Type: gateway.TypeAuthRequired}); err != nil {
		return
	}
	var auth gateway.Message
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.Type != gateway.TypeAuth || auth.AccessToken != s.token {
		_ = wrapper.write(gateway.Message{Type: gateway.TypeAuthInvalid})
		return
	}
	if err := wrapper.write(gateway.Message{Type: gateway.TypeAuthOK}); err != nil {
		return
	}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.accepted++
	s.connsMu.Unlock()

	for {
		var msg gateway.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := wrapper.write(s.respond(msg)); err != nil {
			return
		}
	}
}

func (s *Server) respond(msg gateway.Message) gateway.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, msg)

	if gwErr, ok := s.failNext[msg.Type]; ok {
		delete(s.failNext, msg.Type)
		failed := false
		return gateway.Message{ID: msg.ID, Type: gateway.TypeResult, Success: &failed, Error: gwErr}
	}

	success := true
	resp := gateway.Message{ID: msg.ID, Type: gateway.TypeResult, Success: &success}
	switch msg.Type {
	case gateway.TypeSendMessage:
		s.nextID++
		var chatID chat.ChatID
		if msg.Outgoing != nil {
			chatID = msg.Outgoing.Chat
		}
		resp.Result, _ = json.Marshal(chat.MessageRef{Chat: chatID, ID: s.nextID})
	case gateway.TypeSubscribeUpdates, gateway.TypeEditMessage, gateway.TypeAnswerCallback:
	default:
		failed := false
		resp.Success = &failed
		resp.Error = &gateway.Error{Code: "unknown_command", Message: "unknown message type " + msg.Type}
	}
	return resp
}
