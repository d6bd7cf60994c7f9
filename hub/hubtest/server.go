// Package hubtest provides an in-process hub server for tests. It speaks the hub wire
// protocol over a gorilla websocket and records every invocation it receives.
package hubtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-collab-client/hub"
)

// Invocation is one client call received by the server
type Invocation struct {
	Conn         *Conn
	Target       string
	InvocationID string
	Arguments    []json.RawMessage
}

// StringArg decodes argument i as a string, returning "" when absent or not a string
func (i Invocation) StringArg(idx int) string {
	if idx >= len(i.Arguments) {
		return ""
	}
	var s string
	_ = json.Unmarshal(i.Arguments[idx], &s)
	return s
}

// InvokeFunc answers an invocation. A non-empty errMsg fails it.
type InvokeFunc func(inv Invocation) (result any, errMsg string)

// Server is a fake hub
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	lock           sync.Mutex
	conns          map[*Conn]struct{}
	invocations    []Invocation
	onInvoke       InvokeFunc
	acceptToken    func(token string) bool
	handshakes     int
	rejectUpgrades bool
}

// Conn is one client connection held by the server
type Conn struct {
	Token string

	ws        *websocket.Conn
	writeLock sync.Mutex
}

func NewServer(onInvoke InvokeFunc) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:    make(map[*Conn]struct{}),
		onInvoke: onInvoke,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the websocket URL of the hub
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/hubs/collaboration"
}

// Close drops every connection and stops the server
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// SetTokenValidator makes handshakes with a rejected bearer token fail with 401
func (s *Server) SetTokenValidator(accept func(token string) bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.acceptToken = accept
}

// RejectHandshakes makes every new handshake fail with 503 until called with false
func (s *Server) RejectHandshakes(reject bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.rejectUpgrades = reject
}

// Handshakes returns the number of accepted websocket upgrades
func (s *Server) Handshakes() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.handshakes
}

// Conns returns the live connections
func (s *Server) Conns() []*Conn {
	s.lock.Lock()
	defer s.lock.Unlock()

	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Invocations returns the calls received for target, or all calls when target is empty
func (s *Server) Invocations(target string) []Invocation {
	s.lock.Lock()
	defer s.lock.Unlock()

	var out []Invocation
	for _, inv := range s.invocations {
		if target == "" || inv.Target == target {
			out = append(out, inv)
		}
	}
	return out
}

// Broadcast pushes an event to every connection
func (s *Server) Broadcast(target hub.EventName, args ...any) error {
	for _, c := range s.Conns() {
		if err := c.SendEvent(target, args...); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every socket without a close frame, like a network failure
func (s *Server) DropConnections() {
	s.lock.Lock()
	conns := s.conns
	s.conns = make(map[*Conn]struct{})
	s.lock.Unlock()

	for c := range conns {
		_ = c.ws.Close()
	}
}

// SendEvent pushes an event to this connection
func (c *Conn) SendEvent(target hub.EventName, args ...any) error {
	msg, err := hub.NewEvent(string(target), args...)
	if err != nil {
		return err
	}
	return c.write(msg)
}

func (c *Conn) write(msg hub.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.lock.Lock()
	accept := s.acceptToken
	reject := s.rejectUpgrades
	s.lock.Unlock()

	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if accept != nil && !accept(token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{Token: token, ws: ws}
	s.lock.Lock()
	s.conns[c] = struct{}{}
	s.handshakes++
	s.lock.Unlock()

	go s.read(c)
}

func (s *Server) read(c *Conn) {
	defer func() {
		s.lock.Lock()
		delete(s.conns, c)
		s.lock.Unlock()
		_ = c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg hub.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != hub.MessageInvocation {
			continue
		}

		inv := Invocation{Conn: c, Target: msg.Target, InvocationID: msg.InvocationID, Arguments: msg.Arguments}
		s.lock.Lock()
		s.invocations = append(s.invocations, inv)
		onInvoke := s.onInvoke
		s.lock.Unlock()

		var result any
		var errMsg string
		if onInvoke != nil {
			result, errMsg = onInvoke(inv)
		}
		if msg.InvocationID == "" {
			continue
		}

		completion := hub.Message{Type: hub.MessageCompletion, InvocationID: msg.InvocationID, Error: errMsg}
		if result != nil {
			if completion.Result, err = json.Marshal(result); err != nil {
				completion.Error = err.Error()
			}
		}
		if err := c.write(completion); err != nil {
			return
		}
	}
}

// Drop closes this connection without a close frame
func (c *Conn) Drop() {
	_ = c.ws.Close()
}
