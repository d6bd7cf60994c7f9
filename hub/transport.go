package hub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-collab-client/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 15 * time.Second
	writeTimeout            = 5 * time.Second
)

// State is the connection state of the Transport
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Reauthenticator is implemented by token sources that can replace a token the hub
// rejected, such as the credential authority
type Reauthenticator interface {
	HandleUnauthorized(ctx context.Context, tokenBeforeRequest string) (string, error)
}

// HandlerID identifies one registered event handler
type HandlerID uint64

// Handler receives a decoded event. Handlers run on the read goroutine in delivery order
// and must not block on Invoke, whose completion is delivered by that same goroutine.
type Handler func(Event)

type registration struct {
	id      HandlerID
	handler Handler
}

// LifecycleHooks observe connection loss and recovery. Closed receives nil after an
// explicit Disconnect and ErrReconnectExhausted when the backoff ceiling was reached.
type LifecycleHooks struct {
	Reconnecting func(err error)
	Reconnected  func()
	Closed       func(err error)
}

type invocationResult struct {
	msg Message
	err error
}

// Transport owns the single hub connection shared by every collaboration session.
// Construct one per process and pass it to whoever needs it.
type Transport struct {
	url              string
	tokens           oauth2.TokenSource
	dialer           *websocket.Dialer
	policy           Policy
	pingInterval     time.Duration
	handshakeTimeout time.Duration

	state atomic.Int32

	lifecycleLock sync.Mutex // serializes Connect and Disconnect

	connLock sync.RWMutex
	conn     *websocket.Conn
	stop     chan struct{} // closed by Disconnect
	wg       sync.WaitGroup

	writeLock sync.Mutex

	handlersLock sync.RWMutex
	handlers     map[EventName][]registration
	nextID       atomic.Uint64

	pendingLock sync.Mutex
	pending     map[string]chan invocationResult

	hooksLock sync.RWMutex
	hooks     map[uint64]LifecycleHooks
	nextHook  uint64
}

type Option func(*Transport)

func WithPolicy(policy Policy) Option {
	return func(t *Transport) {
		t.policy = policy
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(t *Transport) {
		t.dialer = dialer
	}
}

// WithPingInterval sets the keep-alive interval; zero disables keep-alives and read deadlines
func WithPingInterval(interval time.Duration) Option {
	return func(t *Transport) {
		t.pingInterval = interval
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.handshakeTimeout = timeout
	}
}

// New creates a disconnected Transport. tokens supplies the bearer token for every handshake;
// if it also implements Reauthenticator, a rejected handshake token is refreshed once.
func New(url string, tokens oauth2.TokenSource, options ...Option) *Transport {
	t := &Transport{
		url:              url,
		tokens:           tokens,
		policy:           DefaultPolicy(),
		pingInterval:     defaultPingInterval,
		handshakeTimeout: defaultHandshakeTimeout,
		handlers:         make(map[EventName][]registration),
		pending:          make(map[string]chan invocationResult),
		hooks:            make(map[uint64]LifecycleHooks),
	}

	for _, opt := range options {
		opt(t)
	}

	if t.dialer == nil {
		t.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: t.handshakeTimeout,
		}
	}
	return t
}

// State returns the current connection state
func (t *Transport) State() State {
	return State(t.state.Load())
}

// IsConnected reports whether Invoke and Send can currently succeed
func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

func (t *Transport) setState(s State) {
	t.state.Store(int32(s))
	metrics.HubConnectionState.Set(float64(s))
}

// Connect opens the hub connection. It returns immediately when already connected
// (or when a reconnect is in progress) and propagates handshake failures.
func (t *Transport) Connect(ctx context.Context) error {
	t.lifecycleLock.Lock()
	defer t.lifecycleLock.Unlock()

	if s := t.State(); s == StateConnected || s == StateReconnecting {
		return nil
	}

	t.setState(StateConnecting)
	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(StateDisconnected)
		return err
	}

	stop := make(chan struct{})
	t.connLock.Lock()
	t.conn = conn
	t.stop = stop
	t.connLock.Unlock()
	t.setState(StateConnected)

	log.Info().Str("url", t.url).Msg("Hub connected")

	t.wg.Add(2)
	go t.readLoop(conn, stop)
	go t.pingLoop(stop)
	return nil
}

// Disconnect closes the connection and forgets every handler. It is idempotent and always
// leaves the transport Disconnected, even if closing the socket fails. Must not be called
// from an event handler.
func (t *Transport) Disconnect() error {
	t.lifecycleLock.Lock()
	defer t.lifecycleLock.Unlock()

	t.connLock.Lock()
	conn := t.conn
	stop := t.stop
	t.conn = nil
	t.stop = nil
	t.connLock.Unlock()

	wasOpen := stop != nil
	if stop != nil {
		close(stop)
	}
	t.setState(StateDisconnected)

	var closeErr error
	if conn != nil {
		t.writeLock.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeLock.Unlock()
		closeErr = conn.Close()
	}

	t.wg.Wait()
	t.failPending(ErrConnectionClosed)

	t.handlersLock.Lock()
	t.handlers = make(map[EventName][]registration)
	t.handlersLock.Unlock()

	if wasOpen {
		log.Info().Msg("Hub disconnected")
		t.notifyClosed(nil)
	}
	if closeErr != nil {
		return fmt.Errorf("hub close: %w", closeErr)
	}
	return nil
}

// On registers handler for the named event and returns its id. Handlers are attached to the
// transport, not the socket, so they survive reconnects. Ignored while disconnected.
func (t *Transport) On(name EventName, handler Handler) HandlerID {
	if t.State() == StateDisconnected {
		log.Warn().Str("event", string(name)).Msg("Hub not connected, handler not registered")
		return 0
	}

	id := HandlerID(t.nextID.Add(1))
	t.handlersLock.Lock()
	t.handlers[name] = append(t.handlers[name], registration{id: id, handler: handler})
	t.handlersLock.Unlock()
	return id
}

// Off removes the given handlers for name, or every handler for name when ids is empty.
// Ignored while disconnected.
func (t *Transport) Off(name EventName, ids ...HandlerID) {
	if t.State() == StateDisconnected {
		log.Warn().Str("event", string(name)).Msg("Hub not connected, handler not removed")
		return
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	if len(ids) == 0 {
		delete(t.handlers, name)
		return
	}

	remove := make(map[HandlerID]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	kept := t.handlers[name][:0]
	for _, reg := range t.handlers[name] {
		if _, ok := remove[reg.id]; !ok {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(t.handlers, name)
		return
	}
	t.handlers[name] = kept
}

// HandlerCount returns how many handlers are registered for name
func (t *Transport) HandlerCount(name EventName) int {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers[name])
}

// Subscribe registers a handler typed by its event; the name comes from E
func Subscribe[E Event](t *Transport, handler func(E)) HandlerID {
	var zero E
	return t.On(zero.EventName(), func(ev Event) {
		if typed, ok := ev.(E); ok {
			handler(typed)
		}
	})
}

// AddLifecycleHooks registers connection lifecycle observers and returns a func removing them
func (t *Transport) AddLifecycleHooks(hooks LifecycleHooks) (remove func()) {
	t.hooksLock.Lock()
	t.nextHook++
	id := t.nextHook
	t.hooks[id] = hooks
	t.hooksLock.Unlock()

	return func() {
		t.hooksLock.Lock()
		delete(t.hooks, id)
		t.hooksLock.Unlock()
	}
}

// Invoke calls a hub method and waits for its completion
func (t *Transport) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if !t.IsConnected() {
		return nil, fmt.Errorf("invoke %s: %w", method, ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	msg, err := NewInvocation(id, method, args...)
	if err != nil {
		return nil, err
	}

	ch := make(chan invocationResult, 1)
	t.pendingLock.Lock()
	t.pending[id] = ch
	t.pendingLock.Unlock()
	defer func() {
		t.pendingLock.Lock()
		delete(t.pending, id)
		t.pendingLock.Unlock()
	}()

	if err := t.write(msg); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("invoke %s: %w", method, res.err)
		}
		if res.msg.Error != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvocationFailed, method, res.msg.Error)
		}
		return res.msg.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send calls a hub method without waiting for a result
func (t *Transport) Send(method string, args ...any) error {
	if !t.IsConnected() {
		return fmt.Errorf("send %s: %w", method, ErrNotConnected)
	}

	msg, err := NewInvocation("", method, args...)
	if err != nil {
		return err
	}
	if err := t.write(msg); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// dial opens a socket with the current token. A handshake rejected with 401 is retried
// once when the token source can recover from a rejected token.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := t.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("hub handshake token: %w", err)
	}

	conn, status, err := t.dialWithToken(ctx, token.Type(), token.AccessToken)
	reauth, ok := t.tokens.(Reauthenticator)
	if err == nil || status != http.StatusUnauthorized || !ok {
		return conn, err
	}

	log.Debug().Msg("Hub handshake unauthorized, retrying with a refreshed token")
	refreshed, rerr := reauth.HandleUnauthorized(ctx, token.AccessToken)
	if rerr != nil {
		return nil, fmt.Errorf("hub handshake: %w", rerr)
	}
	conn, _, err = t.dialWithToken(ctx, token.Type(), refreshed)
	return conn, err
}

func (t *Transport) dialWithToken(ctx context.Context, tokenType, accessToken string) (*websocket.Conn, int, error) {
	header := http.Header{}
	header.Set("Authorization", tokenType+" "+accessToken)

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, resp.StatusCode, fmt.Errorf("hub dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, 0, fmt.Errorf("hub dial failed: %w", err)
	}
	return conn, http.StatusSwitchingProtocols, nil
}

func (t *Transport) write(msg Message) error {
	t.connLock.RLock()
	conn := t.conn
	t.connLock.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) readLoop(conn *websocket.Conn, stop chan struct{}) {
	defer t.wg.Done()

	if t.pingInterval > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * t.pingInterval))
		})
	}

	for {
		if t.pingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * t.pingInterval))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connectionLost(conn, stop, err)
			return
		}
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Err(err).Msg("Failed to parse hub message")
		return
	}

	switch msg.Type {
	case MessageCompletion:
		t.pendingLock.Lock()
		ch := t.pending[msg.InvocationID]
		delete(t.pending, msg.InvocationID)
		t.pendingLock.Unlock()
		if ch != nil {
			ch <- invocationResult{msg: msg}
		}

	case MessageEvent:
		name := EventName(msg.Target)
		metrics.HubEventsReceived.WithLabelValues(msg.Target).Inc()
		ev, err := DecodeEvent(name, msg.Arguments)
		if err != nil {
			log.Err(err).Str("event", msg.Target).Msg("Failed to decode hub event")
			return
		}
		t.deliver(name, ev)

	case MessagePing:
		// keep-alive

	default:
		log.Debug().Str("type", string(msg.Type)).Msg("Unknown hub message type")
	}
}

func (t *Transport) deliver(name EventName, ev Event) {
	t.handlersLock.RLock()
	regs := append([]registration(nil), t.handlers[name]...)
	t.handlersLock.RUnlock()

	for _, reg := range regs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("event", string(name)).Msg("Recovered from panic in hub handler")
				}
			}()
			reg.handler(ev)
		}()
	}
}

func (t *Transport) pingLoop(stop chan struct{}) {
	defer t.wg.Done()
	if t.pingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.connLock.RLock()
			conn := t.conn
			t.connLock.RUnlock()
			if conn == nil {
				continue
			}

			t.writeLock.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			t.writeLock.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("Hub keep-alive failed")
			}
		}
	}
}

// connectionLost runs on the read goroutine of a dead connection. Unless the loss was an
// explicit Disconnect it drives the reconnect schedule.
func (t *Transport) connectionLost(conn *websocket.Conn, stop chan struct{}, cause error) {
	select {
	case <-stop:
		return
	default:
	}

	t.connLock.Lock()
	if t.conn != conn {
		t.connLock.Unlock()
		return
	}
	t.conn = nil
	t.connLock.Unlock()
	_ = conn.Close()

	t.setState(StateReconnecting)
	t.failPending(ErrConnectionClosed)

	log.Warn().Err(cause).Msg("Hub connection lost, reconnecting")
	t.notifyReconnecting(cause)
	t.reconnect(stop)
}

func (t *Transport) reconnect(stop chan struct{}) {
	started := time.Now()

	for attempt := 0; ; attempt++ {
		delay, ok := t.policy.NextDelay(attempt, time.Since(started))
		if !ok {
			t.reconnectExhausted(stop)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := stopContext(stop, t.handshakeTimeout)
		conn, err := t.dial(ctx)
		cancel()
		if err != nil {
			metrics.HubReconnectAttempts.WithLabelValues("failure").Inc()
			log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Hub reconnect attempt failed")
			continue
		}

		t.connLock.Lock()
		select {
		case <-stop:
			t.connLock.Unlock()
			_ = conn.Close()
			return
		default:
		}
		t.conn = conn
		t.wg.Add(1)
		go t.readLoop(conn, stop)
		t.connLock.Unlock()
		t.setState(StateConnected)

		metrics.HubReconnectAttempts.WithLabelValues("success").Inc()
		log.Info().Int("attempt", attempt).Msg("Hub reconnected")
		t.notifyReconnected()
		return
	}
}

func (t *Transport) reconnectExhausted(stop chan struct{}) {
	t.connLock.Lock()
	select {
	case <-stop:
		t.connLock.Unlock()
		return
	default:
	}
	if t.stop == stop {
		t.stop = nil
		close(stop) // stops the ping loop
	}
	t.connLock.Unlock()
	t.setState(StateDisconnected)

	// The connection is gone for good; a later Connect starts with no handlers
	t.handlersLock.Lock()
	t.handlers = make(map[EventName][]registration)
	t.handlersLock.Unlock()

	metrics.HubReconnectAttempts.WithLabelValues("exhausted").Inc()
	log.Error().Dur("max_elapsed", t.policy.MaxElapsed).Msg("Hub reconnection exhausted, connection lost")
	t.notifyClosed(ErrReconnectExhausted)
}

// stopContext returns a context cancelled by stop or after timeout
func stopContext(stop chan struct{}, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (t *Transport) failPending(err error) {
	t.pendingLock.Lock()
	defer t.pendingLock.Unlock()

	for id, ch := range t.pending {
		select {
		case ch <- invocationResult{err: err}:
		default:
		}
		delete(t.pending, id)
	}
}

func (t *Transport) lifecycleHooks() []LifecycleHooks {
	t.hooksLock.RLock()
	defer t.hooksLock.RUnlock()

	hooks := make([]LifecycleHooks, 0, len(t.hooks))
	for _, h := range t.hooks {
		hooks = append(hooks, h)
	}
	return hooks
}

func (t *Transport) notifyReconnecting(err error) {
	for _, h := range t.lifecycleHooks() {
		if h.Reconnecting != nil {
			h.Reconnecting(err)
		}
	}
}

func (t *Transport) notifyReconnected() {
	for _, h := range t.lifecycleHooks() {
		if h.Reconnected != nil {
			h.Reconnected()
		}
	}
}

func (t *Transport) notifyClosed(err error) {
	for _, h := range t.lifecycleHooks() {
		if h.Closed != nil {
			h.Closed(err)
		}
	}
}
