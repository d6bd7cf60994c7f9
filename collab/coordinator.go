package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-collab-client/api"
	"github.com/jrsteele09/go-collab-client/collabmodel"
	"github.com/jrsteele09/go-collab-client/hub"
	apperrors "github.com/jrsteele09/go-collab-client/internal/errors"
	"github.com/jrsteele09/go-collab-client/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultResyncTimeout = 10 * time.Second
	abandonTimeout       = 5 * time.Second
)

var (
	ErrCollabUnavailable    = apperrors.ErrCollabUnavailable
	ErrSessionActive        = apperrors.ErrSessionActive
	ErrNoActiveSession      = apperrors.ErrNoActiveSession
	ErrInvalidResourceInput = apperrors.ErrInvalidResourceInput
)

// SessionAPI is the REST surface the coordinator drives. *api.CollabClient implements it.
type SessionAPI interface {
	CreateSession(ctx context.Context, resourceType collabmodel.ResourceType, resourceID string) (*collabmodel.Session, error)
	JoinSession(ctx context.Context, sessionID string, role collabmodel.Role) (*collabmodel.Session, error)
	LeaveSession(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
}

// CommentsChangedFunc is called from the hub read goroutine when a comment was added to the
// session. It should trigger a refetch and must not block.
type CommentsChangedFunc func(sessionID string)

type subscription struct {
	name hub.EventName
	id   hub.HandlerID
}

// Coordinator turns "user opened resource X" into a joined collaboration session on a shared
// Transport. Start, Leave and End are serialized; cursor and typing sends never wait on them.
type Coordinator struct {
	transport  *hub.Transport
	sessions   SessionAPI
	projection *Projection

	joinRole        collabmodel.Role
	cursorLimiter   *rate.Limiter
	commentsChanged CommentsChangedFunc
	resyncTimeout   time.Duration

	lifecycleLock sync.Mutex

	stateLock     sync.RWMutex
	status        collabmodel.Status
	session       *collabmodel.Session
	resourceID    string
	resourceType  collabmodel.ResourceType
	registered    bool
	subscriptions []subscription
	removeHooks   func()
}

type Option func(*Coordinator)

func WithJoinRole(role collabmodel.Role) Option {
	return func(c *Coordinator) {
		c.joinRole = role
	}
}

// WithCursorRate caps outbound cursor updates per second; excess updates are dropped.
// Zero or less removes the cap.
func WithCursorRate(perSecond float64) Option {
	return func(c *Coordinator) {
		if perSecond <= 0 {
			c.cursorLimiter = nil
			return
		}
		c.cursorLimiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithCommentsChanged(fn CommentsChangedFunc) Option {
	return func(c *Coordinator) {
		c.commentsChanged = fn
	}
}

// WithResyncTimeout bounds the JoinSession call made after a reconnect
func WithResyncTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.resyncTimeout = timeout
	}
}

func NewCoordinator(transport *hub.Transport, sessions SessionAPI, options ...Option) *Coordinator {
	c := &Coordinator{
		transport:     transport,
		sessions:      sessions,
		projection:    NewProjection(),
		joinRole:      collabmodel.RoleEditor,
		cursorLimiter: rate.NewLimiter(20, 1),
		resyncTimeout: defaultResyncTimeout,
		status:        collabmodel.StatusNone,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Projection returns the state fed by this coordinator's hub handlers
func (c *Coordinator) Projection() *Projection {
	return c.projection
}

func (c *Coordinator) Status() collabmodel.Status {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.status
}

// Session returns a copy of the current session, or nil when none is open
func (c *Coordinator) Session() *collabmodel.Session {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	if c.session == nil {
		return nil
	}
	session := *c.session
	return &session
}

// Start opens a collaboration session on the resource: it connects the hub, creates the
// session (joining the existing one on conflict), registers the hub handlers and joins the
// hub group. Starting the resource that is already open returns the current session, first
// reattaching it when the hub connection was closed underneath it.
// On failure the coordinator is back to None and the error is returned.
func (c *Coordinator) Start(ctx context.Context, resourceID string, resourceType collabmodel.ResourceType) (*collabmodel.Session, error) {
	if resourceID == "" || resourceType == "" {
		return nil, ErrInvalidResourceInput
	}

	c.lifecycleLock.Lock()
	defer c.lifecycleLock.Unlock()

	c.stateLock.Lock()
	if c.status == collabmodel.StatusConnecting || c.status == collabmodel.StatusActive {
		sameResource := c.resourceID == resourceID && c.resourceType == resourceType
		current := c.resourceID
		registered := c.registered
		c.stateLock.Unlock()
		if !sameResource {
			return nil, fmt.Errorf("%w: %s", ErrSessionActive, current)
		}
		if registered {
			return c.Session(), nil
		}
		return c.rejoin(ctx)
	}
	ended := c.session != nil
	c.stateLock.Unlock()

	// The server ended the previous session and its teardown has not run yet
	if ended {
		c.teardown()
	}

	c.stateLock.Lock()
	c.status = collabmodel.StatusConnecting
	c.resourceID = resourceID
	c.resourceType = resourceType
	c.stateLock.Unlock()

	session, err := c.start(ctx, resourceID, resourceType)
	if err != nil {
		log.Err(err).Str("resource_id", resourceID).Str("resource_type", string(resourceType)).Msg("Failed to start collaboration session")
		c.teardown()
		return nil, err
	}

	log.Info().Str("session_id", session.SessionID).Str("resource_id", resourceID).Msg("Collaboration session active")
	return session, nil
}

func (c *Coordinator) start(ctx context.Context, resourceID string, resourceType collabmodel.ResourceType) (*collabmodel.Session, error) {
	if err := c.transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollabUnavailable, err)
	}

	session, err := c.sessions.CreateSession(ctx, resourceType, resourceID)
	if err != nil {
		var conflict *api.ConflictError
		if !apperrors.As(err, &conflict) {
			return nil, err
		}
		log.Debug().Str("session_id", conflict.SessionID).Msg("Session already active, joining")
		if session, err = c.sessions.JoinSession(ctx, conflict.SessionID, c.joinRole); err != nil {
			return nil, err
		}
	}

	session.Status = collabmodel.StatusConnecting
	c.stateLock.Lock()
	c.session = session
	c.stateLock.Unlock()
	c.projection.SessionJoined(*session)

	if err := c.registerHandlers(); err != nil {
		c.abandon(ctx, session.SessionID)
		return nil, err
	}

	if _, err := c.transport.Invoke(ctx, hub.MethodJoinSession, session.SessionID); err != nil {
		c.abandon(ctx, session.SessionID)
		return nil, apperrors.Wrapf(err, "hub join %s", session.SessionID)
	}

	c.stateLock.Lock()
	c.status = collabmodel.StatusActive
	c.session.Status = collabmodel.StatusActive
	active := *c.session
	c.stateLock.Unlock()
	c.projection.SessionActivated()
	return &active, nil
}

// rejoin reattaches the active session after its transport was closed: it reconnects,
// registers the handlers again and rejoins the hub group, which replays SessionSynced.
// The session is kept when this fails so the caller can retry or leave.
func (c *Coordinator) rejoin(ctx context.Context) (*collabmodel.Session, error) {
	session := c.Session()
	if err := c.transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollabUnavailable, err)
	}
	if err := c.registerHandlers(); err != nil {
		c.unregisterHandlers()
		return nil, err
	}
	if _, err := c.transport.Invoke(ctx, hub.MethodJoinSession, session.SessionID); err != nil {
		c.unregisterHandlers()
		return nil, apperrors.Wrapf(err, "hub rejoin %s", session.SessionID)
	}

	c.projection.ConnectionChanged(collabmodel.ConnectionConnected)
	log.Info().Str("session_id", session.SessionID).Msg("Collaboration session reattached")
	return session, nil
}

// abandon leaves the server-side session after a failed start. Best effort: the caller's
// error is the one returned.
func (c *Coordinator) abandon(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	if err := c.sessions.LeaveSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to leave abandoned collaboration session")
	}
}

// registerHandlers attaches the hub handlers once per session. The lifecycle hooks survive
// a closed transport, so they are only added the first time.
func (c *Coordinator) registerHandlers() error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.registered {
		return nil
	}

	p := c.projection
	c.subscriptions = []subscription{
		{hub.EventSessionSynced, hub.Subscribe(c.transport, func(ev hub.SessionSynced) {
			p.SessionSynced(ev.Participants, ev.CursorPositions)
		})},
		{hub.EventParticipantJoined, hub.Subscribe(c.transport, func(ev hub.ParticipantJoined) {
			p.ParticipantJoined(ev.Participant)
		})},
		{hub.EventParticipantLeft, hub.Subscribe(c.transport, func(ev hub.ParticipantLeft) {
			p.ParticipantLeft(ev.UserID)
		})},
		{hub.EventSessionStatusChanged, hub.Subscribe(c.transport, func(ev hub.SessionStatusChanged) {
			p.SessionStatusChanged(ev.Status, ev.ParticipantCount)
			if ev.Status == collabmodel.StatusEnded {
				c.onSessionEnded()
			}
		})},
		{hub.EventCursorMoved, hub.Subscribe(c.transport, func(ev hub.CursorMoved) {
			p.CursorMoved(ev.CursorPosition)
		})},
		{hub.EventUserTyping, hub.Subscribe(c.transport, func(ev hub.UserTyping) {
			p.UserTyping(ev.UserID, ev.IsTyping)
		})},
		{hub.EventCommentAdded, hub.Subscribe(c.transport, func(hub.CommentAdded) {
			c.onCommentAdded()
		})},
	}
	for _, sub := range c.subscriptions {
		if sub.id == 0 {
			return fmt.Errorf("register %s handler: %w", sub.name, hub.ErrNotConnected)
		}
	}

	if c.removeHooks == nil {
		c.removeHooks = c.transport.AddLifecycleHooks(hub.LifecycleHooks{
			Reconnecting: c.onReconnecting,
			Reconnected:  c.onReconnected,
			Closed:       c.onClosed,
		})
	}
	c.registered = true
	return nil
}

// Leave leaves the session on the hub and the server, then always resets local state.
// Errors from either call are joined.
func (c *Coordinator) Leave(ctx context.Context) error {
	return c.close(ctx, "leave", c.sessions.LeaveSession)
}

// End closes the session for every participant, then always resets local state
func (c *Coordinator) End(ctx context.Context) error {
	return c.close(ctx, "end", c.sessions.EndSession)
}

func (c *Coordinator) close(ctx context.Context, op string, rest func(context.Context, string) error) error {
	c.lifecycleLock.Lock()
	defer c.lifecycleLock.Unlock()

	session := c.Session()
	if session == nil {
		return ErrNoActiveSession
	}
	defer c.teardown()

	var errs []error
	if _, err := c.transport.Invoke(ctx, hub.MethodLeaveSession, session.SessionID); err != nil {
		errs = append(errs, apperrors.Wrapf(err, "hub leave %s", session.SessionID))
	}
	if err := rest(ctx, session.SessionID); err != nil {
		errs = append(errs, err)
	}

	if err := apperrors.Join(errs...); err != nil {
		log.Warn().Err(err).Str("session_id", session.SessionID).Str("op", op).Msg("Collaboration session closed with errors")
		return err
	}
	log.Info().Str("session_id", session.SessionID).Str("op", op).Msg("Collaboration session closed")
	return nil
}

// teardown removes everything Start registered and resets the projection
func (c *Coordinator) teardown() {
	c.stateLock.Lock()
	removeHooks := c.removeHooks
	c.removeHooks = nil
	c.session = nil
	c.status = collabmodel.StatusNone
	c.resourceID = ""
	c.resourceType = ""
	c.stateLock.Unlock()

	if removeHooks != nil {
		removeHooks()
	}
	c.unregisterHandlers()
	c.projection.SessionLeft()
}

func (c *Coordinator) unregisterHandlers() {
	c.stateLock.Lock()
	subscriptions := c.subscriptions
	c.subscriptions = nil
	c.registered = false
	c.stateLock.Unlock()

	if c.transport.State() == hub.StateDisconnected {
		return
	}
	for _, sub := range subscriptions {
		if sub.id != 0 {
			c.transport.Off(sub.name, sub.id)
		}
	}
}

// UpdateCursorPosition sends the local cursor. Dropped silently unless the session is
// active and the hub connected, or when over the cursor rate.
func (c *Coordinator) UpdateCursorPosition(position collabmodel.Position) {
	sessionID, ok := c.sendableSession()
	if !ok {
		return
	}
	if c.cursorLimiter != nil && !c.cursorLimiter.Allow() {
		metrics.CursorUpdatesDropped.Inc()
		return
	}
	if err := c.transport.Send(hub.MethodUpdateCursorPosition, sessionID, position); err != nil {
		metrics.CursorUpdatesDropped.Inc()
		log.Debug().Err(err).Msg("Cursor update dropped")
	}
}

// NotifyTyping sends the local typing state; dropped silently like cursor updates
func (c *Coordinator) NotifyTyping(isTyping bool) {
	sessionID, ok := c.sendableSession()
	if !ok {
		return
	}
	if err := c.transport.Send(hub.MethodNotifyTyping, sessionID, isTyping); err != nil {
		log.Debug().Err(err).Msg("Typing notification dropped")
	}
}

func (c *Coordinator) sendableSession() (string, bool) {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	if c.status != collabmodel.StatusActive || c.session == nil || !c.transport.IsConnected() {
		return "", false
	}
	return c.session.SessionID, true
}

func (c *Coordinator) activeSessionID() (string, bool) {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	if c.status != collabmodel.StatusActive || c.session == nil {
		return "", false
	}
	return c.session.SessionID, true
}

func (c *Coordinator) isRegistered() bool {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.registered
}

func (c *Coordinator) onCommentAdded() {
	sessionID, ok := c.activeSessionID()
	if !ok || c.commentsChanged == nil {
		return
	}
	c.commentsChanged(sessionID)
}

// onSessionEnded runs on the read goroutine when the server ended the session. Sends stop
// at once; the teardown waits for the lifecycle lock on its own goroutine.
func (c *Coordinator) onSessionEnded() {
	c.stateLock.Lock()
	if c.status != collabmodel.StatusActive || c.session == nil {
		c.stateLock.Unlock()
		return
	}
	c.status = collabmodel.StatusEnded
	c.session.Status = collabmodel.StatusEnded
	sessionID := c.session.SessionID
	c.stateLock.Unlock()

	log.Info().Str("session_id", sessionID).Msg("Collaboration session ended by the server")
	go c.teardownEnded(sessionID)
}

func (c *Coordinator) teardownEnded(sessionID string) {
	c.lifecycleLock.Lock()
	defer c.lifecycleLock.Unlock()

	c.stateLock.RLock()
	ended := c.status == collabmodel.StatusEnded && c.session != nil && c.session.SessionID == sessionID
	c.stateLock.RUnlock()
	if ended {
		c.teardown()
	}
}

func (c *Coordinator) onReconnecting(error) {
	if _, ok := c.activeSessionID(); ok {
		c.projection.ConnectionChanged(collabmodel.ConnectionReconnecting)
	}
}

// onReconnected rejoins the hub group so the server replays SessionSynced. It runs on the
// transport's reconnect path, so the invoke happens on its own goroutine.
func (c *Coordinator) onReconnected() {
	sessionID, ok := c.activeSessionID()
	if !ok || !c.isRegistered() {
		return
	}
	go c.resync(sessionID)
}

func (c *Coordinator) resync(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.resyncTimeout)
	defer cancel()

	if _, err := c.transport.Invoke(ctx, hub.MethodJoinSession, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to resync collaboration session")
		return
	}
	if current, ok := c.activeSessionID(); ok && current == sessionID {
		c.projection.ConnectionChanged(collabmodel.ConnectionConnected)
		log.Info().Str("session_id", sessionID).Msg("Collaboration session resynced")
	}
}

// onClosed runs when the transport gave up or was disconnected. The transport has dropped
// every handler, so the next Start of the same resource reattaches the session.
func (c *Coordinator) onClosed(err error) {
	c.stateLock.Lock()
	c.registered = false
	c.subscriptions = nil
	active := c.status == collabmodel.StatusActive
	c.stateLock.Unlock()

	if active {
		log.Warn().Err(err).Msg("Collaboration unavailable")
		c.projection.ConnectionChanged(collabmodel.ConnectionUnavailable)
	}
}
