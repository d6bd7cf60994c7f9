package authority

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-collab-client/credentials"
	"github.com/jrsteele09/go-collab-client/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const defaultRefreshTimeout = 15 * time.Second

// Refresher exchanges a refresh token for a new credential pair.
// Implementations must not go through the Authority's own round tripper.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error)
}

// RefresherFunc adapts a function to the Refresher interface
type RefresherFunc func(ctx context.Context, refreshToken string) (credentials.Pair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	return f(ctx, refreshToken)
}

// TerminationListener is told when the credentials were dropped after an unrecoverable refresh failure
type TerminationListener func(err error)

// Authority owns the process-wide credential state. It decorates outgoing calls with the
// current access token and guarantees at most one refresh attempt is in flight at a time.
type Authority struct {
	store          credentials.Store
	refresher      Refresher
	refreshTimeout time.Duration

	ticketLock sync.Mutex
	ticket     *ticket

	listenersLock sync.RWMutex
	listeners     []TerminationListener
}

var _ oauth2.TokenSource = (*Authority)(nil)

type Option func(*Authority)

func WithRefreshTimeout(timeout time.Duration) Option {
	return func(a *Authority) {
		a.refreshTimeout = timeout
	}
}

func WithTerminationListener(listener TerminationListener) Option {
	return func(a *Authority) {
		a.listeners = append(a.listeners, listener)
	}
}

func New(store credentials.Store, refresher Refresher, options ...Option) *Authority {
	a := &Authority{
		store:     store,
		refresher: refresher,
	}

	for _, opt := range options {
		opt(a)
	}

	if a.refreshTimeout <= 0 {
		a.refreshTimeout = defaultRefreshTimeout
	}
	return a
}

// OnTerminated registers a listener for session termination
func (a *Authority) OnTerminated(listener TerminationListener) {
	a.listenersLock.Lock()
	defer a.listenersLock.Unlock()
	a.listeners = append(a.listeners, listener)
}

// Login stores a freshly issued pair, replacing whatever was there
func (a *Authority) Login(pair credentials.Pair) error {
	if err := a.store.Replace(pair); err != nil {
		return fmt.Errorf("Authority.Login: %w", err)
	}
	return nil
}

// Logout clears the stored pair. Listeners are not notified; logout is user initiated.
func (a *Authority) Logout() error {
	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("Authority.Logout: %w", err)
	}
	return nil
}

// AccessToken returns the current access token, or "" when none is stored
func (a *Authority) AccessToken() string {
	pair, err := a.store.Get()
	if err != nil {
		log.Err(err).Msg("Failed to read credentials")
		return ""
	}
	return pair.AccessToken
}

// Attach sets the bearer Authorization header from the store and returns the token used.
// The request is left untouched when no token exists.
func (a *Authority) Attach(req *http.Request) string {
	token := a.AccessToken()
	if token == "" {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return token
}

// Token implements oauth2.TokenSource so the hub can authenticate its handshake
func (a *Authority) Token() (*oauth2.Token, error) {
	pair, err := a.store.Get()
	if err != nil {
		return nil, fmt.Errorf("Authority.Token: %w", err)
	}
	if pair.AccessToken == "" {
		return nil, ErrNoCredentials
	}

	token := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, err := credentials.ExpiresAt(pair.AccessToken); err == nil {
		token.Expiry = exp
	}
	return token, nil
}

// HandleUnauthorized is called after a request made with tokenBeforeRequest failed with 401.
// It returns the access token the request should be retried with.
//
// If the stored token already moved on, no refresh happens. Otherwise the caller joins the
// outstanding refresh ticket, creating it if needed. A failed refresh is only terminal when
// the stored token is provably unchanged; then the store is cleared and ErrSessionTerminated
// is returned.
func (a *Authority) HandleUnauthorized(ctx context.Context, tokenBeforeRequest string) (string, error) {
	current, err := a.store.Get()
	if err != nil {
		return "", fmt.Errorf("Authority.HandleUnauthorized: %w", err)
	}
	if current.AccessToken != "" && current.AccessToken != tokenBeforeRequest {
		metrics.UnauthorizedRetries.WithLabelValues("concurrent").Inc()
		return current.AccessToken, nil
	}

	t, token, err := a.acquireTicket(tokenBeforeRequest)
	if err != nil {
		return "", err
	}
	if t == nil {
		metrics.UnauthorizedRetries.WithLabelValues("concurrent").Inc()
		return token, nil
	}

	if err := t.wait(ctx); err != nil {
		return "", err
	}

	latest, err := a.store.Get()
	if err != nil {
		return "", fmt.Errorf("Authority.HandleUnauthorized: %w", err)
	}

	if t.err == nil {
		metrics.UnauthorizedRetries.WithLabelValues("refreshed").Inc()
		if latest.AccessToken != "" {
			return latest.AccessToken, nil
		}
		return t.pair.AccessToken, nil
	}

	// Someone logged in while the refresh was failing
	if latest.AccessToken != "" && latest.AccessToken != tokenBeforeRequest {
		metrics.UnauthorizedRetries.WithLabelValues("concurrent").Inc()
		return latest.AccessToken, nil
	}
	return "", t.err
}

// acquireTicket returns the outstanding ticket, starting one if none exists. The store is
// re-read under the lock so a caller that raced a just-settled ticket picks up its result
// instead of starting a second refresh; in that case the ticket is nil and the token is set.
func (a *Authority) acquireTicket(tokenBeforeRequest string) (*ticket, string, error) {
	a.ticketLock.Lock()
	defer a.ticketLock.Unlock()

	if a.ticket != nil {
		return a.ticket, "", nil
	}

	current, err := a.store.Get()
	if err != nil {
		return nil, "", fmt.Errorf("Authority.acquireTicket: %w", err)
	}
	if current.AccessToken != "" && current.AccessToken != tokenBeforeRequest {
		return nil, current.AccessToken, nil
	}

	t := newTicket(current.AccessToken)
	a.ticket = t
	go a.runTicket(t, current.RefreshToken)
	return t, "", nil
}

// runTicket performs the refresh. It is detached from any single caller's context so one
// caller giving up does not fail the attempt for the others.
func (a *Authority) runTicket(t *ticket, refreshToken string) {
	defer func() {
		a.ticketLock.Lock()
		a.ticket = nil
		a.ticketLock.Unlock()
		close(t.done)
	}()

	err := a.refresh(t, refreshToken)
	if err == nil {
		return
	}

	// Clear only if nobody replaced the pair while we were refreshing
	cleared, clearErr := a.store.ReplaceIf(t.before, credentials.Pair{})
	if clearErr != nil {
		log.Err(clearErr).Msg("Failed to clear credentials after refresh failure")
	}
	if !cleared && clearErr == nil {
		log.Info().Msg("Refresh failed but credentials changed concurrently; keeping them")
		t.err = err
		return
	}

	t.err = fmt.Errorf("%w: %w", ErrSessionTerminated, err)
	log.Warn().Err(err).Msg("Credential refresh failed, session terminated")
	a.notifyTerminated(t.err)
}

func (a *Authority) refresh(t *ticket, refreshToken string) error {
	if refreshToken == "" {
		metrics.RefreshAttempts.WithLabelValues("failure").Inc()
		return ErrNoCredentials
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
	defer cancel()

	pair, err := a.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		metrics.RefreshAttempts.WithLabelValues("failure").Inc()
		return fmt.Errorf("refresh: %w", err)
	}
	t.pair = pair

	swapped, err := a.store.ReplaceIf(t.before, pair)
	if err != nil {
		metrics.RefreshAttempts.WithLabelValues("failure").Inc()
		return fmt.Errorf("store refreshed credentials: %w", err)
	}
	if !swapped {
		// A concurrent login won; its pair stays current
		metrics.RefreshAttempts.WithLabelValues("superseded").Inc()
		return nil
	}

	metrics.RefreshAttempts.WithLabelValues("success").Inc()
	log.Debug().Msg("Credentials refreshed")
	return nil
}

func (a *Authority) notifyTerminated(err error) {
	a.listenersLock.RLock()
	listeners := append([]TerminationListener(nil), a.listeners...)
	a.listenersLock.RUnlock()

	for _, l := range listeners {
		l(err)
	}
}
