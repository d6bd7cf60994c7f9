package main

import (
	"net/http"

	"github.com/jrsteele09/go-collab-client/api"
	"github.com/jrsteele09/go-collab-client/authority"
	"github.com/jrsteele09/go-collab-client/collab"
	"github.com/jrsteele09/go-collab-client/collabmodel"
	"github.com/jrsteele09/go-collab-client/credentials/badgerstore"
	"github.com/jrsteele09/go-collab-client/hub"
	"github.com/jrsteele09/go-collab-client/internal/config"
	"github.com/rs/zerolog/log"
)

var _ hub.Reauthenticator = (*authority.Authority)(nil)

// runtime holds the process-wide services. There is one store, one authority and one
// transport per process; every coordinator shares them.
type runtime struct {
	store     *badgerstore.Store
	auth      *api.AuthClient
	authority *authority.Authority
	collab    *api.CollabClient
	transport *hub.Transport
}

func openRuntime(c config.Config) (*runtime, error) {
	store, err := badgerstore.Open(c.GetCredentialsDir())
	if err != nil {
		return nil, err
	}

	// Auth calls bypass the authority so a failing refresh cannot recurse
	auth := api.NewAuthClient(c.GetAPIBaseURL(), &http.Client{Timeout: c.GetHTTPTimeout()})

	a := authority.New(store, auth, authority.WithRefreshTimeout(c.GetRefreshTimeout()))
	a.OnTerminated(func(err error) {
		log.Warn().Err(err).Msg("Session expired, run collabctl login")
	})

	authenticated := &http.Client{
		Timeout:   c.GetHTTPTimeout(),
		Transport: a.RoundTripper(http.DefaultTransport),
	}

	transport := hub.New(c.GetHubURL(), a,
		hub.WithPolicy(hub.Policy{
			BaseDelay:  c.GetReconnectBaseDelay(),
			MaxDelay:   c.GetReconnectMaxDelay(),
			MaxElapsed: c.GetReconnectMaxElapsed(),
		}),
		hub.WithHandshakeTimeout(c.GetHandshakeTimeout()),
		hub.WithPingInterval(c.GetPingInterval()),
	)

	return &runtime{
		store:     store,
		auth:      auth,
		authority: a,
		collab:    api.NewCollabClient(c.GetAPIBaseURL(), authenticated),
		transport: transport,
	}, nil
}

func (r *runtime) newCoordinator(c config.Config, options ...collab.Option) *collab.Coordinator {
	options = append([]collab.Option{
		collab.WithJoinRole(collabmodel.Role(c.GetDefaultJoinRole())),
		collab.WithCursorRate(c.GetCursorUpdatesPerSecond()),
	}, options...)
	return collab.NewCoordinator(r.transport, r.collab, options...)
}

func (r *runtime) Close() {
	if err := r.transport.Disconnect(); err != nil {
		log.Err(err).Msg("Failed to disconnect hub")
	}
	if err := r.store.Close(); err != nil {
		log.Err(err).Msg("Failed to close credential store")
	}
}
