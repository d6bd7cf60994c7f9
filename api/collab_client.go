package api

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-collab-client/collabmodel"
	"github.com/pkg/errors"
)

type createSessionRequest struct {
	ResourceType collabmodel.ResourceType `json:"resourceType"`
	ResourceID   string                   `json:"resourceId"`
}

type joinSessionRequest struct {
	Role collabmodel.Role `json:"role"`
}

// CollabClient calls the collaboration session endpoints. Its http.Client is expected to
// carry the Authority's round tripper so every call is authenticated.
type CollabClient struct {
	base
}

func NewCollabClient(baseURL string, httpClient *http.Client) *CollabClient {
	return &CollabClient{base: newBase(baseURL, httpClient)}
}

// CreateSession starts a session on a resource. If one is already active the returned
// error is a *ConflictError carrying its id.
func (c *CollabClient) CreateSession(ctx context.Context, resourceType collabmodel.ResourceType, resourceID string) (*collabmodel.Session, error) {
	var session collabmodel.Session
	req := createSessionRequest{ResourceType: resourceType, ResourceID: resourceID}
	if err := c.do(ctx, http.MethodPost, "/collaboration/sessions", req, &session); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, conflict
		}
		return nil, errors.Wrap(err, "CollabClient.CreateSession")
	}
	return &session, nil
}

func (c *CollabClient) JoinSession(ctx context.Context, sessionID string, role collabmodel.Role) (*collabmodel.Session, error) {
	var session collabmodel.Session
	path := "/collaboration/sessions/" + escape(sessionID) + "/join"
	if err := c.do(ctx, http.MethodPost, path, joinSessionRequest{Role: role}, &session); err != nil {
		return nil, errors.Wrap(err, "CollabClient.JoinSession")
	}
	return &session, nil
}

func (c *CollabClient) LeaveSession(ctx context.Context, sessionID string) error {
	path := "/collaboration/sessions/" + escape(sessionID) + "/leave"
	return errors.Wrap(c.do(ctx, http.MethodPost, path, nil, nil), "CollabClient.LeaveSession")
}

// EndSession closes the session for everyone. Only owners and admins may call it.
func (c *CollabClient) EndSession(ctx context.Context, sessionID string) error {
	path := "/collaboration/sessions/" + escape(sessionID)
	return errors.Wrap(c.do(ctx, http.MethodDelete, path, nil, nil), "CollabClient.EndSession")
}
