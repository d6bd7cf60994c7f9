package collab_test

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jrsteele09/go-collab-client/api"
	"github.com/jrsteele09/go-collab-client/collab"
	"github.com/jrsteele09/go-collab-client/collabmodel"
	"github.com/jrsteele09/go-collab-client/hub"
	"github.com/jrsteele09/go-collab-client/hub/hubtest"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const waitFor = 3 * time.Second

var fastPolicy = hub.Policy{
	BaseDelay:  10 * time.Millisecond,
	MaxDelay:   40 * time.Millisecond,
	MaxElapsed: 2 * time.Second,
}

// backend fakes the collaboration REST API and hub. Hub connections are identified by the
// bearer token, which doubles as the user id.
type backend struct {
	rest *httptest.Server
	hub  *hubtest.Server

	lock         sync.Mutex
	sessions     map[string]string // resource key -> session id
	participants map[string]map[string]collabmodel.Participant
	members      map[string]map[*hubtest.Conn]string // session id -> conn -> user id
	joins        []string
	left         []string
	ended        []string
	joinCount    int
	createStatus int
	leaveStatus  int
	hubJoinError string
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{
		sessions:     make(map[string]string),
		participants: make(map[string]map[string]collabmodel.Participant),
		members:      make(map[string]map[*hubtest.Conn]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /collaboration/sessions", b.createSession)
	mux.HandleFunc("POST /collaboration/sessions/{id}/join", b.joinSession)
	mux.HandleFunc("POST /collaboration/sessions/{id}/leave", b.leaveSession)
	mux.HandleFunc("DELETE /collaboration/sessions/{id}", b.endSession)
	b.rest = httptest.NewServer(mux)
	b.hub = hubtest.NewServer(b.invoke)

	t.Cleanup(func() {
		b.hub.Close()
		b.rest.Close()
	})
	return b
}

func (b *backend) setCreateStatus(status int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.createStatus = status
}

func (b *backend) setLeaveStatus(status int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.leaveStatus = status
}

// setHubJoinError makes hub JoinSession calls fail with msg; empty restores them
func (b *backend) setHubJoinError(msg string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.hubJoinError = msg
}

func (b *backend) leftSessions() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]string(nil), b.left...)
}

func (b *backend) restJoins() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]string(nil), b.joins...)
}

func (b *backend) endedSessions() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]string(nil), b.ended...)
}

// addParticipant puts a user in the session without a hub connection
func (b *backend) addParticipant(sessionID, userID string) collabmodel.Participant {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.addParticipantLocked(sessionID, userID)
}

// removeParticipant drops a user from the session without telling anyone
func (b *backend) removeParticipant(sessionID, userID string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.participants[sessionID], userID)
}

func (b *backend) addParticipantLocked(sessionID, userID string) collabmodel.Participant {
	if b.participants[sessionID] == nil {
		b.participants[sessionID] = make(map[string]collabmodel.Participant)
	}
	if p, ok := b.participants[sessionID][userID]; ok {
		return p
	}
	b.joinCount++
	p := collabmodel.Participant{
		UserID:      userID,
		DisplayName: "User " + userID,
		Role:        collabmodel.RoleEditor,
		JoinedAt:    epoch.Add(time.Duration(b.joinCount) * time.Second),
	}
	b.participants[sessionID][userID] = p
	return p
}

func (b *backend) sortedParticipantsLocked(sessionID string) []collabmodel.Participant {
	out := make([]collabmodel.Participant, 0, len(b.participants[sessionID]))
	for _, p := range b.participants[sessionID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (b *backend) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResourceType collabmodel.ResourceType `json:"resourceType"`
		ResourceID   string                   `json:"resourceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if b.createStatus != 0 {
		writeJSON(w, b.createStatus, map[string]string{"message": "create rejected"})
		return
	}

	key := string(req.ResourceType) + "/" + req.ResourceID
	if id, ok := b.sessions[key]; ok {
		writeJSON(w, http.StatusConflict, map[string]string{"sessionId": id, "message": "session already active"})
		return
	}

	id := "session-" + strconv.Itoa(len(b.sessions)+1)
	b.sessions[key] = id
	writeJSON(w, http.StatusCreated, collabmodel.Session{
		SessionID:    id,
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		Status:       collabmodel.StatusActive,
	})
}

func (b *backend) joinSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.lock.Lock()
	b.joins = append(b.joins, id)
	count := len(b.participants[id])
	b.lock.Unlock()

	writeJSON(w, http.StatusOK, collabmodel.Session{SessionID: id, Status: collabmodel.StatusActive, ParticipantCount: count})
}

func (b *backend) leaveSession(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	b.left = append(b.left, r.PathValue("id"))
	status := b.leaveStatus
	b.lock.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"message": "leave failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *backend) endSession(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	b.ended = append(b.ended, r.PathValue("id"))
	b.lock.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// invoke answers hub calls. JoinSession syncs the caller before its completion is written,
// then announces the newcomer to the rest of the group.
func (b *backend) invoke(inv hubtest.Invocation) (any, string) {
	sessionID := inv.StringArg(0)
	userID := inv.Conn.Token

	switch inv.Target {
	case hub.MethodJoinSession:
		b.lock.Lock()
		if msg := b.hubJoinError; msg != "" {
			b.lock.Unlock()
			return nil, msg
		}
		_, existed := b.participants[sessionID][userID]
		joined := b.addParticipantLocked(sessionID, userID)
		if b.members[sessionID] == nil {
			b.members[sessionID] = make(map[*hubtest.Conn]string)
		}
		b.members[sessionID][inv.Conn] = userID
		synced := hub.SessionSynced{Participants: b.sortedParticipantsLocked(sessionID)}
		others := b.othersLocked(sessionID, inv.Conn)
		b.lock.Unlock()

		_ = inv.Conn.SendEvent(hub.EventSessionSynced, synced)
		if !existed {
			for _, c := range others {
				_ = c.SendEvent(hub.EventParticipantJoined, joined)
			}
		}

	case hub.MethodLeaveSession:
		b.lock.Lock()
		left, ok := b.participants[sessionID][userID]
		delete(b.participants[sessionID], userID)
		delete(b.members[sessionID], inv.Conn)
		others := b.othersLocked(sessionID, inv.Conn)
		b.lock.Unlock()

		if ok {
			for _, c := range others {
				_ = c.SendEvent(hub.EventParticipantLeft, left)
			}
		}
	}
	return nil, ""
}

func (b *backend) othersLocked(sessionID string, self *hubtest.Conn) []*hubtest.Conn {
	var out []*hubtest.Conn
	for c := range b.members[sessionID] {
		if c != self {
			out = append(out, c)
		}
	}
	return out
}

// client is one user's transport and coordinator against the backend
type client struct {
	transport   *hub.Transport
	coordinator *collab.Coordinator
}

func (b *backend) newClient(t *testing.T, userID string, policy hub.Policy, options ...collab.Option) *client {
	t.Helper()

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: userID})
	transport := hub.New(b.hub.URL(), tokens, hub.WithPolicy(policy))
	t.Cleanup(func() { _ = transport.Disconnect() })

	sessions := api.NewCollabClient(b.rest.URL, b.rest.Client())
	return &client{
		transport:   transport,
		coordinator: collab.NewCoordinator(transport, sessions, options...),
	}
}

func (c *client) participantIDs() []string {
	return userIDs(c.coordinator.Projection().Snapshot().Participants)
}

func requireParticipants(t *testing.T, c *client, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Equal(c.participantIDs(), want)
	}, waitFor, 5*time.Millisecond, "want participants %v", want)
}
