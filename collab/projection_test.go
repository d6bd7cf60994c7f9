package collab_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-collab-client/collab"
	"github.com/jrsteele09/go-collab-client/collabmodel"
	"github.com/jrsteele09/go-collab-client/internal/utils"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func participant(userID string, joinedOffset int) collabmodel.Participant {
	return collabmodel.Participant{
		UserID:      userID,
		DisplayName: "User " + userID,
		Role:        collabmodel.RoleEditor,
		JoinedAt:    epoch.Add(time.Duration(joinedOffset) * time.Second),
	}
}

func cursor(userID string, line, column int) collabmodel.CursorPosition {
	return collabmodel.CursorPosition{
		UserID:    userID,
		Position:  collabmodel.Position{Line: line, Column: column},
		UpdatedAt: epoch,
	}
}

func userIDs(participants []collabmodel.Participant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func joinedProjection() *collab.Projection {
	p := collab.NewProjection()
	p.SessionJoined(collabmodel.Session{
		SessionID:    "s1",
		ResourceID:   "doc-1",
		ResourceType: collabmodel.ResourceDocument,
		Status:       collabmodel.StatusConnecting,
	})
	return p
}

func TestProjection_Convergence(t *testing.T) {
	p := joinedProjection()

	p.ParticipantJoined(participant("u1", 0))
	p.CursorMoved(cursor("u1", 3, 7))
	p.ParticipantLeft("u1")

	snap := p.Snapshot()
	require.Empty(t, snap.Participants)
	require.Empty(t, snap.Cursors)
}

func TestProjection_ParticipantJoinedIsIdempotent(t *testing.T) {
	p := joinedProjection()

	first := participant("u1", 0)
	p.ParticipantJoined(first)
	again := participant("u1", 5)
	again.DisplayName = "Renamed"
	p.ParticipantJoined(again)

	snap := p.Snapshot()
	require.Len(t, snap.Participants, 1)
	require.Equal(t, first, snap.Participants[0])
}

func TestProjection_CursorOfUnknownParticipantIgnored(t *testing.T) {
	p := joinedProjection()
	p.ParticipantJoined(participant("u1", 0))

	p.CursorMoved(cursor("ghost", 1, 1))
	p.CursorMoved(cursor("u1", 1, 1))
	p.CursorMoved(cursor("u1", 2, 4))

	snap := p.Snapshot()
	require.Len(t, snap.Cursors, 1)
	require.Equal(t, collabmodel.Position{Line: 2, Column: 4}, snap.Cursors["u1"].Position)
}

func TestProjection_SessionSyncedReplacesState(t *testing.T) {
	p := joinedProjection()
	p.ParticipantJoined(participant("u1", 0))
	p.ParticipantJoined(participant("stale", 1))
	p.CursorMoved(cursor("stale", 9, 9))
	p.UserTyping("stale", true)

	p.SessionSynced(
		[]collabmodel.Participant{participant("u2", 2), participant("u1", 0)},
		[]collabmodel.CursorPosition{cursor("u2", 1, 2), cursor("stale", 4, 4)},
	)

	snap := p.Snapshot()
	require.Equal(t, []string{"u1", "u2"}, userIDs(snap.Participants))
	require.Len(t, snap.Cursors, 1)
	require.Contains(t, snap.Cursors, "u2")
	require.Empty(t, snap.Typing)
	require.Equal(t, 2, snap.Session.ParticipantCount)
}

func TestProjection_Lifecycle(t *testing.T) {
	p := joinedProjection()

	snap := p.Snapshot()
	require.Equal(t, collabmodel.StatusConnecting, snap.Status)
	require.Equal(t, "s1", snap.Session.SessionID)

	p.SessionActivated()
	require.Equal(t, collabmodel.StatusActive, p.Snapshot().Status)
	require.Equal(t, collabmodel.StatusActive, p.Snapshot().Session.Status)

	p.SessionStatusChanged(collabmodel.StatusEnded, 0)
	snap = p.Snapshot()
	require.Equal(t, collabmodel.StatusEnded, snap.Status)
	require.Zero(t, snap.Session.ParticipantCount)

	p.ParticipantJoined(participant("u1", 0))
	p.ConnectionChanged(collabmodel.ConnectionReconnecting)
	p.SessionLeft()

	snap = p.Snapshot()
	require.Nil(t, snap.Session)
	require.Equal(t, collabmodel.StatusNone, snap.Status)
	require.Equal(t, collabmodel.ConnectionConnected, snap.Connection)
	require.Empty(t, snap.Participants)
}

func TestProjection_Typing(t *testing.T) {
	p := joinedProjection()
	p.ParticipantJoined(participant("u2", 1))
	p.ParticipantJoined(participant("u1", 0))

	p.UserTyping("u2", true)
	p.UserTyping("u1", true)
	p.UserTyping("nobody", true)
	require.Equal(t, []string{"u1", "u2"}, p.Snapshot().Typing)

	p.UserTyping("u1", false)
	require.Equal(t, []string{"u2"}, p.Snapshot().Typing)

	p.ParticipantLeft("u2")
	require.Empty(t, p.Snapshot().Typing)
}

func TestProjection_SnapshotIsDeepCopy(t *testing.T) {
	p := joinedProjection()
	p.ParticipantJoined(participant("u1", 0))
	moved := cursor("u1", 1, 1)
	moved.Position.SelectionStart = utils.Ptr(3)
	moved.Position.SelectionEnd = utils.Ptr(8)
	p.CursorMoved(moved)

	snap := p.Snapshot()
	*snap.Cursors["u1"].Position.SelectionStart = 100
	snap.Session.SessionID = "changed"
	snap.Participants[0].DisplayName = "changed"

	again := p.Snapshot()
	require.Equal(t, 3, *again.Cursors["u1"].Position.SelectionStart)
	require.Equal(t, "s1", again.Session.SessionID)
	require.Equal(t, "User u1", again.Participants[0].DisplayName)

	got, ok := again.Participant("u1")
	require.True(t, ok)
	require.Equal(t, "u1", got.UserID)
	_, ok = again.Participant("u2")
	require.False(t, ok)
}

func TestProjection_Subscribe(t *testing.T) {
	p := joinedProjection()

	var seen []int
	unsubscribe := p.Subscribe(func(s collab.Snapshot) {
		seen = append(seen, len(s.Participants))
	})

	p.ParticipantJoined(participant("u1", 0))
	p.ParticipantJoined(participant("u1", 0)) // no change, no notification
	p.ParticipantJoined(participant("u2", 1))
	p.ParticipantLeft("u3") // unknown, no notification
	require.Equal(t, []int{1, 2}, seen)

	unsubscribe()
	p.ParticipantLeft("u1")
	require.Equal(t, []int{1, 2}, seen)
}

func TestProjection_EventsWithoutSessionIgnored(t *testing.T) {
	p := joinedProjection()
	p.SessionActivated()
	p.ParticipantJoined(participant("u1", 0))
	p.SessionLeft()

	var notified int
	p.Subscribe(func(collab.Snapshot) { notified++ })

	// Events already dispatched when the session was left
	p.ParticipantJoined(participant("ghost", 1))
	p.SessionStatusChanged(collabmodel.StatusActive, 3)
	p.SessionSynced([]collabmodel.Participant{participant("ghost", 1)}, []collabmodel.CursorPosition{cursor("ghost", 1, 1)})
	p.CursorMoved(cursor("ghost", 2, 2))
	p.UserTyping("ghost", true)
	p.ParticipantLeft("u1")
	p.ConnectionChanged(collabmodel.ConnectionUnavailable)

	snap := p.Snapshot()
	require.Nil(t, snap.Session)
	require.Equal(t, collabmodel.StatusNone, snap.Status)
	require.Equal(t, collabmodel.ConnectionConnected, snap.Connection)
	require.Empty(t, snap.Participants)
	require.Empty(t, snap.Cursors)
	require.Empty(t, snap.Typing)
	require.Zero(t, notified)

	t.Run("next session starts clean", func(t *testing.T) {
		p.SessionJoined(collabmodel.Session{SessionID: "s2", Status: collabmodel.StatusConnecting})
		snap := p.Snapshot()
		require.Equal(t, "s2", snap.Session.SessionID)
		require.Equal(t, collabmodel.StatusConnecting, snap.Status)
		require.Empty(t, snap.Participants)
	})
}
