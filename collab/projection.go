package collab

import (
	"sort"
	"sync"

	"github.com/jrsteele09/go-collab-client/collabmodel"
	"github.com/jrsteele09/go-collab-client/internal/utils"
)

// Snapshot is a point-in-time copy of the projection. It shares nothing with the projection.
type Snapshot struct {
	Session      *collabmodel.Session
	Status       collabmodel.Status
	Connection   collabmodel.ConnectionState
	Participants []collabmodel.Participant // sorted by JoinedAt, then UserID
	Cursors      map[string]collabmodel.CursorPosition
	Typing       []string // sorted user ids
}

// Participant returns the participant with userID, if present
func (s Snapshot) Participant(userID string) (collabmodel.Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return collabmodel.Participant{}, false
}

// Listener is notified with a fresh snapshot after every transition. Listeners must not call
// back into the projection's transitions.
type Listener func(Snapshot)

// Projection is the client-side view of one collaboration session, rebuilt from the ordered
// hub event stream. It changes only through its named transitions. Every cursor entry
// belongs to a current participant. Without a joined session every event transition is
// ignored, so events still in flight after SessionLeft cannot repopulate it.
type Projection struct {
	lock         sync.RWMutex
	session      *collabmodel.Session
	status       collabmodel.Status
	connection   collabmodel.ConnectionState
	participants map[string]collabmodel.Participant
	cursors      map[string]collabmodel.CursorPosition
	typing       map[string]struct{}

	listenersLock sync.RWMutex
	listeners     map[uint64]Listener
	nextListener  uint64
}

func NewProjection() *Projection {
	p := &Projection{listeners: make(map[uint64]Listener)}
	p.reset()
	return p
}

func (p *Projection) reset() {
	p.session = nil
	p.status = collabmodel.StatusNone
	p.connection = collabmodel.ConnectionConnected
	p.participants = make(map[string]collabmodel.Participant)
	p.cursors = make(map[string]collabmodel.CursorPosition)
	p.typing = make(map[string]struct{})
}

// Subscribe registers a change listener and returns a func removing it
func (p *Projection) Subscribe(listener Listener) (unsubscribe func()) {
	p.listenersLock.Lock()
	p.nextListener++
	id := p.nextListener
	p.listeners[id] = listener
	p.listenersLock.Unlock()

	return func() {
		p.listenersLock.Lock()
		delete(p.listeners, id)
		p.listenersLock.Unlock()
	}
}

// Snapshot returns a deep copy of the current state
func (p *Projection) Snapshot() Snapshot {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.snapshotLocked()
}

func (p *Projection) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:       p.status,
		Connection:   p.connection,
		Participants: make([]collabmodel.Participant, 0, len(p.participants)),
		Cursors:      make(map[string]collabmodel.CursorPosition, len(p.cursors)),
		Typing:       make([]string, 0, len(p.typing)),
	}
	if p.session != nil {
		session := *p.session
		snap.Session = &session
	}

	for _, participant := range p.participants {
		snap.Participants = append(snap.Participants, participant)
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		a, b := snap.Participants[i], snap.Participants[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})

	for userID, cursor := range p.cursors {
		snap.Cursors[userID] = copyCursor(cursor)
	}

	for userID := range p.typing {
		snap.Typing = append(snap.Typing, userID)
	}
	sort.Strings(snap.Typing)
	return snap
}

// apply runs mutate under the write lock and notifies listeners when it reports a change
func (p *Projection) apply(mutate func() bool) {
	p.lock.Lock()
	changed := mutate()
	var snap Snapshot
	if changed {
		snap = p.snapshotLocked()
	}
	p.lock.Unlock()

	if !changed {
		return
	}

	p.listenersLock.RLock()
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.listenersLock.RUnlock()

	for _, l := range listeners {
		l(snap)
	}
}

// SessionJoined records the session the client is joining. Participants and cursors are
// left empty until the hub sends SessionSynced.
func (p *Projection) SessionJoined(session collabmodel.Session) {
	p.apply(func() bool {
		p.session = &session
		p.status = session.Status
		p.connection = collabmodel.ConnectionConnected
		return true
	})
}

// SessionActivated marks the joined session Active once the hub acknowledged the join
func (p *Projection) SessionActivated() {
	p.apply(func() bool {
		if p.session == nil {
			return false
		}
		p.status = collabmodel.StatusActive
		p.session.Status = collabmodel.StatusActive
		return true
	})
}

// SessionLeft resets the projection to its empty state
func (p *Projection) SessionLeft() {
	p.apply(func() bool {
		p.reset()
		return true
	})
}

// SessionSynced replaces participants and cursors wholesale. Cursors and typing entries for
// users outside the new participant set are dropped.
func (p *Projection) SessionSynced(participants []collabmodel.Participant, cursors []collabmodel.CursorPosition) {
	p.apply(func() bool {
		if p.session == nil {
			return false
		}
		p.participants = make(map[string]collabmodel.Participant, len(participants))
		for _, participant := range participants {
			p.participants[participant.UserID] = participant
		}

		p.cursors = make(map[string]collabmodel.CursorPosition, len(cursors))
		for _, cursor := range cursors {
			if _, ok := p.participants[cursor.UserID]; ok {
				p.cursors[cursor.UserID] = copyCursor(cursor)
			}
		}

		for userID := range p.typing {
			if _, ok := p.participants[userID]; !ok {
				delete(p.typing, userID)
			}
		}

		p.session.ParticipantCount = len(p.participants)
		return true
	})
}

// ParticipantJoined adds a participant. Joining twice keeps the first entry.
func (p *Projection) ParticipantJoined(participant collabmodel.Participant) {
	p.apply(func() bool {
		if p.session == nil {
			return false
		}
		if _, ok := p.participants[participant.UserID]; ok {
			return false
		}
		p.participants[participant.UserID] = participant
		return true
	})
}

// ParticipantLeft removes a participant along with its cursor and typing state
func (p *Projection) ParticipantLeft(userID string) {
	p.apply(func() bool {
		if _, ok := p.participants[userID]; !ok {
			return false
		}
		delete(p.participants, userID)
		delete(p.cursors, userID)
		delete(p.typing, userID)
		return true
	})
}

func (p *Projection) SessionStatusChanged(status collabmodel.Status, participantCount int) {
	p.apply(func() bool {
		if p.session == nil {
			return false
		}
		p.status = status
		p.session.Status = status
		p.session.ParticipantCount = participantCount
		return true
	})
}

// CursorMoved upserts a cursor entry (last write wins). Cursors of unknown participants
// are ignored.
func (p *Projection) CursorMoved(cursor collabmodel.CursorPosition) {
	p.apply(func() bool {
		if _, ok := p.participants[cursor.UserID]; !ok {
			return false
		}
		p.cursors[cursor.UserID] = copyCursor(cursor)
		return true
	})
}

func (p *Projection) UserTyping(userID string, isTyping bool) {
	p.apply(func() bool {
		if _, ok := p.participants[userID]; !ok {
			return false
		}
		_, was := p.typing[userID]
		if was == isTyping {
			return false
		}
		if isTyping {
			p.typing[userID] = struct{}{}
		} else {
			delete(p.typing, userID)
		}
		return true
	})
}

// ConnectionChanged records the hub connectivity shown alongside the session
func (p *Projection) ConnectionChanged(state collabmodel.ConnectionState) {
	p.apply(func() bool {
		if p.session == nil || p.connection == state {
			return false
		}
		p.connection = state
		return true
	})
}

func copyCursor(cursor collabmodel.CursorPosition) collabmodel.CursorPosition {
	cursor.Position.SelectionStart = utils.Clone(cursor.Position.SelectionStart)
	cursor.Position.SelectionEnd = utils.Clone(cursor.Position.SelectionEnd)
	return cursor
}
