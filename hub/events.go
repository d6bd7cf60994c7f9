package hub

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jrsteele09/go-collab-client/collabmodel"
)

// EventName is the target name of a server push
type EventName string

const (
	EventSessionSynced        EventName = "SessionSynced"
	EventParticipantJoined    EventName = "ParticipantJoined"
	EventParticipantLeft      EventName = "ParticipantLeft"
	EventSessionStatusChanged EventName = "SessionStatusChanged"
	EventCursorMoved          EventName = "CursorMoved"
	EventCommentAdded         EventName = "CommentAdded"
	EventUserTyping           EventName = "UserTyping"
)

// Outbound hub methods
const (
	MethodJoinSession          = "JoinSession"
	MethodLeaveSession         = "LeaveSession"
	MethodUpdateCursorPosition = "UpdateCursorPosition"
	MethodNotifyTyping         = "NotifyTyping"
)

// Event is a decoded server push. The concrete type is selected by EventName.
type Event interface {
	EventName() EventName
}

// SessionSynced is the full state of a session; it replaces the projection wholesale
type SessionSynced struct {
	Participants    []collabmodel.Participant    `json:"participants"`
	CursorPositions []collabmodel.CursorPosition `json:"cursorPositions"`
}

type ParticipantJoined struct {
	collabmodel.Participant
}

type ParticipantLeft struct {
	collabmodel.Participant
}

type SessionStatusChanged struct {
	Status           collabmodel.Status `json:"status"`
	ParticipantCount int                `json:"participantCount"`
}

type CursorMoved struct {
	collabmodel.CursorPosition
}

// CommentAdded carries no payload; consumers refetch the comment list
type CommentAdded struct{}

type UserTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// RawEvent is delivered for targets without a registered decoder
type RawEvent struct {
	Name      EventName
	Arguments []json.RawMessage
}

func (SessionSynced) EventName() EventName        { return EventSessionSynced }
func (ParticipantJoined) EventName() EventName    { return EventParticipantJoined }
func (ParticipantLeft) EventName() EventName      { return EventParticipantLeft }
func (SessionStatusChanged) EventName() EventName { return EventSessionStatusChanged }
func (CursorMoved) EventName() EventName          { return EventCursorMoved }
func (CommentAdded) EventName() EventName         { return EventCommentAdded }
func (UserTyping) EventName() EventName           { return EventUserTyping }
func (e RawEvent) EventName() EventName           { return e.Name }

type decoder func(args []json.RawMessage) (Event, error)

var decoders = map[EventName]decoder{
	EventSessionSynced:        decodeFirst[SessionSynced],
	EventParticipantJoined:    decodeFirst[ParticipantJoined],
	EventParticipantLeft:      decodeFirst[ParticipantLeft],
	EventSessionStatusChanged: decodeFirst[SessionStatusChanged],
	EventCursorMoved:          decodeFirst[CursorMoved],
	EventCommentAdded:         func([]json.RawMessage) (Event, error) { return CommentAdded{}, nil },
	EventUserTyping:           decodeFirst[UserTyping],
}

// DecodeEvent turns an event frame into its typed Event
func DecodeEvent(name EventName, args []json.RawMessage) (Event, error) {
	decode, ok := decoders[name]
	if !ok {
		return RawEvent{Name: name, Arguments: args}, nil
	}
	ev, err := decode(args)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return ev, nil
}

// decodeFirst decodes the first argument into E; a missing or null argument yields the zero value
func decodeFirst[E Event](args []json.RawMessage) (Event, error) {
	var ev E
	if len(args) == 0 || bytes.Equal(bytes.TrimSpace(args[0]), []byte("null")) {
		return ev, nil
	}
	if err := json.Unmarshal(args[0], &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
