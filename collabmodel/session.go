package collabmodel

import "time"

// Session is a collaboration session bound to one resource.
// Returned by the create and join endpoints.
type Session struct {
	SessionID        string       `json:"sessionId"`
	ResourceID       string       `json:"resourceId"`
	ResourceType     ResourceType `json:"resourceType"`
	Status           Status       `json:"status"`
	ParticipantCount int          `json:"participantCount"`
	CreatedAt        time.Time    `json:"createdAt,omitempty"`
}

// Participant is one user joined to a session. Participants are keyed by UserID.
type Participant struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Position is a caret location inside the resource, with an optional selection range.
type Position struct {
	Line           int  `json:"line"`
	Column         int  `json:"column"`
	SelectionStart *int `json:"selectionStart,omitempty"`
	SelectionEnd   *int `json:"selectionEnd,omitempty"`
}

// CursorPosition is the last reported cursor of one participant (last write wins).
type CursorPosition struct {
	UserID    string    `json:"userId"`
	Position  Position  `json:"position"`
	UpdatedAt time.Time `json:"updatedAt"`
}
