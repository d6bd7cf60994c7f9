package collabmodel

// ResourceType identifies the kind of resource a collaboration session is bound to.
type ResourceType string

const (
	// ResourceDocument is a rich-text document.
	ResourceDocument ResourceType = "Document"

	// ResourceSnippet is a code snippet.
	ResourceSnippet ResourceType = "Snippet"

	// ResourceDiagram is a shape/connection diagram.
	ResourceDiagram ResourceType = "Diagram"
)

// Status is the lifecycle state of a collaboration session as seen by this client.
//
// Transitions (client side):
//
//	None --start--> Connecting --joined--> Active --leave/end--> None
//	Connecting --failure--> None
//
// Ended is reported by the server through SessionStatusChanged when the owner ends the session.
type Status string

const (
	// StatusNone means no session is open for the resource.
	StatusNone Status = "None"

	// StatusConnecting means create/join and the hub join are in flight.
	StatusConnecting Status = "Connecting"

	// StatusActive means the hub join was acknowledged and events are flowing.
	StatusActive Status = "Active"

	// StatusEnded means the server closed the session.
	StatusEnded Status = "Ended"
)

// Role is a participant's permission level inside a session.
type Role string

const (
	// RoleOwner created the session and may end it.
	RoleOwner Role = "Owner"

	// RoleEditor may edit the resource.
	RoleEditor Role = "Editor"

	// RoleViewer has read-only presence.
	RoleViewer Role = "Viewer"
)

// ConnectionState is the hub connectivity shown alongside a session.
type ConnectionState string

const (
	// ConnectionConnected means events are being received live.
	ConnectionConnected ConnectionState = "Connected"

	// ConnectionReconnecting means the hub dropped and the projection is frozen until resync.
	ConnectionReconnecting ConnectionState = "Reconnecting"

	// ConnectionUnavailable means reconnection was exhausted; collaboration is unavailable.
	ConnectionUnavailable ConnectionState = "Unavailable"
)
