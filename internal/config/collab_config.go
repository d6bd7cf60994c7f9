package config

type CollabConfig interface {
	GetCursorUpdatesPerSecond() float64
	GetDefaultJoinRole() string
}

type Collab struct{}

var _ CollabConfig = Collab{}

// GetCursorUpdatesPerSecond caps outbound cursor sends; zero or less disables the cap
func (Collab) GetCursorUpdatesPerSecond() float64 {
	return GetEnvFloat("CURSOR_UPDATES_PER_SECOND", 20)
}

func (Collab) GetDefaultJoinRole() string {
	return GetEnv("COLLAB_JOIN_ROLE", "Editor")
}
