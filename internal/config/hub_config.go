package config

import "time"

type HubConfig interface {
	GetHubURL() string
	GetReconnectBaseDelay() time.Duration
	GetReconnectMaxDelay() time.Duration
	GetReconnectMaxElapsed() time.Duration
	GetHandshakeTimeout() time.Duration
	GetPingInterval() time.Duration
}

type Hub struct{}

var _ HubConfig = Hub{}

func (Hub) GetHubURL() string {
	return GetEnv("HUB_URL", "ws://localhost:5000/hubs/collaboration")
}

func (Hub) GetReconnectBaseDelay() time.Duration {
	return GetEnvDuration("RECONNECT_BASE_DELAY", time.Second)
}

func (Hub) GetReconnectMaxDelay() time.Duration {
	return GetEnvDuration("RECONNECT_MAX_DELAY", 30*time.Second)
}

// GetReconnectMaxElapsed is the cumulative time after which reconnection gives up
func (Hub) GetReconnectMaxElapsed() time.Duration {
	return GetEnvDuration("RECONNECT_MAX_ELAPSED", 60*time.Second)
}

func (Hub) GetHandshakeTimeout() time.Duration {
	return GetEnvDuration("HUB_HANDSHAKE_TIMEOUT", 10*time.Second)
}

func (Hub) GetPingInterval() time.Duration {
	return GetEnvDuration("HUB_PING_INTERVAL", 15*time.Second)
}
