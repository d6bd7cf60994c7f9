package config

import "time"

type AuthConfig interface {
	GetHTTPTimeout() time.Duration
	GetRefreshTimeout() time.Duration
}

type Auth struct{}

var _ AuthConfig = Auth{}

// GetHTTPTimeout is the blanket timeout applied to every REST call
func (Auth) GetHTTPTimeout() time.Duration {
	return GetEnvDuration("HTTP_TIMEOUT", 30*time.Second)
}

// GetRefreshTimeout bounds a single refresh attempt shared by all waiting callers
func (Auth) GetRefreshTimeout() time.Duration {
	return GetEnvDuration("REFRESH_TIMEOUT", 15*time.Second)
}
