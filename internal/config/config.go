package config

type Config interface {
	EnvConfig
	AuthConfig
	HubConfig
	CollabConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAPIBaseURL() string
	GetCredentialsDir() string
	GetLogLevel() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Auth
	Hub
	Collab
}

func New() Config {
	return mainConfig{}
}
