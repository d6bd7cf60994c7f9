package badgerstore

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// zerologAdapter routes Badger's internal logging through the global zerolog logger
type zerologAdapter struct{}

func (zerologAdapter) Errorf(format string, args ...interface{}) {
	log.Error().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (zerologAdapter) Warningf(format string, args ...interface{}) {
	log.Warn().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (zerologAdapter) Infof(format string, args ...interface{}) {
	log.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (zerologAdapter) Debugf(format string, args ...interface{}) {
	log.Trace().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}
