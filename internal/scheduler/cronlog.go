package scheduler

import (
	"github.com/robfig/cron/v3"

	"github.com/davexpro/archivist/internal/logging"
)

// cronLogger routes cron's own messages, recovered panics and skipped ticks included, to the
// process logger.
type cronLogger struct{}

var _ cron.Logger = cronLogger{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug().Str("component", "cron").Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error().Err(err).Str("component", "cron").Fields(keysAndValues).Msg(msg)
}
