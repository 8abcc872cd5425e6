package upload

import (
	"log/slog"

	"github.com/hashicorp/go-retryablehttp"
)

// leveledLogger adapts slog to the retryablehttp.LeveledLogger
// interface. Request-level chatter goes to debug; only genuine
// transport problems surface at error level.
type leveledLogger struct {
	log *slog.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}
