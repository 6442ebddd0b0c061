package common

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// Level tags rendered in log lines and the Telegram report. Scrapers key on
// these, so the mapping is stable even if level names ever change.
const (
	TagDebug   = "🔍"
	TagInfo    = "ℹ️"
	TagSuccess = "✅"
	TagWarning = "⚠️"
	TagError   = "❌"
)

// GetLogger returns the global logger instance
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	// Double-check after acquiring write lock
	if globalLogger == nil {
		globalLogger = newConsoleLogger("info")
	}
	return globalLogger
}

// InitLogger initializes the arbor logger from configuration. DEBUG_MODE
// raises the level to debug.
func InitLogger(config *Config) arbor.ILogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	level := "info"
	if config.Debug {
		level = "debug"
	}
	globalLogger = newConsoleLogger(level)
	return globalLogger
}

func newConsoleLogger(level string) arbor.ILogger {
	return arbor.NewLogger().
		WithConsoleWriter(models.WriterConfiguration{
			Type:             models.LogWriterTypeConsole,
			TimeFormat:       "15:04:05",
			DisableTimestamp: false,
		}).
		WithLevelFromString(level)
}

// Success logs an info-level record carrying the success tag. Arbor has no
// dedicated success level; the tag keeps report lines and log lines
// consistent.
func Success(logger arbor.ILogger, msg string) {
	logger.Info().Msg(TagSuccess + " " + msg)
}
