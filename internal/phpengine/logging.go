package phpengine

import (
	"context"
	"log/slog"
	"sync"
)

var (
	phpLogger   *slog.Logger
	phpLoggerMu sync.RWMutex
)

// SetLogger sets the package logger used for engine diagnostics and for
// PHP log messages of strategies without a logger of their own.
func SetLogger(logger *slog.Logger) {
	phpLoggerMu.Lock()
	phpLogger = logger
	phpLoggerMu.Unlock()
}

func getLogger() *slog.Logger {
	phpLoggerMu.RLock()
	defer phpLoggerMu.RUnlock()
	return phpLogger
}

// syslogLevel maps a PHP syslog priority onto a slog level.
func syslogLevel(syslogType int) slog.Level {
	switch syslogType {
	case 0, 1, 2, 3:
		return slog.LevelError
	case 4:
		return slog.LevelWarn
	case 5, 6:
		return slog.LevelInfo
	case 7:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func logPHPMessage(logger *slog.Logger, syslogType int, message string) {
	if logger == nil {
		logger = getLogger()
	}
	if logger == nil {
		return
	}

	logger.Log(context.Background(), syslogLevel(syslogType), "php log",
		"php_syslog_type", syslogType,
		"message", message,
	)
}
