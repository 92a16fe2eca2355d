package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var logger = log.New()

func init() {
	env := os.Getenv("ENV")
	// Prefer stdout (plays well with systemd/docker). Allow overriding via
	// LOG_TO_FILE=true to force file logging.
	logger.Out = os.Stdout
	if os.Getenv("LOG_TO_FILE") == "true" {
		if cwd, err := os.Getwd(); err == nil {
			logsDir := filepath.Join(cwd, "logs")
			if mkErr := os.MkdirAll(logsDir, 0o755); mkErr != nil {
				log.Warnf("Failed to create logs directory %s: %v, falling back to stdout", logsDir, mkErr)
			} else {
				day := time.Now().Format("2006-01-02")
				filePath := filepath.Join(logsDir, fmt.Sprintf("%s%s.log", day, env))
				f, openErr := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
				if openErr != nil {
					log.Warnf("Failed to open log file %s: %v, falling back to stdout", filePath, openErr)
				} else {
					logger.Out = f
				}
			}
		}
	}

	logger.Formatter = &log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	}
	logger.SetLevel(levelFromEnv())
}

func levelFromEnv() log.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "trace":
		return log.TraceLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.DebugLevel
	}
}

// GetLogger returns an entry annotated with the caller's function, file and
// line, so one-off log sites are attributable in aggregated output.
func GetLogger() *log.Entry {
	function, file, line, _ := runtime.Caller(1)

	functionObject := runtime.FuncForPC(function)
	entry := logger.WithFields(log.Fields{
		"function": functionObject.Name(),
		"file":     file,
		"line":     line,
	})

	return entry
}

// WithComponent tags an entry with a stable component name. Long-lived loops
// (scheduler beat, dispatch workers) prefer this over per-call caller info.
func WithComponent(name string) *log.Entry {
	return logger.WithField("component", name)
}
