package kv

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// --------------------------------------------------------------------------
// Leveled Logger
// --------------------------------------------------------------------------

// Logger is the minimal leveled logging surface the store uses. It is
// satisfied by the logger returned from NewLogger; callers may plug in their
// own.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LogLevel orders log severities; a logger emits messages at its level and
// above.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarning
	LogError
)

// ParseLogLevel converts a string level to a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LogDebug, nil
	case "info":
		return LogInfo, nil
	case "warning", "warn":
		return LogWarning, nil
	case "error":
		return LogError, nil
	default:
		return LogInfo, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// aspenLogger implements Logger with custom formatting
type aspenLogger struct {
	name   string
	level  LogLevel
	logger *log.Logger
}

// NewLogger creates a leveled logger writing to stdout.
func NewLogger(name string, level LogLevel) Logger {
	return &aspenLogger{
		name:   name,
		level:  level,
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime),
	}
}

func (l *aspenLogger) Debugf(format string, args ...interface{}) {
	if l.level <= LogDebug {
		l.log("DEBUG", format, args...)
	}
}

func (l *aspenLogger) Infof(format string, args ...interface{}) {
	if l.level <= LogInfo {
		l.log("INFO", format, args...)
	}
}

func (l *aspenLogger) Warningf(format string, args ...interface{}) {
	if l.level <= LogWarning {
		l.log("WARN", format, args...)
	}
}

func (l *aspenLogger) Errorf(format string, args ...interface{}) {
	if l.level <= LogError {
		l.log("ERROR", format, args...)
	}
}

// log formats and writes a log message. this internal helper is used by the
// public methods
func (l *aspenLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}
