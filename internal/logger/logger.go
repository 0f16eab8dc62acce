// Package logger provides leveled logging with text and JSON line output.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Logger writes leveled log lines to stderr.
type Logger struct {
	level  Level
	json   bool
	logger *log.Logger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format
// ("text" or "json").
func Init(level string, format string) {
	var l Level
	switch strings.ToLower(level) {
	case "debug":
		l = DebugLevel
	case "info":
		l = InfoLevel
	case "warn":
		l = WarnLevel
	case "error":
		l = ErrorLevel
	default:
		l = InfoLevel
	}

	useJSON := strings.ToLower(format) == "json"
	flags := log.LstdFlags | log.Lmicroseconds
	if useJSON {
		// JSON lines carry their own timestamp field.
		flags = 0
	}

	defaultLogger = &Logger{
		level:  l,
		json:   useJSON,
		logger: log.New(os.Stderr, "", flags),
	}
}

type jsonLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func emit(level Level, format string, args ...interface{}) {
	if defaultLogger == nil || defaultLogger.level > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if defaultLogger.json {
		line, err := json.Marshal(jsonLine{
			Time:    time.Now().UTC().Format(time.RFC3339Nano),
			Level:   level.String(),
			Message: msg,
		})
		if err == nil {
			_ = defaultLogger.logger.Output(3, string(line))
			return
		}
	}
	_ = defaultLogger.logger.Output(3, "["+level.String()+"] "+msg)
}

func Debug(format string, args ...interface{}) {
	emit(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	emit(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	emit(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	emit(ErrorLevel, format, args...)
}

// Fatal logs at ERROR severity regardless of level and exits.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	if defaultLogger != nil {
		_ = defaultLogger.logger.Output(2, msg)
	} else {
		log.Print(msg)
	}
	os.Exit(1)
}
