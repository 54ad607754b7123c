// jsonlog.go - Leveled structured logging on top of logrus
package server

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled logging with a map of fields per entry.
type Logger struct {
	log *logrus.Logger
}

var (
	// DefaultLogger is the global logger instance
	DefaultLogger *Logger
)

func init() {
	DefaultLogger = NewLogger(os.Stdout, os.Getenv("FD_LOG_FORMAT"), os.Getenv("FD_LOG_LEVEL"), os.Getenv("FD_ENV"))
}

// NewLogger builds a logger writing to out. format "json" (or env
// "production") selects JSON lines, anything else plain text. Unknown levels
// fall back to info.
func NewLogger(out io.Writer, format, level, env string) *Logger {
	l := logrus.New()
	l.SetOutput(out)

	if format == "json" || env == "production" {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "msg"},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	l.SetLevel(parseLogLevel(level))
	return &Logger{log: l}
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getCaller returns the file and line number of the caller
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// write emits one entry. It must be called straight from an exported
// logging function, method or package helper, so that skip 3 lands on the
// code that logged.
func (l *Logger) write(level logrus.Level, msg string, fields map[string]any, err error) {
	if !l.log.IsLevelEnabled(level) {
		return
	}
	e := l.log.WithFields(logrus.Fields(fields)).WithField("caller", getCaller(3))
	if err != nil {
		e = e.WithError(err)
	}
	e.Log(level, msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.write(logrus.DebugLevel, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]any) {
	l.write(logrus.InfoLevel, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.write(logrus.WarnLevel, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]any, err error) {
	l.write(logrus.ErrorLevel, msg, fields, err)
}

// Global logging functions

func Debug(msg string, fields map[string]any) {
	DefaultLogger.write(logrus.DebugLevel, msg, fields, nil)
}

func Info(msg string, fields map[string]any) {
	DefaultLogger.write(logrus.InfoLevel, msg, fields, nil)
}

func Warn(msg string, fields map[string]any) {
	DefaultLogger.write(logrus.WarnLevel, msg, fields, nil)
}

func Error(msg string, fields map[string]any, err error) {
	DefaultLogger.write(logrus.ErrorLevel, msg, fields, err)
}
