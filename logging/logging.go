// Package logging adapts logrus to relay.Logger.
//
//	logger := logging.New(logrus.New())
//	m := relay.NewMediator(relay.WithLogger(logger))
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AshkanYarmoradi/go-relay"
)

// Logger implements relay.Logger on top of a logrus entry. The variadic
// args of each call are read as key/value pairs and become logrus fields.
type Logger struct {
	entry *logrus.Entry
}

var _ relay.Logger = (*Logger)(nil)

// New wraps l. A nil l uses the logrus standard logger.
func New(l *logrus.Logger) *Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Logger{entry: logrus.NewEntry(l)}
}

// NewWithLevel creates a logger that writes text at level to stderr.
// level is parsed with logrus.ParseLevel.
func NewWithLevel(level string, json bool) (*Logger, error) {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	l.SetLevel(lvl)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return New(l), nil
}

// With returns a logger that adds the given key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(args))}
}

// Entry returns the underlying logrus entry.
func (l *Logger) Entry() *logrus.Entry {
	return l.entry
}

// Debug implements relay.Logger.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

// Info implements relay.Logger.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Info(msg)
}

// Warn implements relay.Logger.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

// Error implements relay.Logger.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Error(msg)
}

// fields pairs up args. A non-string key is formatted with %v and a
// trailing key without a value is stored under "!BADKEY".
func fields(args []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok && key == "error" {
			f[logrus.ErrorKey] = err
			continue
		}
		f[key] = args[i+1]
	}
	return f
}
