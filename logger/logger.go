package logger

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// Logger is the logging surface used across courier; tests inject their own
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	Fatalf(string, ...interface{})
	WithFields(log.Fields) *log.Entry
	Writer() io.Writer
	SetWriter(io.Writer)
}

type logger struct {
	*log.Logger
}

// NewLogger returns a Logger backed by logrus at the given level
func NewLogger(level log.Level) Logger {
	l := log.New()
	l.SetLevel(level)
	l.Formatter = &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	return &logger{l}
}

// ParseLevel maps a config string ("debug", "info", ...) to a level,
// falling back to info.
func ParseLevel(level string) log.Level {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel
	}
	return parsed
}

func (l *logger) Writer() io.Writer {
	return l.Out
}

func (l *logger) SetWriter(writer io.Writer) {
	l.Out = writer
}

// Discard returns a logger that drops everything below panic level
func Discard() Logger {
	l := NewLogger(log.PanicLevel)
	l.SetWriter(io.Discard)
	return l
}
