package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base = newBase()

	// Log channel for dashboard (optional)
	logChan   chan LogEntry
	logChanMu sync.RWMutex
)

// LogEntry represents a structured log message
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	l.AddHook(channelHook{})
	return l
}

// Init sets up the logger from the configured level string.
func Init(level string) {
	// Check if NO_COLOR env var is set
	if os.Getenv("NO_COLOR") != "" {
		DisableColors()
	}
	base.SetLevel(ParseLevel(level))
}

func DisableColors() {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
		DisableColors:   true,
	})
}

// SetOutput redirects all log output, mostly useful in tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// ParseLevel maps a config string to a logrus level, defaulting to info.
func ParseLevel(lvl string) logrus.Level {
	switch lvl {
	case "trace":
		return logrus.TraceLevel
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

// SetLogChannel sets a channel to stream logs to (e.g., for dashboard)
func SetLogChannel(ch chan LogEntry) {
	logChanMu.Lock()
	defer logChanMu.Unlock()
	logChan = ch
}

// channelHook forwards every entry to the dashboard channel without blocking.
type channelHook struct{}

func (channelHook) Levels() []logrus.Level { return logrus.AllLevels }

func (channelHook) Fire(e *logrus.Entry) error {
	logChanMu.RLock()
	defer logChanMu.RUnlock()
	if logChan == nil {
		return nil
	}
	component, _ := e.Data["component"].(string)
	entry := LogEntry{
		Timestamp: e.Time.Format("15:04:05"),
		Level:     e.Level.String(),
		Component: component,
		Message:   e.Message,
	}
	select {
	case logChan <- entry:
	default:
		// Drop log if channel is full
	}
	return nil
}

func with(component string) *logrus.Entry {
	return base.WithField("component", component)
}

func Info(component string, format string, args ...interface{}) {
	with(component).Infof(format, args...)
}

func Warn(component string, format string, args ...interface{}) {
	with(component).Warnf(format, args...)
}

func Error(component string, format string, args ...interface{}) {
	with(component).Errorf(format, args...)
}

func Debug(component string, format string, args ...interface{}) {
	with(component).Debugf(format, args...)
}
