package discovery

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the pluggable sink every component accepts. Fields are
// logged as structured key/value pairs; nil Logger fields are always
// checked before use so a component works with no logger configured.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a component tag, letting a
// backend or client log under its own namespace ("backend/redis",
// "registrar", "discovery-client") while sharing one sink.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the default used by components
// constructed without an explicit logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

// ConsoleLogger is the default sink: text in local/dev, JSON when
// KUBERNETES_SERVICE_HOST is set, matching the teacher's
// ProductionLogger environment-based format selection.
type ConsoleLogger struct {
	mu        sync.Mutex
	component string
	format    string // "json" or "text"
	debug     bool
	output    io.Writer
}

// NewConsoleLogger constructs a ConsoleLogger writing to stdout, format
// auto-detected from the environment.
func NewConsoleLogger() *ConsoleLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	return &ConsoleLogger{
		format: format,
		debug:  strings.EqualFold(os.Getenv("HAZELJS_DEBUG"), "true"),
		output: os.Stdout,
	}
}

// WithComponent returns a logger tagged with component, sharing the
// same sink and settings.
func (l *ConsoleLogger) WithComponent(component string) Logger {
	return &ConsoleLogger{
		component: component,
		format:    l.format,
		debug:     l.debug,
		output:    l.output,
	}
}

func (l *ConsoleLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *ConsoleLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *ConsoleLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

func (l *ConsoleLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ConsoleLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"message":   msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	var fieldStr strings.Builder
	for k, v := range fields {
		fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	comp := l.component
	if comp == "" {
		comp = "discovery"
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", ts, level, comp, msg, fieldStr.String())
}

var _ ComponentAwareLogger = (*ConsoleLogger)(nil)
