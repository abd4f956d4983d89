// Package logging provides leveled key=value logging for the coordination
// core. Output is for real-time monitoring; coordination state itself is
// always queryable through the component accessors.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a string to a Level. Unknown strings map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes structured log lines to a single writer.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a Logger writing to stdout at INFO level.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards all output. Useful in tests.
func Nop() *Logger {
	return &Logger{
		output:   io.Discard,
		minLevel: LevelError,
	}
}

// WithComponent returns a new logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a line: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Coordination event helpers ---
// Called by the bus, coordinator and monitor at well-known points so log
// output stays uniform across components.

// MessageSent logs a delivered pipeline message.
func (l *Logger) MessageSent(pipelineID, from string, recipients int, msgType string) {
	l.Debug("message_sent", map[string]interface{}{
		"pipeline":   pipelineID,
		"from":       from,
		"recipients": recipients,
		"type":       msgType,
	})
}

// DeliveryDropped logs a message dropped due to a full subscriber buffer.
func (l *Logger) DeliveryDropped(agentID, pipelineID string) {
	l.Warn("delivery_dropped", map[string]interface{}{
		"agent":    agentID,
		"pipeline": pipelineID,
	})
}

// InteractionComplete logs the outcome of an agent interaction.
func (l *Logger) InteractionComplete(interactionID, agentType string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"interaction": interactionID,
		"agent":       agentType,
		"duration":    duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("interaction_failed", fields)
	} else {
		l.Info("interaction_complete", fields)
	}
}

// HeartbeatRecorded logs a received heartbeat.
func (l *Logger) HeartbeatRecorded(agentType string, count int) {
	l.Debug("heartbeat", map[string]interface{}{
		"agent": agentType,
		"count": count,
	})
}

// ReconnectAttempt logs a reconnect attempt and its outcome.
func (l *Logger) ReconnectAttempt(agentType string, attempt int, ok bool) {
	fields := map[string]interface{}{
		"agent":   agentType,
		"attempt": attempt,
		"ok":      ok,
	}
	if ok {
		l.Info("reconnect", fields)
	} else {
		l.Warn("reconnect_failed", fields)
	}
}

// AgentOffline logs an agent escalated to the terminal offline state.
func (l *Logger) AgentOffline(agentType string, attempts int) {
	l.Error("agent_offline", map[string]interface{}{
		"agent":    agentType,
		"attempts": attempts,
	})
}
