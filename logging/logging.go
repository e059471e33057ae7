// Package logging provides real-time console output for the matching engine.
// Every line follows the format: LEVEL TIMESTAMP [component] message key=value ...
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

// ParseLevel converts a config string ("debug", "INFO", ...) to a Level.
// Unknown values fall back to LevelInfo.
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

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// WithComponent returns a new logger with the given component name.
// Derived loggers share the parent's output lock.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger that tags every line with trace_id.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
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

// formatFields formats a map of fields as key=value pairs sorted by key.
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

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace_id"] = l.traceID
	}
	fieldStr := formatFields(merged)

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

// --- Domain event methods ---

// IngestStart logs the start of an ingestion batch.
func (l *Logger) IngestStart(namespace string, items int) {
	l.Info("ingest_start", map[string]interface{}{
		"namespace": namespace,
		"items":     items,
	})
}

// IngestItemFailed logs a single item that was skipped during ingestion.
func (l *Logger) IngestItemFailed(namespace, id, stage string, err error) {
	l.Warn("ingest_item_failed", map[string]interface{}{
		"namespace": namespace,
		"id":        id,
		"stage":     stage,
		"error":     err.Error(),
	})
}

// IngestComplete logs the outcome of an ingestion batch.
func (l *Logger) IngestComplete(namespace string, uploaded, failed int, duration time.Duration, canceled bool) {
	fields := map[string]interface{}{
		"namespace": namespace,
		"uploaded":  uploaded,
		"failed":    failed,
		"duration":  duration.String(),
	}
	if canceled {
		fields["canceled"] = true
		l.Warn("ingest_complete", fields)
		return
	}
	l.Info("ingest_complete", fields)
}

// UpstreamCall logs a call to an embedding, generation or index backend.
func (l *Logger) UpstreamCall(upstream, op string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"upstream": upstream,
		"op":       op,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("upstream_error", fields)
	} else {
		l.Debug("upstream_call", fields)
	}
}

// MatchComplete logs a similarity query.
func (l *Logger) MatchComplete(namespace, anchor string, topK, results int) {
	l.Debug("match_complete", map[string]interface{}{
		"namespace": namespace,
		"anchor":    anchor,
		"top_k":     topK,
		"results":   results,
	})
}

// ProjectGenerated logs a successful project recommendation.
func (l *Logger) ProjectGenerated(name string, relevantSkills int, duration time.Duration) {
	l.Info("project_generated", map[string]interface{}{
		"project":         name,
		"relevant_skills": relevantSkills,
		"duration":        duration.String(),
	})
}
