package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/austindbirch/hookrelay/internal/tracing"
)

// LogLevel represents the severity of the log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.MessageFieldName = "msg"
}

// LogEntry collects correlation ids and fields until a level method emits it
type LogEntry struct {
	logger     *Logger
	Level      LogLevel
	Message    string
	TraceID    string
	OwnerID    int64
	EventType  string
	EndpointID int64
	TargetURL  string
	Fields     map[string]any
}

// Logger provides structured logging with trace correlation
type Logger struct {
	service string
	zl      zerolog.Logger
	exit    func(int)
}

// New creates a new structured logger for the given service, writing JSON lines to stdout
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(service string, w io.Writer) *Logger {
	return &Logger{
		service: service,
		zl:      zerolog.New(w).With().Timestamp().Str("service", service).Logger(),
		exit:    os.Exit,
	}
}

// SetLevel sets the global minimum level; unknown names fall back to info
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Service returns the service name attached to every entry
func (l *Logger) Service() string {
	return l.service
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	entry := l.Plain()
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		entry.TraceID = traceID
	}
	return entry
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return &LogEntry{logger: l}
}

// WithOwner sets the owning account for the log entry
func (e *LogEntry) WithOwner(ownerID int64) *LogEntry {
	e.OwnerID = ownerID
	return e
}

// WithEventType sets the event type for the log entry
func (e *LogEntry) WithEventType(eventType string) *LogEntry {
	e.EventType = eventType
	return e
}

// WithEndpoint sets the endpoint ID for the log entry
func (e *LogEntry) WithEndpoint(endpointID int64) *LogEntry {
	e.EndpointID = endpointID
	return e
}

// WithTarget sets the subscriber URL for the log entry
func (e *LogEntry) WithTarget(url string) *LogEntry {
	e.TargetURL = url
	return e
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

func (e *LogEntry) Debug(message string) { e.emit(LevelDebug, message) }
func (e *LogEntry) Info(message string)  { e.emit(LevelInfo, message) }
func (e *LogEntry) Warn(message string)  { e.emit(LevelWarn, message) }
func (e *LogEntry) Error(message string) { e.emit(LevelError, message) }

func (e *LogEntry) Infof(format string, args ...any) { e.emit(LevelInfo, fmt.Sprintf(format, args...)) }
func (e *LogEntry) Warnf(format string, args ...any) { e.emit(LevelWarn, fmt.Sprintf(format, args...)) }

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) {
	e.emit(LevelFatal, message)
	e.logger.exit(1)
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// emit writes the entry through zerolog; empty correlation ids are omitted
func (e *LogEntry) emit(level LogLevel, message string) {
	e.Level = level
	e.Message = message

	ev := e.logger.zl.WithLevel(zerologLevel(level))
	if ev == nil {
		return
	}
	if e.TraceID != "" {
		ev = ev.Str("trace_id", e.TraceID)
	}
	if e.OwnerID != 0 {
		ev = ev.Int64("owner_id", e.OwnerID)
	}
	if e.EventType != "" {
		ev = ev.Str("event_type", e.EventType)
	}
	if e.EndpointID != 0 {
		ev = ev.Int64("endpoint_id", e.EndpointID)
	}
	if e.TargetURL != "" {
		ev = ev.Str("target_url", e.TargetURL)
	}
	if len(e.Fields) > 0 {
		ev = ev.Interface("fields", e.Fields)
	}
	ev.Msg(message)
}
