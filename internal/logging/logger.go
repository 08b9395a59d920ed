// Package logging provides the structured logger used for session lifecycle,
// rekey, and teardown events across the engine. It never logs key material;
// callers pass labels and counters, never SecureBytes contents.
package logging

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelSilent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// Fields represents structured log fields. Never put SecureBytes-backed
// material in here; log labels and counters only.
type Fields map[string]interface{}

// Format specifies the log output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Logger provides structured logging with levels.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	level    Level
	format   Format
	fields   Fields
	name     string
	timeFunc func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

func WithOutput(w io.Writer) Option { return func(l *Logger) { l.out = w } }
func WithLevel(level Level) Option  { return func(l *Logger) { l.level = level } }
func WithFormat(f Format) Option    { return func(l *Logger) { l.format = f } }
func WithFields(f Fields) Option    { return func(l *Logger) { l.fields = f } }
func WithName(name string) Option   { return func(l *Logger) { l.name = name } }

// New creates a new logger with the given options.
func New(opts ...Option) *Logger {
	l := &Logger{
		out:      os.Stderr,
		level:    LevelInfo,
		format:   FormatText,
		fields:   make(Fields),
		timeFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// With returns a new logger with additional default fields.
func (l *Logger) With(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{out: l.out, level: l.level, format: l.format, fields: merged, name: l.name, timeFunc: l.timeFunc}
}

// Named returns a new logger scoped under name (dotted if already named).
func (l *Logger) Named(name string) *Logger {
	newName := name
	if l.name != "" {
		newName = l.name + "." + name
	}
	return &Logger{out: l.out, level: l.level, format: l.format, fields: l.fields, name: newName, timeFunc: l.timeFunc}
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields...) }

func (l *Logger) log(level Level, msg string, extra ...Fields) {
	if level < l.level {
		return
	}
	all := make(Fields, len(l.fields))
	for k, v := range l.fields {
		all[k] = v
	}
	for _, f := range extra {
		for k, v := range f {
			all[k] = v
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.format == FormatJSON {
		l.writeJSON(level, msg, all)
	} else {
		l.writeText(level, msg, all)
	}
}

func (l *Logger) writeJSON(level Level, msg string, fields Fields) {
	entry := make(map[string]interface{}, len(fields)+4)
	entry["time"] = l.timeFunc().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.name != "" {
		entry["logger"] = l.name
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, "LOG_ERROR: %v\n", err)
		return
	}
	l.out.Write(data)
	l.out.Write([]byte{'\n'})
}

func (l *Logger) writeText(level Level, msg string, fields Fields) {
	var b strings.Builder
	b.WriteString(l.timeFunc().Format("15:04:05.000"))
	b.WriteString(" ")
	fmt.Fprintf(&b, "%-5s ", level.String())
	if l.name != "" {
		b.WriteString("[")
		b.WriteString(l.name)
		b.WriteString("] ")
	}
	b.WriteString(msg)
	if len(fields) > 0 {
		b.WriteString(" ")
		b.WriteString(formatFields(fields))
	}
	b.WriteString("\n")
	l.out.Write([]byte(b.String()))
}

func formatFields(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

var (
	global   *Logger
	globalMu sync.RWMutex
)

func init() {
	global = New()
}

// SetGlobal replaces the package-level logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// Global returns the current package-level logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Null returns a logger that discards all output.
func Null() *Logger { return New(WithLevel(LevelSilent)) }

// Test returns a logger suitable for tests.
func Test(w io.Writer) *Logger {
	return New(WithOutput(w), WithLevel(LevelDebug), WithFormat(FormatText))
}

// SessionFields builds the field set every session lifecycle log line
// carries: a session id is long-lived binary, not something to print raw,
// so it's always hex-encoded the same way here rather than left to each
// call site.
func SessionFields(sessionID []byte) Fields {
	return Fields{"session_id": hex.EncodeToString(sessionID)}
}

// EpochFields builds the field set a PQ ratchet epoch transition logs:
// the epoch index the ratchet is moving to, and which side (initiator or
// responder) owns that transition's parity.
func EpochFields(epoch uint64, isInitiator bool) Fields {
	return Fields{"epoch": epoch, "initiator": isInitiator}
}

// ForSession returns a logger scoped to one session, carrying its id on
// every line so log aggregation can group a conversation's handshake,
// rekey, and teardown events together.
func (l *Logger) ForSession(sessionID []byte) *Logger {
	return l.Named("session").With(SessionFields(sessionID))
}
