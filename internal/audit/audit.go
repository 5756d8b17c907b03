// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit writes the security event trail: lockouts, successful and
// failed re-authentications, session invalidation and password fallback.
//
// Events are JSON lines written through zap, one per security event, each
// with a unique event id.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DevendraSumaniya20/biometric/internal/reauth"
)

// =============================================================================
// EVENT
// =============================================================================

// Event is one audit record.
type Event struct {
	ID        string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Source    string            `json:"source,omitempty"`
	Success   bool              `json:"success"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ToLogLine formats the event as a single human-readable line.
func (e *Event) ToLogLine() string {
	timestamp := e.Timestamp.Local().Format("2006-01-02 15:04:05")

	status := "SUCCESS"
	if !e.Success {
		status = "FAILURE"
	}

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+e.Metadata[k])
	}

	return fmt.Sprintf("%s | %s | %s | %s",
		timestamp,
		e.EventType,
		strings.Join(pairs, " "),
		status,
	)
}

// failureEvents are the event types recorded with success=false.
var failureEvents = map[string]bool{
	reauth.EventBiometricUnsupported: true,
	reauth.EventAuthFailure:          true,
	reauth.EventAuthError:            true,
	reauth.EventUnavailable:          true,
	reauth.EventPromptTimeout:        true,
	reauth.EventLockout:              true,
}

// FromAction converts an engine LogSecurityEvent into an audit event.
func FromAction(a reauth.LogSecurityEvent) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: a.At,
		EventType: a.Event,
		Success:   !failureEvents[a.Event],
		Metadata:  a.Fields,
	}
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger writes audit events. The zero value is not usable; use Open,
// New or Nop.
type Logger struct {
	mu      sync.Mutex
	zl      *zap.Logger
	file    *os.File
	path    string
	source  string
	enabled bool
	onError func(error)
}

// EncoderConfig is the JSON layout of the audit file.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "event_type",
		LevelKey:       "level",
		TimeKey:        "logged_at",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}
}

// Open creates or appends to the audit file at path.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), zapcore.AddSync(file), zapcore.InfoLevel)
	l := New(core)
	l.file = file
	l.path = path
	return l, nil
}

// New creates a logger writing to core.
func New(core zapcore.Core) *Logger {
	return &Logger{zl: zap.New(core), enabled: true}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// WithSource tags every event with source (the runner id, a command name).
func (l *Logger) WithSource(source string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.source = source
	return l
}

// SetOnError sets a callback for write failures.
func (l *Logger) SetOnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

// Path returns the audit file path, empty when not file-backed.
func (l *Logger) Path() string { return l.path }

// Log writes e. A missing ID or timestamp is filled in.
func (l *Logger) Log(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Source == "" {
		e.Source = l.source
	}

	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.Time("timestamp", e.Timestamp),
		zap.Bool("success", e.Success),
	}
	if e.Source != "" {
		fields = append(fields, zap.String("source", e.Source))
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Object("metadata", metadata(e.Metadata)))
	}

	if e.Success {
		l.zl.Info(e.EventType, fields...)
	} else {
		l.zl.Warn(e.EventType, fields...)
	}

	if l.file != nil {
		if err := l.zl.Sync(); err != nil {
			if l.onError != nil {
				l.onError(err)
			}
			return fmt.Errorf("audit write failed: %w", err)
		}
	}
	return nil
}

// Record implements reauth.Auditor.
func (l *Logger) Record(a reauth.LogSecurityEvent) {
	if err := l.Log(FromAction(a)); err != nil {
		fmt.Fprintf(os.Stderr, "[AUDIT ERROR] %v\n", err)
	}
}

// Close flushes and closes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled = false
	if l.file == nil {
		return nil
	}
	_ = l.zl.Sync()
	err := l.file.Close()
	l.file = nil
	return err
}

type metadata map[string]string

func (m metadata) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc.AddString(k, m[k])
	}
	return nil
}

// =============================================================================
// REVIEW
// =============================================================================

// ReadRecent returns up to n of the most recent events in path, oldest
// first. A missing file yields no events. Lines that do not parse are
// skipped.
func ReadRecent(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil || e.EventType == "" {
			continue
		}
		events = append(events, e)
		if n > 0 && len(events) > n {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return events, err
	}
	return events, nil
}
