// Package telemetry appends one JSON line per coordination operation to a
// shared span log.
//
// Appends do not take the state lock. Each span is written with a single
// write(2) on an O_APPEND handle and is kept under MaxSpanBytes, which is
// within PIPE_BUF on the platforms we run on, so concurrent writers do not
// interleave inside a line.
package telemetry

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// MaxSpanBytes bounds a serialized span including its trailing newline.
const MaxSpanBytes = 4096

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Span struct {
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentSpanID  string         `json:"parent_span_id,omitempty"`
	OperationName string         `json:"operation_name"`
	Status        string         `json:"status"`
	DurationMS    float64        `json:"duration_ms"`
	Timestamp     time.Time      `json:"timestamp"`
	Service       string         `json:"service,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// NewTraceID returns 16 random bytes as lowercase hex.
func NewTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// NewSpanID returns 8 random bytes as lowercase hex.
func NewSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// ValidTraceID reports whether s looks like a trace id produced by NewTraceID.
func ValidTraceID(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
