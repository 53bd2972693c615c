package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unicode/utf8"

	"coordline/internal/domain"
)

var ErrSpanTooLarge = errors.New("span exceeds maximum size")

// TruncatedAttr is set on spans whose attribute values were shortened.
const TruncatedAttr = "telemetry.truncated"

// Emitter appends spans to Path. A disabled emitter drops every span.
type Emitter struct {
	Path     string
	Service  string
	Disabled bool
	Now      func() time.Time
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Emitter) Emit(span Span) error {
	if e == nil || e.Disabled {
		return nil
	}
	if span.Service == "" {
		span.Service = e.Service
	}
	if span.Timestamp.IsZero() {
		span.Timestamp = e.now().UTC()
	}
	line, err := encodeBounded(span)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(e.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create telemetry dir: %w", err)
		}
	}
	f, err := os.OpenFile(e.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open span log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append span: %w", err)
	}
	return f.Close()
}

// truncation limits tried in order, in bytes per string attribute
var truncateSteps = []int{1024, 256, 64, 16}

func encodeBounded(span Span) ([]byte, error) {
	line, err := encodeLine(span)
	if err != nil {
		return nil, err
	}
	if len(line) <= MaxSpanBytes {
		return line, nil
	}
	attrs := make(map[string]any, len(span.Attributes)+1)
	for k, v := range span.Attributes {
		attrs[k] = v
	}
	span.Attributes = attrs
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, limit := range truncateSteps {
		for _, k := range keys {
			if s, ok := attrs[k].(string); ok && len(s) > limit {
				attrs[k] = truncateUTF8(s, limit)
			}
		}
		attrs[TruncatedAttr] = true
		line, err = encodeLine(span)
		if err != nil {
			return nil, err
		}
		if len(line) <= MaxSpanBytes {
			return line, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is %d bytes after truncation", ErrSpanTooLarge, span.OperationName, len(line))
}

func encodeLine(span Span) ([]byte, error) {
	data, err := json.Marshal(span)
	if err != nil {
		return nil, fmt.Errorf("marshal span: %w", err)
	}
	return append(data, '\n'), nil
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Recorder times one operation and emits its span on End.
type Recorder struct {
	emitter *Emitter
	start   time.Time
	span    Span
}

// Start begins a span. An empty traceID starts a new trace.
func (e *Emitter) Start(operation, traceID, parentSpanID string) *Recorder {
	if traceID == "" {
		traceID = NewTraceID()
	}
	start := time.Now()
	if e != nil {
		start = e.now()
	}
	return &Recorder{
		emitter: e,
		start:   start,
		span: Span{
			TraceID:       traceID,
			SpanID:        NewSpanID(),
			ParentSpanID:  parentSpanID,
			OperationName: operation,
			Attributes:    map[string]any{},
		},
	}
}

func (r *Recorder) TraceID() string { return r.span.TraceID }
func (r *Recorder) SpanID() string  { return r.span.SpanID }

// Join moves the span into an existing trace under parent.
func (r *Recorder) Join(traceID, parentSpanID string) {
	if traceID != "" {
		r.span.TraceID = traceID
	}
	r.span.ParentSpanID = parentSpanID
}

func (r *Recorder) Set(key string, value any) {
	r.span.Attributes[key] = value
}

// End stamps status and duration and emits the span. A non-nil opErr marks
// the span as failed and records its classification.
func (r *Recorder) End(opErr error) error {
	end := time.Now()
	if r.emitter != nil {
		end = r.emitter.now()
	}
	r.span.Timestamp = r.start.UTC()
	r.span.DurationMS = float64(end.Sub(r.start).Microseconds()) / 1000
	r.span.Status = StatusOK
	if opErr != nil {
		r.span.Status = StatusError
		r.span.Attributes["error.kind"] = domain.Kind(opErr)
		r.span.Attributes["error.message"] = opErr.Error()
	}
	return r.emitter.Emit(r.span)
}
