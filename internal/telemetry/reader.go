package telemetry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ReadSpans parses the span log at path. Malformed lines are skipped and
// counted. A missing file yields no spans.
func ReadSpans(path string) ([]Span, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open span log: %w", err)
	}
	defer f.Close()
	return DecodeSpans(f)
}

func DecodeSpans(r io.Reader) ([]Span, int, error) {
	var spans []Span
	skipped := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, MaxSpanBytes), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Span
		if err := json.Unmarshal(line, &s); err != nil || s.OperationName == "" {
			skipped++
			continue
		}
		spans = append(spans, s)
	}
	if err := sc.Err(); err != nil {
		return spans, skipped, fmt.Errorf("scan span log: %w", err)
	}
	return spans, skipped, nil
}

// Tail returns the last n well-formed spans.
func Tail(path string, n int) ([]Span, error) {
	spans, _, err := ReadSpans(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(spans) > n {
		spans = spans[len(spans)-n:]
	}
	return spans, nil
}
