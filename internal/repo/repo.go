// Package repo indexes telemetry spans into sqlite for aggregate queries.
// The JSONL span log stays the source of truth; the index only ever reads it.
package repo

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"coordline/internal/domain"
	"coordline/internal/telemetry"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is returned when a lookup matches no indexed spans.
var ErrNotFound = domain.ErrNotFound

const tsLayout = time.RFC3339Nano

// IngestResult describes one ingest pass.
type IngestResult struct {
	Indexed   int   `json:"indexed"`
	Malformed int   `json:"malformed"`
	Offset    int64 `json:"offset"`
}

// IngestSpans indexes the spans appended to path since the last pass. A file
// shorter than the stored offset is treated as rotated and read from the
// start. A trailing line without a newline is left for the next pass.
func (r Repo) IngestSpans(ctx context.Context, path string) (IngestResult, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}
	var res IngestResult
	offset, err := r.offset(ctx, key)
	if err != nil {
		return res, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		res.Offset = offset
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("open span log: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return res, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return res, err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO spans(trace_id,span_id,parent_span_id,operation,status,duration_ms,ts,service,error_kind,work_id,agent_id,attributes_json) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return res, err
	}
	defer stmt.Close()

	br := bufio.NewReaderSize(f, telemetry.MaxSpanBytes)
	for {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read span log: %w", err)
		}
		offset += int64(len(line))
		var s telemetry.Span
		if err := json.Unmarshal(line, &s); err != nil || s.OperationName == "" || s.SpanID == "" {
			res.Malformed++
			continue
		}
		attrs, _ := json.Marshal(s.Attributes)
		if attrs == nil || string(attrs) == "null" {
			attrs = []byte("{}")
		}
		result, err := stmt.ExecContext(ctx, s.TraceID, s.SpanID, nullable(s.ParentSpanID), s.OperationName, s.Status,
			s.DurationMS, s.Timestamp.UTC().Format(tsLayout), nullable(s.Service),
			nullable(attrString(s.Attributes, "error.kind")), nullable(attrString(s.Attributes, "work.id")),
			nullable(attrString(s.Attributes, "agent.id")), string(attrs))
		if err != nil {
			return res, fmt.Errorf("index span %s: %w", s.SpanID, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			res.Indexed++
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ingest_offsets(path,byte_offset,updated_at) VALUES (?,?,?)
		ON CONFLICT(path) DO UPDATE SET byte_offset=excluded.byte_offset, updated_at=excluded.updated_at`,
		key, offset, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return res, fmt.Errorf("store ingest offset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Offset = offset
	return res, nil
}

func (r Repo) offset(ctx context.Context, key string) (int64, error) {
	var off int64
	err := r.DB.QueryRowContext(ctx, `SELECT byte_offset FROM ingest_offsets WHERE path=?`, key).Scan(&off)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return off, err
}

// OperationStat aggregates spans of one operation.
type OperationStat struct {
	Operation     string  `json:"operation"`
	Count         int     `json:"count"`
	Errors        int     `json:"errors"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	MaxDurationMS float64 `json:"max_duration_ms"`
}

// OperationStats summarises spans at or after since, per operation.
func (r Repo) OperationStats(ctx context.Context, since time.Time) ([]OperationStat, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT operation, COUNT(*), SUM(CASE WHEN status='error' THEN 1 ELSE 0 END),
		AVG(duration_ms), MAX(duration_ms) FROM spans WHERE ts >= ? GROUP BY operation ORDER BY operation`,
		since.UTC().Format(tsLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []OperationStat
	for rows.Next() {
		var s OperationStat
		if err := rows.Scan(&s.Operation, &s.Count, &s.Errors, &s.AvgDurationMS, &s.MaxDurationMS); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ErrorKinds counts failed spans by classification since the given time.
func (r Repo) ErrorKinds(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT COALESCE(error_kind,'unknown'), COUNT(*) FROM spans
		WHERE status='error' AND ts >= ? GROUP BY 1`, since.UTC().Format(tsLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		res[kind] = n
	}
	return res, rows.Err()
}

// TraceSpans returns every indexed span of a trace in time order.
func (r Repo) TraceSpans(ctx context.Context, traceID string) ([]telemetry.Span, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT trace_id, span_id, COALESCE(parent_span_id,''), operation, status,
		duration_ms, ts, COALESCE(service,''), attributes_json FROM spans WHERE trace_id=? ORDER BY ts, span_id`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []telemetry.Span
	for rows.Next() {
		var s telemetry.Span
		var ts, attrs string
		if err := rows.Scan(&s.TraceID, &s.SpanID, &s.ParentSpanID, &s.OperationName, &s.Status,
			&s.DurationMS, &ts, &s.Service, &attrs); err != nil {
			return nil, err
		}
		s.Timestamp, _ = time.Parse(tsLayout, ts)
		if err := json.Unmarshal([]byte(attrs), &s.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", s.SpanID, err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res, nil
}

// WorkHistory returns the trace ids recorded against a work item.
func (r Repo) WorkHistory(ctx context.Context, workID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT trace_id FROM spans WHERE work_id=? ORDER BY trace_id`, workID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func attrString(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
