// Package advisor ranks active work for operators. It is never consulted on
// the claim, progress or complete path.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"coordline/internal/domain"
)

type Ranked struct {
	WorkItemID string  `json:"work_item_id"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason,omitempty"`
}

type Recommendation struct {
	Source  string   `json:"source"`
	Summary string   `json:"summary,omitempty"`
	Ranking []Ranked `json:"ranking"`
}

type Advisor interface {
	AnalyzePriorities(ctx context.Context, items []domain.WorkItem) (Recommendation, error)
}

// Heuristic orders by priority, then by age. It is the fallback when no
// external advisor is configured or the configured one fails.
type Heuristic struct {
	Now func() time.Time
}

func (h Heuristic) AnalyzePriorities(_ context.Context, items []domain.WorkItem) (Recommendation, error) {
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	ranking := make([]Ranked, 0, len(items))
	for _, w := range items {
		age := now.Sub(w.ClaimedAt).Hours()
		if age < 0 {
			age = 0
		}
		score := float64(w.Priority.Rank())*10 + min(age, 72)/7.2 - float64(w.Progress)/50
		ranking = append(ranking, Ranked{
			WorkItemID: w.ID,
			Score:      score,
			Reason:     fmt.Sprintf("%s priority, %.0fh old, %d%% done", w.Priority, age, w.Progress),
		})
	}
	sort.SliceStable(ranking, func(i, j int) bool { return ranking[i].Score > ranking[j].Score })
	return Recommendation{Source: "heuristic", Ranking: ranking}, nil
}

// Command runs an external program with the active items as JSON on stdin
// and reads a Recommendation as JSON from stdout.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

func (c Command) AnalyzePriorities(ctx context.Context, items []domain.WorkItem) (Recommendation, error) {
	if strings.TrimSpace(c.Path) == "" {
		return Recommendation{}, fmt.Errorf("%w: no advisor command configured", domain.ErrAdvisorUnavailable)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(items)
	if err != nil {
		return Recommendation{}, fmt.Errorf("encode advisor input: %w", err)
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Recommendation{}, fmt.Errorf("%w: %s timed out after %s", domain.ErrAdvisorUnavailable, c.Path, timeout)
		}
		return Recommendation{}, fmt.Errorf("%w: %s: %v: %s", domain.ErrAdvisorUnavailable, c.Path, err, strings.TrimSpace(stderr.String()))
	}
	var rec Recommendation
	if err := json.Unmarshal(stdout.Bytes(), &rec); err != nil {
		return Recommendation{}, fmt.Errorf("%w: %s returned invalid JSON: %v", domain.ErrAdvisorUnavailable, c.Path, err)
	}
	if rec.Source == "" {
		rec.Source = c.Path
	}
	return rec, nil
}

// Fallback tries Primary and degrades to Secondary when Primary fails.
type Fallback struct {
	Primary   Advisor
	Secondary Advisor
	Logger    *slog.Logger
}

func (f Fallback) AnalyzePriorities(ctx context.Context, items []domain.WorkItem) (Recommendation, error) {
	if f.Primary != nil {
		rec, err := f.Primary.AnalyzePriorities(ctx, items)
		if err == nil {
			return rec, nil
		}
		if f.Logger != nil {
			f.Logger.Warn("advisor unavailable, using fallback", "err", err)
		}
	}
	if f.Secondary == nil {
		return Recommendation{Source: "none", Ranking: []Ranked{}}, nil
	}
	return f.Secondary.AnalyzePriorities(ctx, items)
}

// New returns the advisor described by command; an empty command yields the
// heuristic alone.
func New(command string, args []string, timeout time.Duration, logger *slog.Logger) Advisor {
	fallback := Heuristic{}
	if strings.TrimSpace(command) == "" {
		return fallback
	}
	return Fallback{
		Primary:   Command{Path: command, Args: args, Timeout: timeout},
		Secondary: fallback,
		Logger:    logger,
	}
}
