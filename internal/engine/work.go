package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"coordline/internal/domain"
	"coordline/internal/registry"
	"coordline/internal/state"
)

// ClaimOptions are parameters for claiming new work.
type ClaimOptions struct {
	AgentID      string
	WorkType     string
	Description  string
	Priority     string
	Team         string
	StoryPoints  *int
	Dependencies []string
	// TraceID joins an existing trace instead of starting one.
	TraceID string
}

func (e Engine) Claim(ctx context.Context, opts ClaimOptions) (domain.WorkItem, error) {
	rec := e.Telemetry.Start("work.claim", opts.TraceID, "")
	var item domain.WorkItem
	attempts, err := e.claim(ctx, opts, rec.TraceID(), rec.SpanID(), &item)
	rec.Set("work.type", opts.WorkType)
	rec.Set("work.priority", opts.Priority)
	rec.Set("agent.id", item.AgentID)
	if item.ID != "" {
		rec.Set("work.id", item.ID)
		rec.Set("team", item.Team)
	}
	e.finish(rec, attempts, err)
	if err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

func (e Engine) claim(ctx context.Context, opts ClaimOptions, traceID, spanID string, out *domain.WorkItem) (int, error) {
	workType := strings.TrimSpace(opts.WorkType)
	if workType == "" {
		return 0, fmt.Errorf("%w: work type is required", domain.ErrValidation)
	}
	description := strings.TrimSpace(opts.Description)
	if description == "" {
		return 0, fmt.Errorf("%w: description is required", domain.ErrValidation)
	}
	priority, err := domain.ParsePriority(opts.Priority)
	if err != nil {
		return 0, err
	}
	if opts.StoryPoints != nil && *opts.StoryPoints < 0 {
		return 0, fmt.Errorf("%w: story points must not be negative", domain.ErrValidation)
	}
	cfg := e.config()
	agentID := strings.TrimSpace(opts.AgentID)
	if agentID == "" {
		if !cfg.Agents.AutoRegister {
			return 0, fmt.Errorf("claim: agent id is required: %w", domain.ErrAgentNotFound)
		}
		agentID = e.ids().AgentID()
	}
	deps := dedupe(opts.Dependencies)

	return e.mutate(ctx, func(snap *state.Snapshot) error {
		now := e.now()
		agent := snap.Agent(agentID)
		if agent == nil {
			if !cfg.Agents.AutoRegister {
				return fmt.Errorf("claim for %s: %w", agentID, domain.ErrAgentNotFound)
			}
			if _, _, err := registry.Upsert(snap, registry.Registration{
				AgentID:  agentID,
				Team:     opts.Team,
				Capacity: cfg.Agents.DefaultCapacity,
			}, now); err != nil {
				return err
			}
			agent = snap.Agent(agentID)
			e.logger().Info("auto-registered agent", "agent", agentID)
		}
		for _, dep := range deps {
			if !snap.Known(dep) {
				return fmt.Errorf("%w: unknown dependency %q", domain.ErrValidation, dep)
			}
		}
		if agent.CurrentWorkload+1 > agent.Capacity {
			if cfg.Agents.EnforceCapacity {
				return fmt.Errorf("claim for %s: workload %d at capacity %d: %w", agentID, agent.CurrentWorkload, agent.Capacity, domain.ErrCapacityExceeded)
			}
			e.logger().Warn("agent over capacity", "agent", agentID, "workload", agent.CurrentWorkload+1, "capacity", agent.Capacity)
		}
		team := strings.TrimSpace(opts.Team)
		if team == "" {
			team = agent.Team
		}
		id := e.ids().WorkID()
		for snap.Known(id) {
			id = e.ids().WorkID()
		}
		item := domain.WorkItem{
			ID:           id,
			AgentID:      agentID,
			WorkType:     workType,
			Description:  description,
			Priority:     priority,
			Status:       domain.StatusActive,
			Team:         team,
			ClaimedAt:    now,
			UpdatedAt:    now,
			StoryPoints:  opts.StoryPoints,
			Dependencies: deps,
			TraceID:      traceID,
			SpanID:       spanID,
		}
		snap.Work = append(snap.Work, item)
		registry.AddWork(snap, agentID, 1, now)
		*out = item
		return nil
	})
}

func (e Engine) Progress(ctx context.Context, id string, percentage int, label string) (domain.WorkItem, error) {
	rec := e.Telemetry.Start("work.progress", "", "")
	rec.Set("work.id", id)
	rec.Set("work.progress", percentage)
	var item domain.WorkItem
	attempts := 0
	var err error
	if percentage < 0 || percentage > 100 {
		err = fmt.Errorf("%w: progress %d must be between 0 and 100", domain.ErrValidation, percentage)
	} else {
		attempts, err = e.mutate(ctx, func(snap *state.Snapshot) error {
			w := snap.WorkItem(id)
			if w == nil {
				return missingWork(snap, id)
			}
			w.Progress = percentage
			w.Status = domain.StatusInProgress
			w.StatusLabel = strings.TrimSpace(label)
			w.UpdatedAt = e.now()
			item = *w
			return nil
		})
	}
	if item.ID != "" {
		rec.Join(item.TraceID, item.SpanID)
		rec.Set("agent.id", item.AgentID)
		rec.Set("work.status", item.DisplayStatus())
	}
	e.finish(rec, attempts, err)
	if err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// CompleteOptions are parameters for finishing work.
type CompleteOptions struct {
	ID     string
	Result string
	// StoryPoints overrides the estimate recorded at claim time.
	StoryPoints *int
}

func (e Engine) Complete(ctx context.Context, opts CompleteOptions) (domain.LogEntry, error) {
	rec := e.Telemetry.Start("work.complete", "", "")
	rec.Set("work.id", opts.ID)
	rec.Set("work.result", opts.Result)
	var entry domain.LogEntry
	var traceID, parent string
	attempts := 0
	result, err := domain.ParseResult(opts.Result)
	if err == nil && opts.StoryPoints != nil && *opts.StoryPoints < 0 {
		err = fmt.Errorf("%w: story points must not be negative", domain.ErrValidation)
	}
	if err == nil {
		attempts, err = e.mutate(ctx, func(snap *state.Snapshot) error {
			w := snap.WorkItem(opts.ID)
			if w == nil {
				return missingWork(snap, opts.ID)
			}
			now := e.now()
			if now.Before(w.ClaimedAt) {
				now = w.ClaimedAt
			}
			points := 0
			if opts.StoryPoints != nil {
				points = *opts.StoryPoints
			} else if w.StoryPoints != nil {
				points = *w.StoryPoints
			}
			if result != domain.ResultSuccess {
				points = 0
			}
			w.Status = result.Status()
			w.StatusLabel = ""
			w.CompletedAt = &now
			w.Result = &result
			w.UpdatedAt = now
			traceID, parent = w.TraceID, w.SpanID
			entry = domain.LogEntry{
				WorkItemID:        w.ID,
				AgentID:           w.AgentID,
				WorkType:          w.WorkType,
				Priority:          w.Priority,
				Team:              w.Team,
				ClaimedAt:         w.ClaimedAt,
				CompletionTime:    now,
				Duration:          domain.Duration(now.Sub(w.ClaimedAt)),
				Result:            result,
				Status:            w.Status,
				StoryPointsEarned: points,
				TraceID:           w.TraceID,
			}
			snap.RemoveWork(w.ID)
			snap.Log = append(snap.Log, entry)
			registry.AddWork(snap, entry.AgentID, -1, now)
			return nil
		})
	}
	if entry.WorkItemID != "" {
		rec.Join(traceID, parent)
		rec.Set("agent.id", entry.AgentID)
		rec.Set("work.status", string(entry.Status))
		rec.Set("story_points", entry.StoryPointsEarned)
		rec.Set("duration_s", entry.Duration.Std().Seconds())
	}
	e.finish(rec, attempts, err)
	if err != nil {
		return domain.LogEntry{}, err
	}
	return entry, nil
}

func missingWork(snap *state.Snapshot, id string) error {
	if snap.LogEntry(id) != nil {
		return fmt.Errorf("work %s: %w", id, domain.ErrAlreadyTerminal)
	}
	return fmt.Errorf("work %s: %w", id, domain.ErrNotFound)
}

// WorkFilter narrows ListWork. Empty fields match everything.
type WorkFilter struct {
	Status  string
	Team    string
	AgentID string
}

// ListWork reads the active store without taking the lock. Items are sorted
// by priority, most urgent first, then by claim time.
func (e Engine) ListWork(f WorkFilter) ([]domain.WorkItem, error) {
	work, err := e.Store.LoadWork()
	if err != nil {
		return nil, err
	}
	logged, err := e.Store.LoadLog()
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(logged))
	for _, l := range logged {
		done[l.WorkItemID] = true
	}
	out := make([]domain.WorkItem, 0, len(work))
	for _, w := range work {
		if done[w.ID] {
			continue
		}
		if f.Status != "" && string(w.Status) != f.Status {
			continue
		}
		if f.Team != "" && w.Team != f.Team {
			continue
		}
		if f.AgentID != "" && w.AgentID != f.AgentID {
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].ClaimedAt.Before(out[j].ClaimedAt)
	})
	return out, nil
}

// GetWork returns an active item by id.
func (e Engine) GetWork(id string) (domain.WorkItem, error) {
	snap, err := e.Store.Load()
	if err != nil {
		return domain.WorkItem{}, err
	}
	if w := snap.WorkItem(id); w != nil {
		return *w, nil
	}
	return domain.WorkItem{}, missingWork(snap, id)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
