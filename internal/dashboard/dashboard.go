// Package dashboard computes read-only aggregates over the coordination
// state. It never takes the state lock; a store that fails to load is
// recorded in Report.Errors and the rest of the report is still built.
package dashboard

import (
	"sort"
	"time"

	"coordline/internal/domain"
	"coordline/internal/registry"
	"coordline/internal/state"
	"coordline/internal/telemetry"
)

type Report struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	Active       ActiveSummary    `json:"active"`
	Agents       []AgentRow       `json:"agents"`
	Completions  map[string]int   `json:"completions_by_result"`
	Velocity     Velocity         `json:"velocity"`
	AvgCycleTime *domain.Duration `json:"avg_cycle_time,omitempty"`
	Spans        SpanSummary      `json:"spans"`
	Errors       []string         `json:"errors,omitempty"`
}

type ActiveSummary struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
	ByTeam     map[string]int `json:"by_team"`
}

type AgentRow struct {
	ID            string    `json:"id"`
	Team          string    `json:"team"`
	Status        string    `json:"status"`
	Workload      int       `json:"workload"`
	Capacity      int       `json:"capacity"`
	Utilisation   float64   `json:"utilisation"`
	OverCapacity  bool      `json:"over_capacity"`
	Stale         bool      `json:"stale"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

type Window struct {
	Completions int `json:"completions"`
	StoryPoints int `json:"story_points"`
}

type Velocity struct {
	Last24h Window `json:"last_24h"`
	Last7d  Window `json:"last_7d"`
}

type SpanSummary struct {
	Total     int     `json:"total"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
	Malformed int     `json:"malformed"`
}

// recentSpanWindow bounds the spans considered for the error rate.
const recentSpanWindow = 24 * time.Hour

// Build loads each store independently and aggregates what it can.
func Build(store state.Store, spansPath string, now time.Time, staleAfter time.Duration) Report {
	r := Report{
		GeneratedAt: now.UTC(),
		Active: ActiveSummary{
			ByStatus:   map[string]int{},
			ByPriority: map[string]int{},
			ByTeam:     map[string]int{},
		},
		Agents:      []AgentRow{},
		Completions: map[string]int{},
	}

	logEntries, err := store.LoadLog()
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	logged := make(map[string]bool, len(logEntries))
	var cycle time.Duration
	for _, e := range logEntries {
		logged[e.WorkItemID] = true
		r.Completions[string(e.Result)]++
		cycle += e.Duration.Std()
		age := now.Sub(e.CompletionTime)
		if age <= 24*time.Hour {
			r.Velocity.Last24h.Completions++
			r.Velocity.Last24h.StoryPoints += e.StoryPointsEarned
		}
		if age <= 7*24*time.Hour {
			r.Velocity.Last7d.Completions++
			r.Velocity.Last7d.StoryPoints += e.StoryPointsEarned
		}
	}
	if len(logEntries) > 0 {
		avg := domain.Duration(cycle / time.Duration(len(logEntries)))
		r.AvgCycleTime = &avg
	}

	work, err := store.LoadWork()
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	for _, w := range work {
		if logged[w.ID] {
			continue
		}
		r.Active.Total++
		r.Active.ByStatus[string(w.Status)]++
		r.Active.ByPriority[string(w.Priority)]++
		team := w.Team
		if team == "" {
			team = "-"
		}
		r.Active.ByTeam[team]++
	}

	agents, err := store.LoadAgents()
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	for _, a := range agents {
		r.Agents = append(r.Agents, AgentRow{
			ID:            a.ID,
			Team:          a.Team,
			Status:        string(a.Status),
			Workload:      a.CurrentWorkload,
			Capacity:      a.Capacity,
			Utilisation:   registry.Utilisation(a),
			OverCapacity:  a.OverCapacity(),
			Stale:         registry.IsStale(a, staleAfter, now),
			LastHeartbeat: a.LastHeartbeat,
		})
	}
	sort.Slice(r.Agents, func(i, j int) bool { return r.Agents[i].ID < r.Agents[j].ID })

	if spansPath != "" {
		spans, malformed, err := telemetry.ReadSpans(spansPath)
		if err != nil {
			r.Errors = append(r.Errors, err.Error())
		}
		r.Spans.Malformed = malformed
		for _, s := range spans {
			if now.Sub(s.Timestamp) > recentSpanWindow {
				continue
			}
			r.Spans.Total++
			if s.Status == telemetry.StatusError {
				r.Spans.Errors++
			}
		}
		if r.Spans.Total > 0 {
			r.Spans.ErrorRate = float64(r.Spans.Errors) / float64(r.Spans.Total)
		}
	}
	return r
}
