// Package registry holds the agent bookkeeping rules applied to a state
// snapshot. It does no I/O; the engine runs these under the state lock.
package registry

import (
	"fmt"
	"strings"
	"time"

	"coordline/internal/domain"
	"coordline/internal/state"
)

const MaxCapacity = 100

type Registration struct {
	AgentID        string
	Team           string
	Capacity       int
	Status         domain.AgentStatus
	Specialization string
}

func ValidateCapacity(capacity int) error {
	if capacity < 0 || capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity %d must be between 0 and %d", domain.ErrValidation, capacity, MaxCapacity)
	}
	return nil
}

// Upsert registers reg in snap or refreshes an existing entry. Re-registering
// keeps registered_at and current_workload, and an empty team or
// specialization leaves the stored value. The returned bool is true when a
// new agent was created.
func Upsert(snap *state.Snapshot, reg Registration, now time.Time) (domain.Agent, bool, error) {
	if strings.TrimSpace(reg.AgentID) == "" {
		return domain.Agent{}, false, fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	if err := ValidateCapacity(reg.Capacity); err != nil {
		return domain.Agent{}, false, err
	}
	if reg.Status == "" {
		reg.Status = domain.AgentActive
	}
	if a := snap.Agent(reg.AgentID); a != nil {
		if reg.Team != "" {
			a.Team = reg.Team
		}
		if reg.Specialization != "" {
			a.Specialization = reg.Specialization
		}
		a.Capacity = reg.Capacity
		a.Status = reg.Status
		a.LastHeartbeat = now
		return *a, false, nil
	}
	a := domain.Agent{
		ID:             reg.AgentID,
		Team:           reg.Team,
		Capacity:       reg.Capacity,
		Status:         reg.Status,
		Specialization: reg.Specialization,
		RegisteredAt:   now,
		LastHeartbeat:  now,
	}
	snap.Agents = append(snap.Agents, a)
	return a, true, nil
}

func Heartbeat(snap *state.Snapshot, agentID string, now time.Time) (domain.Agent, error) {
	a := snap.Agent(agentID)
	if a == nil {
		return domain.Agent{}, fmt.Errorf("heartbeat %s: %w", agentID, domain.ErrAgentNotFound)
	}
	a.LastHeartbeat = now
	return *a, nil
}

// IsStale reports whether the agent has not sent a heartbeat within
// threshold. A non-positive threshold never reports stale.
func IsStale(a domain.Agent, threshold time.Duration, now time.Time) bool {
	if threshold <= 0 {
		return false
	}
	return now.Sub(a.LastHeartbeat) > threshold
}

// AddWork adjusts the agent's workload by delta, never going below zero.
func AddWork(snap *state.Snapshot, agentID string, delta int, now time.Time) *domain.Agent {
	a := snap.Agent(agentID)
	if a == nil {
		return nil
	}
	a.CurrentWorkload += delta
	if a.CurrentWorkload < 0 {
		a.CurrentWorkload = 0
	}
	if delta > 0 {
		a.LastHeartbeat = now
	}
	return a
}

// Remove deletes the agent. It refuses while the agent owns active work
// unless force is set; forced removal leaves the orphaned items in place.
func Remove(snap *state.Snapshot, agentID string, force bool) (domain.Agent, error) {
	a := snap.Agent(agentID)
	if a == nil {
		return domain.Agent{}, fmt.Errorf("deregister %s: %w", agentID, domain.ErrAgentNotFound)
	}
	removed := *a
	if owned := snap.ActiveOwnedBy(agentID); owned > 0 && !force {
		return removed, fmt.Errorf("%w: agent %s still owns %d active work items", domain.ErrValidation, agentID, owned)
	}
	snap.RemoveAgent(agentID)
	return removed, nil
}

// Utilisation is workload over capacity as a percentage. Zero capacity with
// any workload reports 100.
func Utilisation(a domain.Agent) float64 {
	if a.Capacity <= 0 {
		if a.CurrentWorkload > 0 {
			return 100
		}
		return 0
	}
	return float64(a.CurrentWorkload) * 100 / float64(a.Capacity)
}
