package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"coordline/internal/domain"
	"coordline/internal/registry"
	"coordline/internal/state"
)

// RegisterOptions are parameters for Register. A nil Capacity keeps the
// current value of an existing agent and uses the configured default for a
// new one.
type RegisterOptions struct {
	AgentID        string
	Team           string
	Capacity       *int
	Status         string
	Specialization string
	TraceID        string
}

func (e Engine) Register(ctx context.Context, opts RegisterOptions) (domain.Agent, error) {
	rec := e.Telemetry.Start("agent.register", opts.TraceID, "")
	var agent domain.Agent
	var created bool
	attempts := 0
	status, err := domain.ParseAgentStatus(opts.Status)
	if err == nil && opts.Capacity != nil {
		err = registry.ValidateCapacity(*opts.Capacity)
	}
	if err == nil {
		id := strings.TrimSpace(opts.AgentID)
		if id == "" {
			id = e.ids().AgentID()
		}
		attempts, err = e.mutate(ctx, func(snap *state.Snapshot) error {
			capacity := e.config().Agents.DefaultCapacity
			if opts.Capacity != nil {
				capacity = *opts.Capacity
			} else if existing := snap.Agent(id); existing != nil {
				capacity = existing.Capacity
			}
			var err error
			agent, created, err = registry.Upsert(snap, registry.Registration{
				AgentID:        id,
				Team:           strings.TrimSpace(opts.Team),
				Capacity:       capacity,
				Status:         status,
				Specialization: strings.TrimSpace(opts.Specialization),
			}, e.now())
			return err
		})
	}
	rec.Set("agent.id", agent.ID)
	rec.Set("agent.created", created)
	rec.Set("team", agent.Team)
	e.finish(rec, attempts, err)
	if err != nil {
		return domain.Agent{}, err
	}
	if agent.OverCapacity() {
		e.logger().Warn("agent over capacity", "agent", agent.ID, "workload", agent.CurrentWorkload, "capacity", agent.Capacity)
	}
	return agent, nil
}

func (e Engine) Heartbeat(ctx context.Context, agentID string) (domain.Agent, error) {
	rec := e.Telemetry.Start("agent.heartbeat", "", "")
	rec.Set("agent.id", agentID)
	var agent domain.Agent
	attempts, err := e.mutate(ctx, func(snap *state.Snapshot) error {
		var err error
		agent, err = registry.Heartbeat(snap, agentID, e.now())
		return err
	})
	e.finish(rec, attempts, err)
	if err != nil {
		return domain.Agent{}, err
	}
	return agent, nil
}

// Deregister removes an agent. Active work owned by the agent blocks removal
// unless force is set.
func (e Engine) Deregister(ctx context.Context, agentID string, force bool) (domain.Agent, error) {
	rec := e.Telemetry.Start("agent.deregister", "", "")
	rec.Set("agent.id", agentID)
	rec.Set("force", force)
	var agent domain.Agent
	orphaned := 0
	attempts, err := e.mutate(ctx, func(snap *state.Snapshot) error {
		orphaned = snap.ActiveOwnedBy(agentID)
		var err error
		agent, err = registry.Remove(snap, agentID, force)
		return err
	})
	if err == nil && orphaned > 0 {
		rec.Set("orphaned_work", orphaned)
		e.logger().Warn("deregistered agent still owned work", "agent", agentID, "items", orphaned)
	}
	e.finish(rec, attempts, err)
	if err != nil {
		return domain.Agent{}, err
	}
	return agent, nil
}

// ListAgents reads the agent store without taking the lock.
func (e Engine) ListAgents() ([]domain.Agent, error) {
	agents, err := e.Store.LoadAgents()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (e Engine) GetAgent(id string) (domain.Agent, error) {
	agents, err := e.Store.LoadAgents()
	if err != nil {
		return domain.Agent{}, err
	}
	for _, a := range agents {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Agent{}, fmt.Errorf("agent %s: %w", id, domain.ErrAgentNotFound)
}
