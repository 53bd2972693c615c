package state

import (
	"slices"

	"coordline/internal/domain"
)

// Snapshot is the in-memory copy of all collections taken under the lock.
// Records are addressed by id; callers mutate through the returned pointers
// and hand the snapshot back to Store.Save.
type Snapshot struct {
	Agents []domain.Agent
	Work   []domain.WorkItem
	Log    []domain.LogEntry

	// RolledForward lists active ids dropped on load because the log already
	// held them.
	RolledForward []string
}

func (s *Snapshot) Agent(id string) *domain.Agent {
	for i := range s.Agents {
		if s.Agents[i].ID == id {
			return &s.Agents[i]
		}
	}
	return nil
}

func (s *Snapshot) WorkItem(id string) *domain.WorkItem {
	for i := range s.Work {
		if s.Work[i].ID == id {
			return &s.Work[i]
		}
	}
	return nil
}

func (s *Snapshot) LogEntry(id string) *domain.LogEntry {
	for i := range s.Log {
		if s.Log[i].WorkItemID == id {
			return &s.Log[i]
		}
	}
	return nil
}

// Known reports whether id exists as an active item or a log entry.
func (s *Snapshot) Known(id string) bool {
	return s.WorkItem(id) != nil || s.LogEntry(id) != nil
}

// RemoveWork drops the active item with id and returns it.
func (s *Snapshot) RemoveWork(id string) (domain.WorkItem, bool) {
	for i := range s.Work {
		if s.Work[i].ID == id {
			w := s.Work[i]
			s.Work = slices.Delete(s.Work, i, i+1)
			return w, true
		}
	}
	return domain.WorkItem{}, false
}

func (s *Snapshot) RemoveAgent(id string) bool {
	for i := range s.Agents {
		if s.Agents[i].ID == id {
			s.Agents = slices.Delete(s.Agents, i, i+1)
			return true
		}
	}
	return false
}

// ActiveOwnedBy counts active items owned by agentID.
func (s *Snapshot) ActiveOwnedBy(agentID string) int {
	n := 0
	for _, w := range s.Work {
		if w.AgentID == agentID {
			n++
		}
	}
	return n
}
