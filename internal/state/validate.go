package state

import (
	"errors"
	"fmt"

	"coordline/internal/domain"
)

func validateAgent(a domain.Agent) error {
	if a.ID == "" {
		return errors.New("agent without id")
	}
	if a.Status != domain.AgentActive && a.Status != domain.AgentInactive {
		return fmt.Errorf("agent %s: unknown status %q", a.ID, a.Status)
	}
	if a.Capacity < 0 || a.Capacity > 100 {
		return fmt.Errorf("agent %s: capacity %d out of range", a.ID, a.Capacity)
	}
	if a.CurrentWorkload < 0 {
		return fmt.Errorf("agent %s: negative workload", a.ID)
	}
	return nil
}

func validateWork(w domain.WorkItem) error {
	if w.ID == "" {
		return errors.New("work item without id")
	}
	if !w.Status.Valid() {
		return fmt.Errorf("work %s: unknown status %q", w.ID, w.Status)
	}
	if w.Status.IsTerminal() {
		return fmt.Errorf("work %s: terminal status %q in active store", w.ID, w.Status)
	}
	if w.Priority.Rank() == 0 {
		return fmt.Errorf("work %s: unknown priority %q", w.ID, w.Priority)
	}
	if w.Progress < 0 || w.Progress > 100 {
		return fmt.Errorf("work %s: progress %d out of range", w.ID, w.Progress)
	}
	return nil
}

func validateLogEntry(e domain.LogEntry) error {
	if e.WorkItemID == "" {
		return errors.New("log entry without work_item_id")
	}
	switch e.Result {
	case domain.ResultSuccess, domain.ResultFailed, domain.ResultBlocked:
	default:
		return fmt.Errorf("log %s: unknown result %q", e.WorkItemID, e.Result)
	}
	if e.Priority != "" && e.Priority.Rank() == 0 {
		return fmt.Errorf("log %s: unknown priority %q", e.WorkItemID, e.Priority)
	}
	// Entries written before status was recorded carry none.
	if e.Status != "" && e.Status != e.Result.Status() {
		return fmt.Errorf("log %s: status %q does not match result %q", e.WorkItemID, e.Status, e.Result)
	}
	return nil
}
