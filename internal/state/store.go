// Package state persists the three coordination collections as JSON arrays
// in a shared directory.
//
// Every Save replaces each file by writing a temp file in the same directory,
// syncing it and renaming it over the target, so readers see either the old
// or the new file and never a partial one. The coordination log is written
// before the active claims: a crash between the two renames can leave an item
// in both files, and Load rolls that forward by treating the logged copy as
// the committed one. Agent workloads are recounted from the active claims on
// Load, so a crash before the agents rename cannot leave them skewed.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"coordline/internal/domain"
)

const (
	AgentsFile = "agent_status.json"
	WorkFile   = "work_claims.json"
	LogFile    = "coordination_log.json"
	SpansFile  = "telemetry_spans.jsonl"

	// LockKey names the lock guarding all three collections.
	LockKey = WorkFile
)

type Store struct {
	Dir string
}

func New(dir string) Store {
	return Store{Dir: dir}
}

func (s Store) path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Load reads all three collections. Any parse failure or invariant violation
// yields domain.ErrCorruptState and nothing is written.
func (s Store) Load() (*Snapshot, error) {
	agents, err := s.LoadAgents()
	if err != nil {
		return nil, err
	}
	logEntries, err := s.LoadLog()
	if err != nil {
		return nil, err
	}
	work, err := s.LoadWork()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Agents: agents, Log: logEntries}
	logged := make(map[string]bool, len(logEntries))
	for _, e := range logEntries {
		logged[e.WorkItemID] = true
	}
	for _, w := range work {
		if logged[w.ID] {
			snap.RolledForward = append(snap.RolledForward, w.ID)
			continue
		}
		snap.Work = append(snap.Work, w)
	}
	owned := make(map[string]int, len(snap.Agents))
	for _, w := range snap.Work {
		owned[w.AgentID]++
	}
	for i := range snap.Agents {
		snap.Agents[i].CurrentWorkload = owned[snap.Agents[i].ID]
	}
	return snap, nil
}

// Save writes the snapshot. The log goes first, then claims, then agents.
func (s Store) Save(snap *Snapshot) error {
	if snap == nil {
		return errors.New("save: nil snapshot")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := writeJSON(s.path(LogFile), nonNil(snap.Log)); err != nil {
		return err
	}
	if err := writeJSON(s.path(WorkFile), nonNil(snap.Work)); err != nil {
		return err
	}
	if err := writeJSON(s.path(AgentsFile), nonNil(snap.Agents)); err != nil {
		return err
	}
	snap.RolledForward = nil
	return nil
}

func (s Store) LoadAgents() ([]domain.Agent, error) {
	var agents []domain.Agent
	if err := readJSON(s.path(AgentsFile), &agents); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(agents))
	for i, a := range agents {
		if err := validateAgent(a); err != nil {
			return nil, corrupt(AgentsFile, fmt.Errorf("entry %d: %w", i, err))
		}
		if seen[a.ID] {
			return nil, corrupt(AgentsFile, fmt.Errorf("duplicate agent id %q", a.ID))
		}
		seen[a.ID] = true
	}
	return agents, nil
}

func (s Store) LoadWork() ([]domain.WorkItem, error) {
	var work []domain.WorkItem
	if err := readJSON(s.path(WorkFile), &work); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(work))
	for i := range work {
		if err := validateWork(work[i]); err != nil {
			return nil, corrupt(WorkFile, fmt.Errorf("entry %d: %w", i, err))
		}
		if seen[work[i].ID] {
			return nil, corrupt(WorkFile, fmt.Errorf("duplicate work id %q", work[i].ID))
		}
		seen[work[i].ID] = true
		if work[i].Dependencies == nil {
			work[i].Dependencies = []string{}
		}
	}
	return work, nil
}

func (s Store) LoadLog() ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	if err := readJSON(s.path(LogFile), &entries); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if err := validateLogEntry(e); err != nil {
			return nil, corrupt(LogFile, fmt.Errorf("entry %d: %w", i, err))
		}
		if seen[e.WorkItemID] {
			return nil, corrupt(LogFile, fmt.Errorf("duplicate log entry for %q", e.WorkItemID))
		}
		seen[e.WorkItemID] = true
	}
	return entries, nil
}

func corrupt(name string, err error) error {
	return fmt.Errorf("%s: %w: %v", name, domain.ErrCorruptState, err)
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return corrupt(filepath.Base(path), err)
	}
	if dec.More() {
		return corrupt(filepath.Base(path), errors.New("trailing data after array"))
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// SpansPath is the telemetry log that sits next to the collections.
func (s Store) SpansPath() string {
	return s.path(SpansFile)
}
