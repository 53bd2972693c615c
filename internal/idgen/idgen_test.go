package idgen

import (
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"
)

var workIDPattern = regexp.MustCompile(`^work_\d+_[0-9a-f]{12}$`)

func TestWorkIDFormat(t *testing.T) {
	id := WorkID()
	if !workIDPattern.MatchString(id) {
		t.Fatalf("id %q does not match %s", id, workIDPattern)
	}
	if a := AgentID(); !regexp.MustCompile(`^agent_\d+_[0-9a-f]{12}$`).MatchString(a) {
		t.Fatalf("agent id %q has wrong format", a)
	}
}

func TestFrozenClockStillUnique(t *testing.T) {
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &Generator{Now: func() time.Time { return frozen }}
	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := g.WorkID()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*perWorker {
		t.Fatalf("got %d ids, want %d", len(seen), workers*perWorker)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestEntropyFailureFallsBack(t *testing.T) {
	g := &Generator{Entropy: failingReader{}}
	a, b := g.NewID(), g.NewID()
	if a == b {
		t.Fatalf("ids collided without entropy: %s", a)
	}
	if !regexp.MustCompile(`^\d+_[0-9a-f]{12}$`).MatchString(a) {
		t.Fatalf("fallback id %q has wrong format", a)
	}
}

func TestTwoGeneratorsSameTickDiffer(t *testing.T) {
	frozen := time.Unix(0, 42)
	g1 := &Generator{Now: func() time.Time { return frozen }}
	g2 := &Generator{Now: func() time.Time { return frozen }}
	if g1.NewID() == g2.NewID() {
		t.Fatalf("independent generators collided at the same tick")
	}
}
