// Package lock serializes read-modify-write cycles on the shared state
// directory.
//
// The enforcing locker combines an in-process semaphore per lock path with an
// advisory flock(2) on a sidecar file, so goroutines in one process and
// separate processes on the same filesystem both queue behind the holder.
// The best-effort locker grants every request immediately and is only used
// when the platform has no flock or the operator asks for it.
package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"coordline/internal/domain"
)

// ErrLockTimeout is returned when the lock could not be taken in time.
var ErrLockTimeout = domain.ErrLockTimeout

type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeEnforcing  Mode = "enforcing"
	ModeBestEffort Mode = "best-effort"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeEnforcing, ModeBestEffort:
		return m, nil
	case "best_effort", "besteffort":
		return ModeBestEffort, nil
	}
	return "", fmt.Errorf("%w: lock mode %q must be auto, enforcing or best-effort", domain.ErrValidation, s)
}

// Release gives the lock back. It is safe to call more than once.
type Release func() error

type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Release, error)
	Mode() Mode
}

// Selection is the outcome of Select. Degraded is true when auto mode had to
// fall back to best-effort.
type Selection struct {
	Locker   Locker
	Degraded bool
}

// Select builds the locker for mode rooted at dir.
func Select(mode Mode, dir string) (Selection, error) {
	switch mode {
	case ModeAuto, "":
		if Supported() {
			return Selection{Locker: NewEnforcing(dir)}, nil
		}
		return Selection{Locker: BestEffort{}, Degraded: true}, nil
	case ModeEnforcing:
		if !Supported() {
			return Selection{}, fmt.Errorf("enforcing lock mode is not supported on this platform")
		}
		return Selection{Locker: NewEnforcing(dir)}, nil
	case ModeBestEffort:
		return Selection{Locker: BestEffort{}}, nil
	}
	return Selection{}, fmt.Errorf("%w: unknown lock mode %q", domain.ErrValidation, mode)
}

// Enforcing is the flock-backed locker.
type Enforcing struct {
	Dir string
	// MinPoll and MaxPoll bound the backoff between non-blocking attempts.
	MinPoll time.Duration
	MaxPoll time.Duration
}

func NewEnforcing(dir string) *Enforcing {
	return &Enforcing{Dir: dir, MinPoll: time.Millisecond, MaxPoll: 50 * time.Millisecond}
}

func (e *Enforcing) Mode() Mode { return ModeEnforcing }

func (e *Enforcing) Acquire(ctx context.Context, key string, timeout time.Duration) (Release, error) {
	path := filepath.Join(e.Dir, key+".lock")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sem := semaphoreFor(path)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, timeoutError(ctx, path, timeout)
	}

	poll := e.MinPoll
	if poll <= 0 {
		poll = time.Millisecond
	}
	maxPoll := e.MaxPoll
	if maxPoll < poll {
		maxPoll = poll
	}
	for {
		f, ok, err := tryFlock(path)
		if err != nil {
			<-sem
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if ok {
			var once sync.Once
			var relErr error
			return func() error {
				once.Do(func() {
					relErr = unflock(f)
					<-sem
				})
				return relErr
			}, nil
		}
		timer := time.NewTimer(poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-sem
			return nil, timeoutError(ctx, path, timeout)
		}
		poll *= 2
		if poll > maxPoll {
			poll = maxPoll
		}
	}
}

func timeoutError(ctx context.Context, path string, timeout time.Duration) error {
	if ctx.Err() == context.Canceled {
		return fmt.Errorf("lock %s: %w", path, ctx.Err())
	}
	return fmt.Errorf("lock %s after %s: %w", path, timeout, ErrLockTimeout)
}

var (
	semMu      sync.Mutex
	semaphores = map[string]chan struct{}{}
)

func semaphoreFor(path string) chan struct{} {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	semMu.Lock()
	defer semMu.Unlock()
	sem, ok := semaphores[path]
	if !ok {
		sem = make(chan struct{}, 1)
		semaphores[path] = sem
	}
	return sem
}

// BestEffort performs no locking. Concurrent writers race and the last
// rename wins.
type BestEffort struct{}

func (BestEffort) Mode() Mode { return ModeBestEffort }

func (BestEffort) Acquire(ctx context.Context, _ string, _ time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() error { return nil }, nil
}
