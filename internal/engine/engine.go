package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coordline/internal/config"
	"coordline/internal/idgen"
	"coordline/internal/lock"
	"coordline/internal/state"
	"coordline/internal/telemetry"
)

// Engine applies work and agent transactions to the shared state directory.
// Every mutation is one Acquire, Load, mutate, Save, Release cycle followed
// by exactly one telemetry span.
type Engine struct {
	Store     state.Store
	Locker    lock.Locker
	Telemetry *telemetry.Emitter
	Config    *config.Config
	IDs       *idgen.Generator
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(dir string, cfg *config.Config, locker lock.Locker, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		Store:  state.New(dir),
		Locker: locker,
		Telemetry: &telemetry.Emitter{
			Path:     state.New(dir).SpansPath(),
			Service:  cfg.Telemetry.Service,
			Disabled: !cfg.Telemetry.Enabled,
		},
		Config: cfg,
		IDs:    &idgen.Generator{},
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) ids() *idgen.Generator {
	if e.IDs != nil {
		return e.IDs
	}
	return &idgen.Generator{Now: e.Now}
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// mutate runs fn against a freshly loaded snapshot under the state lock and
// saves the result when fn succeeds. Lock timeouts are retried with bounded
// exponential backoff; every other error is returned as is.
func (e Engine) mutate(ctx context.Context, fn func(*state.Snapshot) error) (int, error) {
	if e.Locker == nil {
		return 0, errors.New("engine: no locker configured")
	}
	cfg := e.config()
	retries := min(max(cfg.Lock.Retries, 0), config.MaxLockRetries)
	backoff := min(cfg.Lock.Backoff.Std(), config.MaxBackoff)
	attempts := 0
	for {
		attempts++
		err := e.attempt(ctx, fn)
		if err == nil || !errors.Is(err, lock.ErrLockTimeout) || attempts > retries {
			return attempts, err
		}
		e.logger().Debug("lock busy, retrying", "attempt", attempts, "backoff", backoff)
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempts, err
			}
		}
		backoff = min(backoff*2, config.MaxBackoff)
	}
}

func (e Engine) attempt(ctx context.Context, fn func(*state.Snapshot) error) (err error) {
	release, err := e.Locker.Acquire(ctx, state.LockKey, e.config().Lock.Timeout.Std())
	if err != nil {
		return err
	}
	defer func() {
		if relErr := release(); relErr != nil && err == nil {
			err = fmt.Errorf("release lock: %w", relErr)
		}
	}()
	snap, err := e.Store.Load()
	if err != nil {
		return err
	}
	if len(snap.RolledForward) > 0 {
		e.logger().Info("dropping active items already in coordination log", "ids", snap.RolledForward)
	}
	if err := fn(snap); err != nil {
		return err
	}
	return e.Store.Save(snap)
}

// finish stamps the common span attributes and emits it. Emission failures
// are logged and never replace the operation result.
func (e Engine) finish(rec *telemetry.Recorder, attempts int, opErr error) {
	rec.Set("attempts", attempts)
	if e.Locker != nil {
		rec.Set("lock.mode", string(e.Locker.Mode()))
	}
	if err := rec.End(opErr); err != nil {
		e.logger().Warn("telemetry emit failed", "err", err)
	}
}
