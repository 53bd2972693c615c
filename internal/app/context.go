package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"coordline/internal/advisor"
	"coordline/internal/config"
	"coordline/internal/db"
	"coordline/internal/engine"
	"coordline/internal/lock"
	"coordline/internal/migrate"
	"coordline/internal/repo"
)

// App bundles everything a front end (CLI, HTTP, MCP) needs for one
// workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Advisor   advisor.Advisor
	Logger    *slog.Logger
	// Degraded is true when auto lock mode fell back to best-effort.
	Degraded bool
}

// LoadConfig reads the config at path, or coordline.yml in the workspace
// when path is empty. A missing workspace file yields defaults; a missing
// explicit file is an error.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", config.Path(workspace), err)
	}
	return cfg, nil
}

// New builds the engine for workspace. The lock strategy is chosen once
// here, and a best-effort fallback is always announced on the logger.
func New(workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if workspace == "" {
		workspace = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	mode, err := lock.ParseMode(cfg.Lock.Mode)
	if err != nil {
		return nil, err
	}
	sel, err := lock.Select(mode, workspace)
	if err != nil {
		return nil, err
	}
	switch {
	case sel.Degraded:
		logger.Warn("advisory file locks unavailable; running in best-effort lock mode, concurrent writers may lose updates", "workspace", workspace)
	case sel.Locker.Mode() == lock.ModeBestEffort:
		logger.Warn("best-effort lock mode selected; concurrent writers may lose updates", "workspace", workspace)
	}
	eng := engine.New(workspace, cfg, sel.Locker, logger)
	return &App{
		Workspace: workspace,
		Config:    cfg,
		Engine:    eng,
		Advisor:   advisor.New(cfg.Advisor.Command, cfg.Advisor.Args, cfg.Advisor.Timeout.Std(), logger),
		Logger:    logger,
		Degraded:  sel.Degraded,
	}, nil
}

// OpenIndex opens and migrates the span index and brings it up to date with
// the span log.
func (a *App) OpenIndex(ctx context.Context) (repo.Repo, func() error, error) {
	conn, err := db.Open(db.Config{Workspace: a.Workspace})
	if err != nil {
		return repo.Repo{}, nil, fmt.Errorf("open span index: %w", err)
	}
	closeFn := func() error { return conn.Close() }
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		_ = conn.Close()
		return repo.Repo{}, nil, fmt.Errorf("migrate span index: %w", err)
	}
	r := repo.Repo{DB: conn}
	res, err := r.IngestSpans(ctx, a.Engine.Store.SpansPath())
	if err != nil {
		_ = conn.Close()
		return repo.Repo{}, nil, err
	}
	if res.Malformed > 0 {
		a.Logger.Warn("skipped malformed span lines", "count", res.Malformed)
	}
	return r, closeFn, nil
}

// RebuildIndex discards the span index and ingests the whole span log again.
func (a *App) RebuildIndex(ctx context.Context) (repo.Repo, func() error, error) {
	if err := db.Remove(a.Workspace); err != nil {
		return repo.Repo{}, nil, fmt.Errorf("remove span index: %w", err)
	}
	return a.OpenIndex(ctx)
}

// SpansPath is the telemetry log for the workspace.
func (a *App) SpansPath() string {
	return a.Engine.Store.SpansPath()
}

// IndexPath is where the span index lives.
func IndexPath(workspace string) string {
	return db.Path(workspace)
}
