package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordline/internal/app"
	"coordline/internal/config"
	"coordline/internal/dashboard"
	"coordline/internal/domain"
	"coordline/internal/engine"
	"coordline/internal/mcptools"
	"coordline/internal/server"
	"coordline/internal/telemetry"
)

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func dashboardCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize active work, agents, completions and velocity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				stale := a.Config.Agents.StaleAfter.Std()
				show := func() {
					report := dashboard.Build(a.Engine.Store, a.SpansPath(), time.Now(), stale)
					if viper.GetBool("json") {
						_ = printJSON(out, report)
						return
					}
					if watch {
						fmt.Fprint(out, "\033[H\033[2J")
					}
					dashboard.Render(out, report)
				}
				if !watch {
					show()
					return nil
				}
				ctx, stop := signalContext(ctx)
				defer stop()
				return dashboard.Watch(ctx, a.Workspace, show)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "re-render whenever the state files change")
	return cmd
}

func adviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advise",
		Short: "Rank active work with the configured advisor",
		Long:  "Runs advisor.command with the active work as JSON on stdin. Falls back to a priority and age heuristic when no command is configured or it fails.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListWork(engine.WorkFilter{})
				if err != nil {
					return err
				}
				rec, err := a.Advisor.AnalyzePriorities(ctx, items)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), rec, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("Recommendation (%s)", rec.Source))
					tw.AppendHeader(table.Row{"#", "Work", "Score", "Reason"})
					for i, r := range rec.Ranking {
						tw.AppendRow(table.Row{i + 1, r.WorkItemID, fmt.Sprintf("%.2f", r.Score), r.Reason})
					}
					if rec.Summary != "" {
						tw.AppendFooter(table.Row{"", rec.Summary})
					}
				})
			})
		},
	}
}

func telemetryCmd() *cobra.Command {
	tel := &cobra.Command{
		Use:   "telemetry",
		Short: "Inspect operation spans",
		Long:  "Every coordination operation appends one span to telemetry_spans.jsonl. stats and trace read a sqlite index built from that file.",
	}
	tel.AddCommand(telemetryTailCmd())
	tel.AddCommand(telemetryStatsCmd())
	tel.AddCommand(telemetryTraceCmd())
	tel.AddCommand(telemetryReindexCmd())
	return tel
}

func telemetryReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the span index from the span log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				r, closeIndex, err := a.RebuildIndex(ctx)
				if err != nil {
					return err
				}
				defer closeIndex()
				stats, err := r.OperationStats(ctx, time.Time{})
				if err != nil {
					return err
				}
				total := 0
				for _, s := range stats {
					total += s.Count
				}
				fprintln(cmd.OutOrStdout(), "indexed", total, "spans")
				return nil
			})
		},
	}
}

func spanRows(tw table.Writer, spans []telemetry.Span) {
	tw.AppendHeader(table.Row{"Time", "Operation", "Status", "Duration ms", "Trace", "Span", "Error"})
	for _, s := range spans {
		errKind, _ := s.Attributes["error.kind"].(string)
		tw.AppendRow(table.Row{formatTime(s.Timestamp), s.OperationName, s.Status, fmt.Sprintf("%.2f", s.DurationMS), s.TraceID, s.SpanID, errKind})
	}
}

func telemetryTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent spans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				spans, err := telemetry.Tail(a.SpansPath(), n)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), spans, func(tw table.Writer) { spanRows(tw, spans) })
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of spans")
	return cmd
}

func telemetryStatsCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate spans per operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				r, closeIndex, err := a.OpenIndex(ctx)
				if err != nil {
					return err
				}
				defer closeIndex()
				from := time.Now().Add(-since)
				stats, err := r.OperationStats(ctx, from)
				if err != nil {
					return err
				}
				kinds, err := r.ErrorKinds(ctx, from)
				if err != nil {
					return err
				}
				out := struct {
					Since      time.Time      `json:"since"`
					Operations any            `json:"operations"`
					ErrorKinds map[string]int `json:"error_kinds"`
				}{from.UTC(), stats, kinds}
				return printJSONOrTable(cmd.OutOrStdout(), out, func(tw table.Writer) {
					tw.SetTitle("Spans since " + formatTime(from))
					tw.AppendHeader(table.Row{"Operation", "Count", "Errors", "Avg ms", "Max ms"})
					for _, s := range stats {
						tw.AppendRow(table.Row{s.Operation, s.Count, s.Errors, fmt.Sprintf("%.2f", s.AvgDurationMS), fmt.Sprintf("%.2f", s.MaxDurationMS)})
					}
					for kind, count := range kinds {
						tw.AppendFooter(table.Row{"error: " + kind, count})
					}
				})
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window to aggregate")
	return cmd
}

func telemetryTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <trace_id|work_id>",
		Short: "Show every span of a trace, or of the traces touching a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				r, closeIndex, err := a.OpenIndex(ctx)
				if err != nil {
					return err
				}
				defer closeIndex()
				traceIDs := []string{args[0]}
				if !telemetry.ValidTraceID(args[0]) {
					traceIDs, err = r.WorkHistory(ctx, args[0])
					if err != nil {
						return err
					}
					if len(traceIDs) == 0 {
						return fmt.Errorf("work %s has no recorded spans: %w", args[0], domain.ErrNotFound)
					}
				}
				var spans []telemetry.Span
				for _, id := range traceIDs {
					got, err := r.TraceSpans(ctx, id)
					if err != nil {
						return fmt.Errorf("trace %s: %w", id, err)
					}
					spans = append(spans, got...)
				}
				return printJSONOrTable(cmd.OutOrStdout(), spans, func(tw table.Writer) { spanRows(tw, spans) })
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:     a.Engine,
					BasePath:   basePath,
					Auth:       server.AuthConfig{JWTSecret: a.Config.Server.JWTSecret},
					StaleAfter: a.Config.Agents.StaleAfter.Std(),
					Logger:     a.Logger,
				})
				if err != nil {
					return err
				}
				if a.Config.Server.JWTSecret == "" {
					a.Logger.Warn("serving without authentication; set server.jwt_secret or COORD_JWT_SECRET to require bearer tokens")
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				ctx, stop := signalContext(ctx)
				defer stop()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Fprintf(cmd.OutOrStdout(), "Serving coordination API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve coordination tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				s := mcptools.NewServer(a.Engine, version, a.Config.Agents.StaleAfter.Std())
				return mcptools.ServeStdio(s)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect and create coordline.yml"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Config)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default coordline.yml into the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%w: %s already exists (use --force to overwrite)", domain.ErrValidation, path)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
