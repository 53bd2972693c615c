package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordline/internal/app"
	"coordline/internal/domain"
	"coordline/internal/engine"
	"coordline/internal/logging"
)

var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(reportError(os.Stdout, os.Stderr, err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coord",
		Short: "Coordinate work between agents sharing a directory",
		Long: `coord lets independent agents claim, track and complete units of work
through a shared coordination directory.
- Agents register with a team and a capacity, then claim work.
- Every claim gets a unique id; progress and completion refer to it.
- Completed work moves from work_claims.json into coordination_log.json.
- Each operation appends one span to telemetry_spans.jsonl.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	initConfig()
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func initConfig() {
	viper.Reset()
	viper.SetEnvPrefix("COORD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// Names used by earlier shell-based tooling.
	_ = viper.BindEnv("workspace", "COORD_WORKSPACE", "COORDINATION_DIR")
	_ = viper.BindEnv("agent-id", "COORD_AGENT_ID", "AGENT_ID")
	_ = viper.BindEnv("jwt-secret", "COORD_JWT_SECRET")
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "coordination directory")
	flags.Bool("json", false, "output JSON")
	flags.String("agent-id", "", "acting agent identifier")
	flags.String("team", "", "team for register and claim")
	flags.String("lock-mode", "", "lock mode override: auto, enforcing or best-effort")
	flags.Duration("lock-timeout", 0, "lock acquisition timeout override")
	flags.String("trace-id", "", "join an existing trace")
	flags.String("config", "", "config file (default <workspace>/coordline.yml)")
	flags.String("log-level", "", "log level override: debug, info, warn or error")
	for _, name := range []string{"workspace", "json", "agent-id", "team", "lock-mode", "lock-timeout", "trace-id", "config", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(registerCmd())
	root.AddCommand(heartbeatCmd())
	root.AddCommand(deregisterCmd())
	root.AddCommand(listAgentsCmd())
	root.AddCommand(claimCmd())
	root.AddCommand(progressCmd())
	root.AddCommand(completeCmd())
	root.AddCommand(listWorkCmd())
	root.AddCommand(dashboardCmd())
	root.AddCommand(adviseCmd())
	root.AddCommand(telemetryCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(configCmd())
}

// openApp loads config for the workspace and applies flag and env overrides.
func openApp(cmd *cobra.Command) (*app.App, error) {
	workspace := viper.GetString("workspace")
	cfg, err := app.LoadConfig(workspace, viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if mode := viper.GetString("lock-mode"); mode != "" {
		cfg.Lock.Mode = mode
	}
	if timeout := viper.GetDuration("lock-timeout"); timeout > 0 {
		cfg.Lock.Timeout = domain.Duration(timeout)
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return app.New(workspace, cfg, logger)
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

func withEngine(cmd *cobra.Command, fn func(context.Context, engine.Engine) error) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func printJSONOrTable(w io.Writer, v any, render func(table.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(w, v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	render(tw)
	tw.Render()
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
