package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordline/internal/app"
	"coordline/internal/domain"
	"coordline/internal/engine"
	"coordline/internal/registry"
)

func intArg(name, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", domain.ErrValidation, name, value)
	}
	return n, nil
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register [capacity] [status] [specialization]",
		Short: "Register the acting agent or refresh its details",
		Long:  "Registers --agent-id (or AGENT_ID) in --team. Re-registering keeps the agent's workload and registration time, and an omitted team or specialization keeps the stored one.",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RegisterOptions{
				AgentID: viper.GetString("agent-id"),
				Team:    viper.GetString("team"),
				TraceID: viper.GetString("trace-id"),
			}
			if opts.AgentID == "" {
				return fmt.Errorf("%w: --agent-id or AGENT_ID is required", domain.ErrValidation)
			}
			if len(args) > 0 {
				capacity, err := intArg("capacity", args[0])
				if err != nil {
					return err
				}
				opts.Capacity = &capacity
			}
			if len(args) > 1 {
				opts.Status = args[1]
			}
			if len(args) > 2 {
				opts.Specialization = args[2]
			}
			return withEngine(cmd, func(ctx context.Context, e engine.Engine) error {
				agent, err := e.Register(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), agent)
				}
				fprintln(cmd.OutOrStdout(), agent.ID)
				return nil
			})
		},
	}
	return cmd
}

func heartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Refresh the acting agent's heartbeat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := viper.GetString("agent-id")
			if agentID == "" {
				return fmt.Errorf("%w: --agent-id or AGENT_ID is required", domain.ErrValidation)
			}
			return withEngine(cmd, func(ctx context.Context, e engine.Engine) error {
				agent, err := e.Heartbeat(ctx, agentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), agent)
				}
				fprintln(cmd.OutOrStdout(), formatTime(agent.LastHeartbeat))
				return nil
			})
		},
	}
}

func deregisterCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "deregister <agent_id>",
		Short: "Remove an agent from the registry",
		Long:  "Refuses while the agent still owns active work unless --force is given; forced removal leaves that work in place.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e engine.Engine) error {
				agent, err := e.Deregister(ctx, args[0], force)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), agent)
				}
				fprintln(cmd.OutOrStdout(), "deregistered", agent.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove even while the agent owns active work")
	return cmd
}

func listAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				agents, err := a.Engine.ListAgents()
				if err != nil {
					return err
				}
				stale := a.Config.Agents.StaleAfter.Std()
				now := time.Now()
				return printJSONOrTable(cmd.OutOrStdout(), agents, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Team", "Status", "Workload", "Capacity", "Specialization", "Last heartbeat", "Flags"})
					for _, ag := range agents {
						var flags []string
						if registry.IsStale(ag, stale, now) {
							flags = append(flags, "stale")
						}
						if ag.OverCapacity() {
							flags = append(flags, "over-capacity")
						}
						tw.AppendRow(table.Row{ag.ID, ag.Team, ag.Status, ag.CurrentWorkload, ag.Capacity, ag.Specialization, formatTime(ag.LastHeartbeat), strings.Join(flags, ",")})
					}
				})
			})
		},
	}
}

func claimCmd() *cobra.Command {
	var storyPoints int
	var dependsOn []string
	cmd := &cobra.Command{
		Use:   "claim <work_type> <description> [priority] [team]",
		Short: "Claim new work and print its id",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ClaimOptions{
				AgentID:      viper.GetString("agent-id"),
				WorkType:     args[0],
				Description:  args[1],
				Team:         viper.GetString("team"),
				Dependencies: dependsOn,
				TraceID:      viper.GetString("trace-id"),
			}
			if len(args) > 2 {
				opts.Priority = args[2]
			}
			if len(args) > 3 {
				opts.Team = args[3]
			}
			if cmd.Flags().Changed("story-points") {
				opts.StoryPoints = &storyPoints
			}
			return withEngine(cmd, func(ctx context.Context, e engine.Engine) error {
				item, err := e.Claim(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), item)
				}
				fprintln(cmd.OutOrStdout(), item.ID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&storyPoints, "story-points", 0, "estimated story points")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "ids of work this depends on (repeatable or comma-separated)")
	return cmd
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <work_id> <percentage> [label]",
		Short: "Report progress on active work",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := intArg("percentage", args[1])
			if err != nil {
				return err
			}
			label := ""
			if len(args) > 2 {
				label = args[2]
			}
			return withEngine(cmd, func(ctx context.Context, e engine.Engine) error {
				item, err := e.Progress(ctx, args[0], pct, label)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), item)
				}
				fprintln(cmd.OutOrStdout(), item.ID, item.DisplayStatus(), fmt.Sprintf("%d%%", item.Progress))
				return nil
			})
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <work_id> <result> [story_points]",
		Short: "Complete work with success, failed or blocked",
		Long:  "Moves the item into the coordination log. Story points are earned only on success; omitting them uses the claim estimate.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CompleteOptions{ID: args[0], Result: args[1]}
			if len(args) > 2 {
				points, err := intArg("story_points", args[2])
				if err != nil {
					return err
				}
				opts.StoryPoints = &points
			}
			return withEngine(cmd, func(ctx context.Context, e engine.Engine) error {
				entry, err := e.Complete(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), entry)
				}
				fprintln(cmd.OutOrStdout(), entry.WorkItemID, entry.Result, entry.Duration.Std())
				return nil
			})
		},
	}
}

func listWorkCmd() *cobra.Command {
	var f engine.WorkFilter
	cmd := &cobra.Command{
		Use:   "list-work",
		Short: "List active work, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListWork(f)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Agent", "Type", "Priority", "Status", "Progress", "Team", "Claimed", "Description"})
					for _, w := range items {
						tw.AppendRow(table.Row{w.ID, w.AgentID, w.WorkType, w.Priority, w.DisplayStatus(), fmt.Sprintf("%d%%", w.Progress), w.Team, formatTime(w.ClaimedAt), w.Description})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active or in_progress)")
	cmd.Flags().StringVar(&f.Team, "team", "", "team filter")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "owning agent filter")
	return cmd
}
