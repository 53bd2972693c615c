package dashboard

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"coordline/internal/domain"
)

// Render writes the report as plain tables.
func Render(w io.Writer, r Report) {
	fmt.Fprintf(w, "Coordination dashboard (%s)\n\n", r.GeneratedAt.Format(time.RFC3339))

	active := newTable(w, "Active work")
	active.AppendHeader(table.Row{"Dimension", "Value", "Count"})
	active.AppendRow(table.Row{"total", "", r.Active.Total})
	for _, s := range domain.Statuses {
		if n := r.Active.ByStatus[string(s)]; n > 0 {
			active.AppendRow(table.Row{"status", s, n})
		}
	}
	for i := len(domain.Priorities) - 1; i >= 0; i-- {
		p := domain.Priorities[i]
		if n := r.Active.ByPriority[string(p)]; n > 0 {
			active.AppendRow(table.Row{"priority", p, n})
		}
	}
	for _, team := range sortedKeys(r.Active.ByTeam) {
		active.AppendRow(table.Row{"team", team, r.Active.ByTeam[team]})
	}
	active.Render()
	fmt.Fprintln(w)

	agents := newTable(w, "Agents")
	agents.AppendHeader(table.Row{"ID", "Team", "Status", "Workload", "Capacity", "Util %", "Flags"})
	for _, a := range r.Agents {
		flags := ""
		if a.OverCapacity {
			flags += "over-capacity "
		}
		if a.Stale {
			flags += "stale"
		}
		agents.AppendRow(table.Row{a.ID, a.Team, a.Status, a.Workload, a.Capacity, fmt.Sprintf("%.0f", a.Utilisation), flags})
	}
	agents.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	agents.Render()
	fmt.Fprintln(w)

	done := newTable(w, "Completions")
	done.AppendHeader(table.Row{"Metric", "Value"})
	for _, res := range sortedKeys(r.Completions) {
		done.AppendRow(table.Row{"result " + res, r.Completions[res]})
	}
	done.AppendRow(table.Row{"completions 24h", r.Velocity.Last24h.Completions})
	done.AppendRow(table.Row{"story points 24h", r.Velocity.Last24h.StoryPoints})
	done.AppendRow(table.Row{"completions 7d", r.Velocity.Last7d.Completions})
	done.AppendRow(table.Row{"story points 7d", r.Velocity.Last7d.StoryPoints})
	if r.AvgCycleTime != nil {
		done.AppendRow(table.Row{"avg cycle time", r.AvgCycleTime.Std().Round(time.Second)})
	}
	done.AppendRow(table.Row{"span error rate 24h", fmt.Sprintf("%.1f%% of %d", r.Spans.ErrorRate*100, r.Spans.Total)})
	done.Render()

	for _, e := range r.Errors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
}

func newTable(w io.Writer, title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(title)
	return tw
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
