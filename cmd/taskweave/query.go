package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/score"
)

// loadSnapshot opens the store and builds a graph snapshot.
func (a *app) loadSnapshot(ctx context.Context) (*graph.Snapshot, func() error, error) {
	st, err := a.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	data, err := st.Snapshot(ctx)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return graph.NewSnapshot(data.Tasks, data.Edges, data.Blockers), st.Close, nil
}

func newReadyCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List tasks eligible to start, highest score first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			snap, done, err := a.loadSnapshot(ctx)
			if err != nil {
				return err
			}
			defer done()

			ready := snap.Ready(a.cfg.Policy())
			if asJSON {
				return printJSON(ready)
			}
			if len(ready) == 0 {
				fmt.Println("No tasks are ready")
				return nil
			}

			fmt.Printf("%-6s %-6s %-9s %-5s %s\n", "ID", "SCORE", "PRIORITY", "CPLX", "SUMMARY")
			for _, e := range ready {
				t, _ := snap.Task(e.ID)
				fmt.Printf("%-6d %-6d %-9s %-5s %s\n",
					e.ID, t.PriorityScore, e.Priority, e.Complexity, e.Summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func newBlockedCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "List blocked tasks with the reason",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			snap, done, err := a.loadSnapshot(ctx)
			if err != nil {
				return err
			}
			defer done()

			blocked := snap.Blocked(a.cfg.Policy())
			if asJSON {
				return printJSON(blocked)
			}
			if len(blocked) == 0 {
				fmt.Println("No tasks are blocked")
				return nil
			}

			fmt.Printf("%-6s %-11s %-16s %s\n", "ID", "REASON", "BLOCKED ON", "SUMMARY")
			for _, b := range blocked {
				on := "-"
				if len(b.BlockedOn) > 0 {
					parts := make([]string, len(b.BlockedOn))
					for i, id := range b.BlockedOn {
						parts[i] = fmt.Sprintf("%d", id)
					}
					on = strings.Join(parts, ",")
				}
				fmt.Printf("%-6d %-11s %-16s %s\n", b.ID, b.Reason, on, b.Summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func newScopeCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scope <head>...",
		Short: "Show the chain scope of one or more head tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			heads, err := parseIDs(args)
			if err != nil {
				return err
			}

			snap, done, err := a.loadSnapshot(ctx)
			if err != nil {
				return err
			}
			defer done()

			entries, err := snap.Scope(heads)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(entries)
			}

			fmt.Printf("%-6s %-6s %-11s %s\n", "ID", "DEPTH", "STATUS", "SUMMARY")
			for _, e := range entries {
				t, _ := snap.Task(e.ID)
				fmt.Printf("%-6d %-6d %-11s %s\n", e.ID, e.Depth, t.Status, e.Summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func newScoreCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Recompute and show priority scores for open tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := score.RecomputeAll(ctx, st, a.cfg.Weights()); err != nil {
				return err
			}

			tasks, err := st.ListTasks(ctx)
			if err != nil {
				return err
			}
			open := tasks[:0]
			for _, t := range tasks {
				if t.Open() {
					open = append(open, t)
				}
			}
			sort.Slice(open, func(i, j int) bool {
				if open[i].PriorityScore != open[j].PriorityScore {
					return open[i].PriorityScore > open[j].PriorityScore
				}
				return open[i].ID < open[j].ID
			})

			if asJSON {
				return printJSON(open)
			}
			if len(open) == 0 {
				fmt.Println("No open tasks")
				return nil
			}

			fmt.Printf("%-6s %-6s %-9s %-12s %-14s %s\n", "ID", "SCORE", "PRIORITY", "STATUS", "UPDATED", "SUMMARY")
			for _, t := range open {
				status := string(t.Status)
				if t.Deferred {
					status += " (deferred)"
				}
				fmt.Printf("%-6d %-6d %-9s %-12s %-14s %s\n",
					t.ID, t.PriorityScore, t.Priority, status, humanize.Time(t.UpdatedAt), t.Summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
