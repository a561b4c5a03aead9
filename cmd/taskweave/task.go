package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/evanray/taskweave/internal/score"
	"github.com/evanray/taskweave/internal/store"
	"github.com/evanray/taskweave/internal/task"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		description string
		priority    string
		complexity  string
		deferred    bool
		assignee    string
		dependsOn   []string
	)

	cmd := &cobra.Command{
		Use:   "create <summary>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			t, err := st.CreateTask(ctx, store.TaskDraft{
				Summary:     args[0],
				Description: description,
				Priority:    task.Priority(priority),
				Complexity:  task.Complexity(complexity),
				Deferred:    deferred,
				Assignee:    assignee,
			})
			if err != nil {
				return err
			}

			for _, dep := range dependsOn {
				depID, typ, err := parseDepSpec(dep)
				if err != nil {
					return err
				}
				if err := st.AddEdge(ctx, t.ID, depID, typ); err != nil {
					return fmt.Errorf("task %d created, but dependency on %d failed: %w", t.ID, depID, err)
				}
			}

			if _, err := score.RecomputeAll(ctx, st, a.cfg.Weights()); err != nil {
				return err
			}

			fmt.Printf("Created task %d: %s\n", t.ID, t.Summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "longer description")
	cmd.Flags().StringVar(&priority, "priority", string(task.PriorityMedium), "highest, high, medium, low, lowest")
	cmd.Flags().StringVar(&complexity, "complexity", "", "xs, s, m, l, xl")
	cmd.Flags().BoolVar(&deferred, "deferred", false, "park the task outside active work")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee name")
	cmd.Flags().StringArrayVar(&dependsOn, "depends", nil, "prerequisite task as ID or ID:contingent (repeatable)")

	return cmd
}

// parseDepSpec parses "ID" or "ID:TYPE" dependency flags.
func parseDepSpec(spec string) (int64, task.RelationType, error) {
	idPart, typePart, found := strings.Cut(spec, ":")
	id, err := parseID(idPart)
	if err != nil {
		return 0, "", err
	}
	typ := task.RelationBlocking
	if found {
		typ = task.RelationType(typePart)
		if !typ.IsValid() {
			return 0, "", fmt.Errorf("invalid dependency type %q", typePart)
		}
	}
	return id, typ, nil
}

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its dependencies, blockers, and session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			t, err := st.GetTask(ctx, id)
			if err != nil {
				return err
			}
			edges, err := st.ListEdges(ctx)
			if err != nil {
				return err
			}
			blockers, err := st.ListExternalBlockers(ctx, id)
			if err != nil {
				return err
			}
			session, err := st.ActiveSession(ctx, id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}

			if asJSON {
				out := struct {
					Task     *task.Task
					Blockers []*task.ExternalBlocker
					Session  *task.WorkSession `json:",omitempty"`
				}{t, blockers, session}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			printTask(t, edges, blockers, session)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func printTask(t *task.Task, edges []task.Edge, blockers []*task.ExternalBlocker, session *task.WorkSession) {
	fmt.Printf("Task %d: %s\n", t.ID, t.Summary)
	fmt.Printf("  Status:     %s", t.Status)
	if t.ClosedReason != "" {
		fmt.Printf(" (%s)", t.ClosedReason)
	}
	fmt.Println()
	if t.ClosedNote != "" {
		fmt.Printf("  Note:       %s\n", t.ClosedNote)
	}
	fmt.Printf("  Priority:   %s (score %d)\n", t.Priority, t.PriorityScore)
	if t.Complexity != "" {
		fmt.Printf("  Complexity: %s\n", t.Complexity)
	}
	if t.Assignee != "" {
		fmt.Printf("  Assignee:   %s\n", t.Assignee)
	}
	if t.Deferred {
		fmt.Println("  Deferred:   yes")
	}
	if t.Description != "" {
		fmt.Printf("  Description:\n    %s\n", strings.ReplaceAll(t.Description, "\n", "\n    "))
	}
	fmt.Printf("  Created:    %s\n", humanize.Time(t.CreatedAt))
	fmt.Printf("  Updated:    %s\n", humanize.Time(t.UpdatedAt))

	var dependsOn, dependents []task.Edge
	for _, e := range edges {
		if e.TaskID == t.ID {
			dependsOn = append(dependsOn, e)
		}
		if e.DependsOnID == t.ID {
			dependents = append(dependents, e)
		}
	}
	if len(dependsOn) > 0 {
		fmt.Println("  Depends on:")
		for _, e := range dependsOn {
			fmt.Printf("    %d (%s)\n", e.DependsOnID, e.Type)
		}
	}
	if len(dependents) > 0 {
		fmt.Println("  Depended on by:")
		for _, e := range dependents {
			fmt.Printf("    %d (%s)\n", e.TaskID, e.Type)
		}
	}
	if len(blockers) > 0 {
		fmt.Println("  External blockers:")
		for _, b := range blockers {
			state := "open"
			if b.Resolved {
				state = "resolved"
			}
			fmt.Printf("    [%d] %s (%s)\n", b.ID, b.Description, state)
		}
	}
	if session != nil {
		fmt.Printf("  Active session: %s (worker %s, started %s)\n",
			session.ID, session.Worker, humanize.Time(session.StartedAt))
	}
}

func newEditCmd(a *app) *cobra.Command {
	var (
		summary     string
		description string
		priority    string
		complexity  string
		assignee    string
		deferred    bool
	)

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit task metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			var patch store.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("summary") {
				patch.Summary = &summary
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("priority") {
				p := task.Priority(priority)
				patch.Priority = &p
			}
			if flags.Changed("complexity") {
				c := task.Complexity(complexity)
				patch.Complexity = &c
			}
			if flags.Changed("assignee") {
				patch.Assignee = &assignee
			}
			if flags.Changed("deferred") {
				patch.Deferred = &deferred
			}

			if err := st.UpdateTask(ctx, id, patch); err != nil {
				return err
			}
			if _, err := score.RecomputeAll(ctx, st, a.cfg.Weights()); err != nil {
				return err
			}
			fmt.Printf("Updated task %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&summary, "summary", "", "new summary")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&complexity, "complexity", "", "new complexity")
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee")
	cmd.Flags().BoolVar(&deferred, "deferred", false, "set or clear the deferred flag")

	return cmd
}
