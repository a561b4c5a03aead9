package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanray/taskweave/internal/score"
	"github.com/evanray/taskweave/internal/task"
)

func newDepCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage dependency edges",
	}
	cmd.AddCommand(newDepAddCmd(a), newDepRmCmd(a))
	return cmd
}

func newDepAddCmd(a *app) *cobra.Command {
	var contingent bool

	cmd := &cobra.Command{
		Use:   "add <task> <depends-on>",
		Short: "Add a dependency edge: task depends on depends-on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			depID, err := parseID(args[1])
			if err != nil {
				return err
			}

			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			typ := task.RelationBlocking
			if contingent {
				typ = task.RelationContingent
			}
			if err := st.AddEdge(ctx, taskID, depID, typ); err != nil {
				return err
			}
			if _, err := score.RecomputeAll(ctx, st, a.cfg.Weights()); err != nil {
				return err
			}

			fmt.Printf("Task %d now depends on %d (%s)\n", taskID, depID, typ)
			return nil
		},
	}

	cmd.Flags().BoolVar(&contingent, "contingent", false, "mark the dependency contingent instead of blocking")
	return cmd
}

func newDepRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <task> <depends-on>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			depID, err := parseID(args[1])
			if err != nil {
				return err
			}

			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RemoveEdge(ctx, taskID, depID); err != nil {
				return err
			}
			if _, err := score.RecomputeAll(ctx, st, a.cfg.Weights()); err != nil {
				return err
			}

			fmt.Printf("Removed dependency of %d on %d\n", taskID, depID)
			return nil
		},
	}
}

func newBlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "block <task> <description>",
		Short: "Attach an external blocker to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}

			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			b, err := st.AddExternalBlocker(ctx, taskID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Blocked task %d: [%d] %s\n", taskID, b.ID, b.Description)
			return nil
		},
	}
}

func newUnblockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <blocker-id>",
		Short: "Resolve an external blocker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			blockerID, err := parseID(args[0])
			if err != nil {
				return err
			}

			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.ResolveExternalBlocker(ctx, blockerID); err != nil {
				return err
			}
			fmt.Printf("Resolved blocker %d\n", blockerID)
			return nil
		},
	}
}
