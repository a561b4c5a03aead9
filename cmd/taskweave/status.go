package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanray/taskweave/internal/score"
	"github.com/evanray/taskweave/internal/task"
)

func newStartCmd(a *app) *cobra.Command {
	var worker string

	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start working on a task",
		Long: `Start opens a work session and marks the task in progress. If a
session is already active, that session is reported instead of an error.`,
		Args: cobra.ExactArgs(1),
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

			session, err := st.StartSession(ctx, id, worker)
			if err != nil {
				return err
			}
			fmt.Printf("Task %d in progress (session %s)\n", id, session.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&worker, "worker", "cli", "worker name recorded on the session")
	return cmd
}

func newDoneCmd(a *app) *cobra.Command {
	var (
		reason string
		note   string
	)

	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Close a task",
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

			if err := st.SetStatus(ctx, id, task.StatusDone, reason, note); err != nil {
				return err
			}
			if _, err := score.RecomputeAll(ctx, st, a.cfg.Weights()); err != nil {
				return err
			}
			fmt.Printf("Closed task %d (%s)\n", id, reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", task.ReasonCompleted, "closure reason")
	cmd.Flags().StringVar(&note, "note", "", "closure note")
	return cmd
}

func newReopenCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a closed or in-progress task",
		Long: `Reopen resets a task to todo, clearing its closure reason and
ending any active session. The normal state machine has no backward
transitions, so this requires --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("reopen bypasses the status state machine; pass --force to confirm")
			}

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

			if err := st.ForceReopen(ctx, id); err != nil {
				return err
			}
			if _, err := score.RecomputeAll(ctx, st, a.cfg.Weights()); err != nil {
				return err
			}
			fmt.Printf("Reopened task %d\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm bypassing the state machine")
	return cmd
}
