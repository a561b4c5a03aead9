package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanray/taskweave/internal/reconcile"
)

func newReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a reconciliation sweep",
		Long: `Reconcile cascade-closes contingent dependents of moot closures,
expires stale deferred tasks when an expiry window is configured, and
refreshes cached priority scores. The sweep is idempotent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := reconcile.Run(ctx, st, reconcile.Config{
				Reasons:     a.cfg.ReasonSet(),
				ExpireAfter: a.cfg.ExpireAfter(),
				Weights:     a.cfg.Weights(),
				Logger:      a.log,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Cascade-closed: %d\nExpired: %d\nScores refreshed: %d\n",
				res.CascadeClosed, res.Expired, res.ScoresRefreshed)
			return nil
		},
	}
}
