package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanray/taskweave/internal/chain"
	"github.com/evanray/taskweave/internal/config"
	"github.com/evanray/taskweave/internal/dispatch"
	"github.com/evanray/taskweave/internal/events"
)

func newChainCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Run dependency chains",
	}
	cmd.AddCommand(newChainRunCmd(a))
	return cmd
}

func newChainRunCmd(a *app) *cobra.Command {
	var (
		concurrency int
		pollSeconds int
		auto        string
	)

	cmd := &cobra.Command{
		Use:   "run <head>...",
		Short: "Execute the chain rooted at the given head tasks",
		Long: `Run computes the downstream scope of the heads, executes the heads,
then dispatches ready frontiers wave by wave to the configured worker
command until the scope is done, stuck, or aborted. Stalled workers
prompt for a decision unless --auto is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			heads, err := parseIDs(args)
			if err != nil {
				return err
			}
			if a.cfg.Worker.Command == "" {
				return fmt.Errorf("no worker command configured; set worker.command in %s", config.ProjectPath())
			}

			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			pm := dispatch.NewProcessManager()
			worker, err := dispatch.NewCommandWorker(dispatch.CommandConfig{
				Command: a.cfg.Worker.Command,
				Args:    a.cfg.Worker.Args,
				WorkDir: a.cfg.Worker.WorkDir,
			}, pm, a.log.With().Str("component", "dispatch").Logger())
			if err != nil {
				return err
			}

			// On shutdown, kill every tracked worker subprocess.
			go func() {
				<-ctx.Done()
				if err := pm.KillAll(); err != nil {
					a.log.Error().Err(err).Msg("failed to kill worker processes")
				}
			}()

			decider, stopDecider, err := buildDecider(ctx, auto)
			if err != nil {
				return err
			}

			bus := events.NewBus()
			defer bus.Close()
			go printEvents(bus.SubscribeAll(0))

			cfg := chain.Config{
				PollInterval: a.cfg.PollInterval(),
				Concurrency:  a.cfg.Chain.Concurrency,
				Policy:       a.cfg.Policy(),
				Reasons:      a.cfg.ReasonSet(),
				Weights:      a.cfg.Weights(),
				ExpireAfter:  a.cfg.ExpireAfter(),
				Logger:       a.log.With().Str("component", "chain").Logger(),
			}
			if concurrency > 0 {
				cfg.Concurrency = concurrency
			}
			if pollSeconds > 0 {
				cfg.PollInterval = time.Duration(pollSeconds) * time.Second
			}

			report, err := chain.New(st, worker, decider, bus, cfg).Run(ctx, heads)
			stopDecider()
			if err != nil && !errors.Is(err, chain.ErrAborted) {
				return err
			}

			printReport(report)
			if report.Phase != chain.PhaseDone {
				return fmt.Errorf("chain finished %s", report.Phase)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel workers per wave (overrides config)")
	cmd.Flags().IntVar(&pollSeconds, "poll", 0, "status poll interval in seconds (overrides config)")
	cmd.Flags().StringVar(&auto, "auto", "", "answer every stall automatically: resume, skip, or abort")

	return cmd
}

// buildDecider returns the stall decider: fixed answers with --auto, or an
// interactive stdin prompt. The returned stop function shuts the decider
// down after the run.
func buildDecider(ctx context.Context, auto string) (chain.Decider, func(), error) {
	switch auto {
	case "":
		d := chain.NewChannelDecider(16, promptStdin)
		dctx, cancel := context.WithCancel(ctx)
		d.Start(dctx)
		return d, func() {
			cancel()
			d.Stop()
		}, nil
	case "resume":
		return chain.AutoDecider(chain.DecisionResume), func() {}, nil
	case "skip":
		return chain.AutoDecider(chain.DecisionSkip), func() {}, nil
	case "abort":
		return chain.AutoDecider(chain.DecisionAbort), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("invalid --auto value %q", auto)
	}
}

// promptStdin asks the operator what to do about one stalled task.
func promptStdin(ctx context.Context, s chain.Stall) (chain.Decision, error) {
	fmt.Printf("\nTask %d stalled: %s\n", s.TaskID, s.Summary)
	if s.Output != "" {
		fmt.Printf("Worker output:\n%s\n", indent(s.Output))
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("[r]esume, [s]kip, or [a]bort? ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return chain.DecisionAbort, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "resume":
			return chain.DecisionResume, nil
		case "s", "skip":
			return chain.DecisionSkip, nil
		case "a", "abort":
			return chain.DecisionAbort, nil
		}
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}

// printEvents streams chain progress to stdout until the bus closes.
func printEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case events.WaveStartedEvent:
			fmt.Printf("Wave %d: dispatching tasks %v\n", e.Wave, e.Tasks)
		case events.TaskCompletedEvent:
			fmt.Printf("  Task %d done in %s\n", e.ID, e.Duration.Round(time.Second))
		case events.TaskSkippedEvent:
			fmt.Printf("  Task %d skipped\n", e.ID)
		case events.ChainStuckEvent:
			fmt.Println("Chain is stuck:")
			for _, b := range e.Blocked {
				fmt.Printf("  Task %d blocked (%s)\n", b.ID, b.Reason)
			}
		}
	}
}

func printReport(r *chain.Report) {
	fmt.Printf("\nChain %s: %d waves, %d dispatched, %d skipped\n",
		r.Phase, r.Waves, len(r.Dispatched), len(r.Skipped))
	if r.Phase == chain.PhaseDone {
		fmt.Printf("Consolidation: %d cascade-closed, %d expired, %d scores refreshed\n",
			r.Reconcile.CascadeClosed, r.Reconcile.Expired, r.Reconcile.ScoresRefreshed)
	}
	for _, b := range r.Stuck {
		on := ""
		if len(b.On) > 0 {
			on = fmt.Sprintf(" on %v", b.On)
		}
		fmt.Printf("  Blocked: %d %s (%s%s)\n", b.ID, b.Summary, b.Reason, on)
	}
}
