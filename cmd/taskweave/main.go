// Package main is the entry point for the taskweave CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/evanray/taskweave/internal/config"
	"github.com/evanray/taskweave/internal/logging"
	"github.com/evanray/taskweave/internal/store"
)

// Version is set at build time.
var Version = "dev"

// app carries the loaded configuration and logger shared by all commands.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	dbFlag      string
	configFlag  string
	verboseFlag bool
}

func main() {
	// Signal-aware context so a chain run can clean up its workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskweave",
		Short: "Dependency-aware task tracker and chain scheduler",
		Long: `Taskweave tracks tasks with typed dependency edges, scores them,
and schedules dependency chains wave by wave against an external worker
command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.dbFlag, "db", "", "task database path (overrides config)")
	root.PersistentFlags().StringVar(&a.configFlag, "config", "", "project config path")
	root.PersistentFlags().BoolVarP(&a.verboseFlag, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newCreateCmd(a),
		newShowCmd(a),
		newEditCmd(a),
		newDepCmd(a),
		newBlockCmd(a),
		newUnblockCmd(a),
		newStartCmd(a),
		newDoneCmd(a),
		newReopenCmd(a),
		newReadyCmd(a),
		newBlockedCmd(a),
		newScopeCmd(a),
		newScoreCmd(a),
		newReconcileCmd(a),
		newChainCmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads configuration and builds the logger. The store is opened per
// command, so commands that never touch it don't create a database file.
func (a *app) init() error {
	projectPath := a.configFlag
	if projectPath == "" {
		projectPath = config.ProjectPath()
	}
	cfg, err := config.Load(config.GlobalPath(), projectPath)
	if err != nil {
		return err
	}
	if a.dbFlag != "" {
		cfg.Store.Path = a.dbFlag
	}
	if a.verboseFlag {
		cfg.Log.Level = "debug"
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	return nil
}

// open opens the task store with the compiled reason vocabulary.
func (a *app) open(ctx context.Context) (*store.SQLiteStore, error) {
	return store.Open(ctx, a.cfg.Store.Path, store.Options{
		Reasons: a.cfg.ReasonSet(),
		Logger:  a.log.With().Str("component", "store").Logger(),
	})
}

// parseID parses a positional task id argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the taskweave version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}
