package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nlsql/capability"
	"nlsql/config"
	"nlsql/storage"
)

var (
	serveDB     string
	serveTable  string
	servePolicy string
)

// errOrphaned stops the server once the process that started it is gone.
var errOrphaned = errors.New("parent process exited")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve get_schema and query_data over MCP on stdio",
	Long: `Serve the capability registry on stdin/stdout.

This is the subprocess the agent talks to. Nothing but protocol messages is
written to stdout; diagnostics go to stderr and the debug log.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite dataset (default from config)")
	serveCmd.Flags().StringVar(&serveTable, "table", "", "table to expose (default from config)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", `read-only policy, "lexical" or "prompt" (default from config)`)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	db := firstNonEmpty(serveDB, cfg.DatasetPath())
	table := firstNonEmpty(serveTable, cfg.Dataset.Table)
	policy := firstNonEmpty(servePolicy, cfg.Dataset.ReadOnlyPolicy)

	ds, err := storage.NewDataset(config.ExpandPath(db), table, storage.Policy(policy))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return capability.ServeStdio(gctx, ds)
	})
	g.Go(func() error {
		return watchParent(gctx, os.Getppid(), 2*time.Second)
	})

	err = g.Wait()
	if errors.Is(err, errOrphaned) {
		logf("serve: %v, shutting down", err)
		return nil
	}
	return err
}

// watchParent returns errOrphaned when the parent pid changes, which is how
// an orphaned process notices on unix.
func watchParent(ctx context.Context, ppid int, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if os.Getppid() != ppid {
				return errOrphaned
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func logf(format string, args ...any) {
	if config.DebugLog != nil {
		config.DebugLog.Debugf(format, args...)
	}
}
