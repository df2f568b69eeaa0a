package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fantoche/internal/config"
	"github.com/hupe1980/fantoche/internal/logging"
	"github.com/hupe1980/fantoche/internal/propagate"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Propagate all exported files once",
		Long: `Sync copies every file below the export directory of each project that
has dependents into the dependency stores of those dependents, then exits.

It is the one-shot counterpart of watch and is useful after a clean
checkout or when the watcher was not running during a build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), cmd)
		},
	}

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command) error {
	cfg := config.FromContext(ctx)

	out := cmd.ErrOrStderr()
	if cfg.Quiet {
		out = io.Discard
	}

	src := projectSource(cmd)

	// Validate the project file up front so usage errors map to exit code 2.
	if _, err := loadGraph(cmd, src); err != nil {
		return err
	}

	engine := propagate.NewEngine(src,
		propagate.WithLogger(logging.FromContext(ctx)),
		propagate.WithOutput(out),
	)

	summary, err := engine.SyncAll(ctx)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	printSyncSummary(cmd.OutOrStdout(), summary)

	if summary.Failed > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d propagation(s) failed", summary.Failed)}
	}

	return nil
}

func printSyncSummary(w io.Writer, s propagate.SyncSummary) {
	fmt.Fprintf(w, "synced %d file(s): %d copied, %d failed\n", s.Files, s.Copied, s.Failed)
}
