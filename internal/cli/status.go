package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hupe1980/fantoche/internal/config"
	"github.com/hupe1980/fantoche/internal/drift"
)

type statusOptions struct {
	// Print unified diffs for files that differ.
	diff bool

	// Lines of context around each hunk.
	context int
}

func newStatusCommand() *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report exported files missing from or stale in dependency stores",
		Long: `Status compares every file below a dependency's export directory with
its copy in each dependent's store and lists the ones that are missing or
differ.

Exit codes:
  0  All dependency stores are in sync
  1  Error
  2  Invalid arguments or project file
  3  Drift detected`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.diff, "diff", false, "show unified diffs for files that differ")
	f.IntVar(&opts.context, "context", 3, "lines of context in unified diffs")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, opts *statusOptions) error {
	cfg := config.FromContext(ctx)

	graph, err := loadGraph(cmd, projectSource(cmd))
	if err != nil {
		return err
	}

	report, err := drift.Check(graph)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	w := cmd.OutOrStdout()
	drifted := report.Drifted()

	if len(drifted) == 0 {
		fmt.Fprintf(w, "%d file(s) in sync\n", len(report.Entries))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tDEPENDENT\tDEPENDENCY\tFILE")

	for _, e := range drifted {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.State, e.Dependent, e.Dependency, e.Destination)
	}

	if err := tw.Flush(); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if opts.diff {
		color := !cfg.NoColor && isTerminal(w)

		for _, e := range drifted {
			unified, diffErr := drift.Diff(e, opts.context)
			if diffErr != nil {
				return &ExitError{Code: 1, Err: diffErr}
			}

			_, _ = fmt.Fprintln(w)
			drift.WriteDiff(w, unified, color)
		}
	}

	return &ExitError{
		Code: 3,
		Err:  fmt.Errorf("%d of %d file(s) out of sync", len(drifted), len(report.Entries)),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec
}
