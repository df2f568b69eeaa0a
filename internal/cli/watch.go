package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fantoche/internal/config"
	"github.com/hupe1980/fantoche/internal/logging"
	"github.com/hupe1980/fantoche/internal/metrics"
	"github.com/hupe1980/fantoche/internal/propagate"
	"github.com/hupe1980/fantoche/internal/watch"
)

type watchOptions struct {
	initialSync bool
}

func newWatchCommand() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch export directories and propagate changes",
		Long: `Watch observes the export directory of every project in the project
file. Each created or modified file is copied into the dependency store
of every project that depends on its origin, under <store>/<origin>/.

The project file is re-read for every change, so edits to it take effect
without a restart. Events are handled one at a time in arrival order.

Use --initial-sync to propagate all existing exports before watching and
--metrics-addr to expose Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd, opts)
		},
	}

	f := cmd.Flags()
	f.Duration("coalesce", 0, "collapse bursts on the same path within this window (0 disables)")
	f.Int("queue-size", config.DefaultQueueSize, "capacity of the event queue")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	f.BoolVar(&opts.initialSync, "initial-sync", false, "propagate all exported files before watching")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts *watchOptions) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	out := cmd.ErrOrStderr()
	if cfg.Quiet {
		out = io.Discard
	}

	// Trap SIGINT / SIGTERM for graceful shutdown.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := projectSource(cmd)

	graph, err := loadGraph(cmd, src)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := propagate.NewEngine(src,
		propagate.WithLogger(logger),
		propagate.WithOutput(out),
		propagate.WithRecorder(metrics.New(reg)),
	)

	if opts.initialSync {
		summary, syncErr := engine.SyncAll(ctx)
		if syncErr != nil {
			return &ExitError{Code: 1, Err: syncErr}
		}

		printSyncSummary(out, summary)
	}

	sub, err := watch.Subscribe(ctx, watch.TargetsFor(graph), watch.Options{
		Coalesce:  cfg.Coalesce,
		QueueSize: cfg.QueueSize,
		Logger:    logger,
		Out:       out,
	})
	if err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("starting watchers: %w", err)}
	}

	fmt.Fprintf(out, "propagating changes for %d project(s) (coalesce=%s, queue=%d)\n",
		len(sub.Watched), cfg.Coalesce, cfg.QueueSize)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, reg, logger)
		})
	}

	g.Go(func() error {
		defer stop()

		return engine.Run(gctx, sub.Events)
	})

	err = g.Wait()

	// Let the observers release their watches before returning.
	stop()
	<-sub.Done()

	fmt.Fprintln(out, "\nshutting down watcher")

	if err != nil {
		logger.Error("watch stopped", slog.String("error", err.Error()))
		return &ExitError{Code: 1, Err: err}
	}

	return nil
}
