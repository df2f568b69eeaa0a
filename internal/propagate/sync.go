package propagate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
)

// SyncSummary counts the work done by SyncAll.
type SyncSummary struct {
	Files  int
	Copied int
	Failed int
}

// SyncAll pushes every regular file in the export tree of each project that
// has dependents through Handle as a create event. It stops early only when
// ctx is cancelled or the project graph cannot be loaded.
func (e *Engine) SyncAll(ctx context.Context) (SyncSummary, error) {
	var summary SyncSummary

	graph, err := e.source.Load()
	if err != nil {
		return summary, fmt.Errorf("loading project graph: %w", err)
	}

	for _, p := range graph.Projects() {
		if len(graph.DependentsOf(p.Name)) == 0 {
			continue
		}

		walkErr := filepath.WalkDir(p.ExportRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if !d.Type().IsRegular() {
				return nil
			}

			summary.Files++

			res := e.Handle(Event{Path: path, Project: p.Name, Kind: KindCreate})
			if res.Err != nil {
				summary.Failed++
			}

			for _, o := range res.Outcomes {
				if o.Err != nil {
					summary.Failed++
				} else {
					summary.Copied++
				}
			}

			return nil
		})

		switch {
		case walkErr == nil:
		case errors.Is(walkErr, context.Canceled), errors.Is(walkErr, context.DeadlineExceeded):
			return summary, walkErr
		default:
			e.logger.Warn("skipping export tree",
				slog.String("project", p.Name),
				slog.String("root", p.ExportRoot),
				slog.String("error", walkErr.Error()),
			)
		}
	}

	return summary, nil
}
