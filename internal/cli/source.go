package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fantoche/internal/config"
	"github.com/hupe1980/fantoche/internal/logging"
	"github.com/hupe1980/fantoche/internal/project"
)

// projectSource builds the project file source for cmd from the loaded
// configuration.
func projectSource(cmd *cobra.Command) *project.FileSource {
	cfg := config.FromContext(cmd.Context())

	return &project.FileSource{
		Path:   cfg.ProjectFile,
		Logger: logging.FromContext(cmd.Context()),
	}
}

// loadGraph loads the project graph once and logs its warnings. A missing or
// malformed project file is a usage error.
func loadGraph(cmd *cobra.Command, src project.Source) (*project.Graph, error) {
	logger := logging.FromContext(cmd.Context())

	graph, err := src.Load()
	if err != nil {
		code := 1
		if errors.Is(err, project.ErrProjectFileNotFound) || errors.Is(err, project.ErrInvalidProjectFile) {
			code = 2
		}

		return nil, &ExitError{Code: code, Err: err}
	}

	for _, w := range graph.Warnings() {
		logger.Warn(w)
	}

	logger.Debug("project graph loaded", slog.Int("projects", graph.Len()))

	return graph, nil
}
