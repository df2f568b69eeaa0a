package propagate

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Executor copies a changed file to its destination and records the
// destination in the guard.
type Executor struct {
	guard   *Guard
	dirPerm os.FileMode
	logger  *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDirPermissions overrides the mode of created directories (0755).
func WithDirPermissions(perm os.FileMode) ExecutorOption {
	return func(e *Executor) {
		e.dirPerm = perm
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor recording into guard.
func NewExecutor(guard *Guard, opts ...ExecutorOption) *Executor {
	e := &Executor{
		guard:   guard,
		dirPerm: 0o755,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Propagate creates the missing ancestors of dst and overwrites dst with the
// contents of src. dst is added to the guard after a successful copy.
//
// A directory source only creates the directory. The watcher produces one
// when a directory below the export root changes attributes (chmod, touch),
// which it reports as a modification.
func (e *Executor) Propagate(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("reading source %s: %w", src, err)
	}

	if info.IsDir() {
		if err := os.MkdirAll(dst, e.dirPerm); err != nil {
			return fmt.Errorf("creating directory %s: %w", dst, err)
		}
	} else {
		dir := filepath.Dir(dst)
		if err := os.MkdirAll(dir, e.dirPerm); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}

		if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
			return err
		}
	}

	e.guard.Add(dst)
	e.logger.Debug("propagated", slog.String("source", src), slog.String("destination", dst))

	return nil
}

func copyFile(src, dst string, perm os.FileMode) (err error) {
	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return fmt.Errorf("opening source %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm) //nolint:gosec
	if err != nil {
		return fmt.Errorf("opening destination %s: %w", dst, err)
	}

	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing destination %s: %w", dst, cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	return nil
}
