package propagate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hupe1980/fantoche/internal/project"
)

// ErrNoDependencyStore indicates a dependent project has no store to copy into.
var ErrNoDependencyStore = errors.New("project has no dependencies_store")

// Rejection reasons reported to a Recorder.
const (
	RejectKind       = "kind"
	RejectGuard      = "guard"
	RejectGraph      = "graph"
	RejectOrigin     = "origin"
	RejectExportRoot = "export_root"
)

// Propagation results reported to a Recorder.
const (
	ResultCopied  = "copied"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Recorder observes engine activity.
type Recorder interface {
	EventReceived(kind Kind)
	EventRejected(reason string)
	Propagated(result string, elapsed time.Duration)
	GuardSize(n int)
}

type nopRecorder struct{}

func (nopRecorder) EventReceived(Kind) {}
func (nopRecorder) EventRejected(string) {}
func (nopRecorder) Propagated(string, time.Duration) {}
func (nopRecorder) GuardSize(int) {}

// Outcome is the result of one copy attempt to one dependent.
type Outcome struct {
	Dependent   string
	Destination string
	Err         error
}

// Result summarises the handling of one event.
type Result struct {
	Event Event

	// Accepted is false when the event was filtered or could not be
	// attributed; Err then carries the reason, if any.
	Accepted bool

	Err      error
	Outcomes []Outcome
}

// Failed counts outcomes with an error.
func (r Result) Failed() int {
	n := 0

	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}

	return n
}

// Engine is the single consumer of change events. It reloads the project
// graph for every accepted event and handles events strictly one at a time.
type Engine struct {
	source   project.Source
	guard    *Guard
	executor *Executor
	recorder Recorder
	logger   *slog.Logger
	out      io.Writer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGuard shares an existing guard with the engine.
func WithGuard(guard *Guard) Option {
	return func(e *Engine) {
		e.guard = guard
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithOutput sets the writer for human-readable progress lines.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.out = w
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// NewEngine creates an engine reading project graphs from source.
func NewEngine(source project.Source, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		out:      io.Discard,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.guard == nil {
		e.guard = NewGuard()
	}

	e.executor = NewExecutor(e.guard, WithExecutorLogger(e.logger))

	return e
}

// Guard returns the engine's guard.
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Run consumes events until ctx is cancelled or events is closed. Each event
// is handled to completion before the next one is received.
func (e *Engine) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			e.Handle(ev)
		}
	}
}

// Handle runs the full pipeline for one event. Failures are confined to the
// event, or to the single dependent they concern, and are reported in the
// returned Result.
func (e *Engine) Handle(ev Event) Result {
	res := Result{Event: ev}
	logger := e.logger.With(slog.String("project", ev.Project), slog.String("path", ev.Path))

	e.recorder.EventReceived(ev.Kind)

	changed, ok := Classify(ev, e.guard)
	if !ok {
		reason := RejectGuard
		if !ev.Kind.Propagates() {
			reason = RejectKind
		}

		e.recorder.EventRejected(reason)
		logger.Debug("event ignored", slog.String("kind", ev.Kind.String()), slog.String("reason", reason))

		return res
	}

	graph, err := e.source.Load()
	if err != nil {
		return e.reject(res, RejectGraph, fmt.Errorf("loading project graph: %w", err), logger)
	}

	origin, err := graph.Project(changed.Project)
	if err != nil {
		return e.reject(res, RejectOrigin, err, logger)
	}

	dependents := graph.DependentsOf(origin.Name)
	if len(dependents) == 0 {
		logger.Debug("no dependents")

		res.Accepted = true

		return res
	}

	src, err := Canonicalize(changed.Path)
	if err != nil {
		return e.reject(res, RejectExportRoot, err, logger)
	}

	exportRoot, err := locateExportRoot(changed.Path, src, origin.Exports)
	if err != nil {
		return e.reject(res, RejectExportRoot, err, logger)
	}

	res.Accepted = true

	for _, dep := range dependents {
		res.Outcomes = append(res.Outcomes, e.propagateTo(dep, origin.Name, src, exportRoot, logger))
	}

	e.recorder.GuardSize(e.guard.Len())

	return res
}

func (e *Engine) propagateTo(dep *project.Project, origin, src, exportRoot string, logger *slog.Logger) Outcome {
	outcome := Outcome{Dependent: dep.Name}
	logger = logger.With(slog.String("dependent", dep.Name))

	if !dep.HasStore() {
		outcome.Err = fmt.Errorf("%w: %q", ErrNoDependencyStore, dep.Name)
		e.recorder.Propagated(ResultSkipped, 0)
		logger.Warn("dependent skipped", slog.String("error", outcome.Err.Error()))

		return outcome
	}

	dst, err := MapDestination(src, exportRoot, origin, dep.DependencyStoreRoot)
	if err != nil {
		outcome.Err = err
		e.recorder.Propagated(ResultFailed, 0)
		logger.Error("mapping destination failed", slog.String("error", err.Error()))

		return outcome
	}

	outcome.Destination = dst

	start := e.now()
	err = e.executor.Propagate(src, dst)
	elapsed := e.now().Sub(start)
	stamp := start.Format("15:04:05")

	if err != nil {
		outcome.Err = err
		e.recorder.Propagated(ResultFailed, elapsed)
		logger.Error("propagation failed", slog.String("destination", dst), slog.String("error", err.Error()))
		_, _ = fmt.Fprintf(e.out, "[%s] %s → %s: ERROR: %v\n", stamp, src, dep.Name, err)

		return outcome
	}

	e.recorder.Propagated(ResultCopied, elapsed)
	_, _ = fmt.Fprintf(e.out, "[%s] %s → %s\n", stamp, src, dst)

	return outcome
}

// locateExportRoot scans the reported path before the canonical one, so an
// export directory that is itself a symlink is still recognised by name.
func locateExportRoot(reported, canonical, exports string) (string, error) {
	if abs, err := filepath.Abs(reported); err == nil {
		if root, err := FindExportRoot(filepath.Dir(abs), exports); err == nil {
			return root, nil
		}
	}

	return FindExportRoot(filepath.Dir(canonical), exports)
}

func (e *Engine) reject(res Result, reason string, err error, logger *slog.Logger) Result {
	res.Err = err
	e.recorder.EventRejected(reason)
	logger.Error("event dropped", slog.String("reason", reason), slog.String("error", err.Error()))

	return res
}
