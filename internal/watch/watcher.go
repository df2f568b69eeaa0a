package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/fantoche/internal/project"
	"github.com/hupe1980/fantoche/internal/propagate"
)

// DefaultQueueSize is the capacity of the shared event channel when
// Options.QueueSize is not set.
const DefaultQueueSize = 1024

// ErrNothingWatched is returned by Subscribe when no target could be
// registered.
var ErrNothingWatched = errors.New("no project could be watched")

// Target is a directory tree observed on behalf of a project.
type Target struct {
	Project string
	Root    string
}

// TargetsFor returns one target per project export root in g.
func TargetsFor(g *project.Graph) []Target {
	projects := g.Projects()
	targets := make([]Target, 0, len(projects))

	for _, p := range projects {
		targets = append(targets, Target{Project: p.Name, Root: p.ExportRoot})
	}

	return targets
}

// Options configures a subscription.
type Options struct {
	// Coalesce collapses bursts on the same path into one event.
	// Zero disables coalescing.
	Coalesce time.Duration

	// QueueSize bounds the shared event channel. Observers block while
	// it is full.
	QueueSize int

	// Logger is used for structured logging.
	Logger *slog.Logger

	// Out is the writer for user-facing status messages.
	Out io.Writer
}

// Subscription delivers change events from every watched target on a single
// channel. Events is closed once all observers have stopped.
type Subscription struct {
	Events  <-chan propagate.Event
	Watched []Target
	Failed  []Target

	done chan struct{}
}

// Done is closed after Events has been closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe starts one fsnotify observer per target. Targets whose trees
// cannot be registered are logged and listed in Failed. Observers stop when
// ctx is cancelled.
func Subscribe(ctx context.Context, targets []Target, opts Options) (*Subscription, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Out == nil {
		opts.Out = io.Discard
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	events := make(chan propagate.Event, opts.QueueSize)

	send := func(ev propagate.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	emit := send

	var coalescer *Coalescer
	if opts.Coalesce > 0 {
		coalescer = NewCoalescer(opts.Coalesce, send)
		emit = coalescer.Trigger
	}

	sub := &Subscription{
		Events: events,
		done:   make(chan struct{}),
	}

	var wg sync.WaitGroup

	for _, target := range targets {
		watcher, err := register(target)
		if err != nil {
			opts.Logger.Warn("project not watched",
				slog.String("project", target.Project),
				slog.String("path", target.Root),
				slog.String("error", err.Error()),
			)

			sub.Failed = append(sub.Failed, target)

			continue
		}

		sub.Watched = append(sub.Watched, target)

		fmt.Fprintf(opts.Out, "watching %s (%s)\n", target.Root, target.Project)

		o := &observer{
			target:  target,
			watcher: watcher,
			emit:    emit,
			logger:  opts.Logger.With(slog.String("project", target.Project)),
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer watcher.Close()

			o.run(ctx)
		}()
	}

	if len(sub.Watched) == 0 {
		if coalescer != nil {
			coalescer.Stop()
		}

		return nil, ErrNothingWatched
	}

	go func() {
		wg.Wait()

		if coalescer != nil {
			coalescer.Stop()
		}

		close(events)
		close(sub.done)
	}()

	return sub, nil
}

// register creates a watcher covering every directory below target.Root.
func register(target Target) (*fsnotify.Watcher, error) {
	info, err := os.Stat(target.Root)
	if err != nil {
		return nil, fmt.Errorf("stat export root: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("export root %s is not a directory", target.Root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	if err := addRecursive(watcher, target.Root); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", target.Root, err)
	}

	return watcher, nil
}

type observer struct {
	target  Target
	watcher *fsnotify.Watcher
	emit    func(propagate.Event)
	logger  *slog.Logger
}

func (o *observer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}

			o.handle(event)

		case watchErr, ok := <-o.watcher.Errors:
			if !ok {
				return
			}

			o.logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (o *observer) handle(event fsnotify.Event) {
	// A new directory is watched too. Files that landed in it before the
	// watch was registered would otherwise go unnoticed.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			o.addDir(event.Name)
			return
		}
	}

	o.emit(propagate.Event{
		Path:    event.Name,
		Project: o.target.Project,
		Kind:    kindOf(event.Op),
	})
}

func (o *observer) addDir(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return o.watcher.Add(path)
		}

		if d.Type().IsRegular() {
			o.emit(propagate.Event{Path: path, Project: o.target.Project, Kind: propagate.KindCreate})
		}

		return nil
	})
	if err != nil {
		o.logger.Warn("watching new directory", slog.String("path", dir), slog.String("error", err.Error()))
	}
}

// addRecursive walks root and adds all directories to the watcher.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return watcher.Add(path)
		}

		return nil
	})
}

// kindOf maps an fsnotify operation to an event kind.
func kindOf(op fsnotify.Op) propagate.Kind {
	switch {
	case op.Has(fsnotify.Create):
		return propagate.KindCreate
	case op.Has(fsnotify.Write):
		return propagate.KindModify
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return propagate.KindRemove
	case op.Has(fsnotify.Chmod):
		// Attribute changes (touch, chmod) count as modifications.
		return propagate.KindModify
	default:
		return propagate.KindOther
	}
}
