package propagate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fantoche/internal/logging"
	"github.com/hupe1980/fantoche/internal/project"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type staticSource struct {
	mu    sync.Mutex
	graph *project.Graph
	err   error
	loads int
}

func (s *staticSource) Load() (*project.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loads++

	return s.graph, s.err
}

func (s *staticSource) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loads
}

type recordingRecorder struct {
	mu       sync.Mutex
	received []Kind
	rejected []string
	results  []string
	guard    int
}

func (r *recordingRecorder) EventReceived(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, k)
}

func (r *recordingRecorder) EventRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
}

func (r *recordingRecorder) Propagated(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingRecorder) GuardSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = n
}

// newProject creates <root>/<name>/<exports> (and the store, if any) and
// returns the project description.
func newProject(t *testing.T, root, name, exports, store string, deps ...string) *project.Project {
	t.Helper()

	dir := filepath.Join(root, name)
	p := &project.Project{
		Name:         name,
		Root:         dir,
		Exports:      exports,
		ExportRoot:   filepath.Join(dir, exports),
		Dependencies: deps,
	}
	require.NoError(t, os.MkdirAll(p.ExportRoot, 0o755))

	if store != "" {
		p.DependencyStoreRoot = filepath.Join(dir, store)
	}

	return p
}

func newTestGraph(t *testing.T, projects ...*project.Project) *staticSource {
	t.Helper()

	g, err := project.NewGraph(projects...)
	require.NoError(t, err)

	return &staticSource{graph: g}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func newTestEngine(src project.Source, opts ...Option) *Engine {
	return NewEngine(src, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

// ---------------------------------------------------------------------------
// Handle
// ---------------------------------------------------------------------------

func TestHandle_ExampleScenario(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "build", "deps", "ui")

	var out bytes.Buffer
	engine := newTestEngine(newTestGraph(t, ui, app), WithOutput(&out))

	src := filepath.Join(ui.ExportRoot, "button.js")
	writeFile(t, src, "export const Button = 1")

	res := engine.Handle(Event{Path: src, Project: "ui", Kind: KindCreate})
	require.True(t, res.Accepted)
	require.NoError(t, res.Err)
	require.Len(t, res.Outcomes, 1)

	want := filepath.Join(root, "app", "deps", "ui", "button.js")
	assert.Equal(t, Outcome{Dependent: "app", Destination: want}, res.Outcomes[0])
	assert.Equal(t, "export const Button = 1", readFile(t, want))
	assert.Contains(t, out.String(), want)
	assert.True(t, engine.Guard().Contains(want))
}

func TestHandle_PathFidelityNested(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "build", "deps", "ui")
	engine := newTestEngine(newTestGraph(t, ui, app))

	src := filepath.Join(ui.ExportRoot, "a", "b", "c.txt")
	writeFile(t, src, "c")

	res := engine.Handle(Event{Path: src, Project: "ui", Kind: KindModify})
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, filepath.Join(app.DependencyStoreRoot, "ui", "a", "b", "c.txt"), res.Outcomes[0].Destination)
}

func TestHandle_SymlinkedExportRoot(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "build", "deps", "ui")

	// dist -> build/out
	target := filepath.Join(ui.Root, "build", "out")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.Remove(ui.ExportRoot))
	require.NoError(t, os.Symlink(target, ui.ExportRoot))

	engine := newTestEngine(newTestGraph(t, ui, app))

	src := filepath.Join(ui.ExportRoot, "css", "main.css")
	writeFile(t, src, "body{}")

	res := engine.Handle(Event{Path: src, Project: "ui", Kind: KindModify})
	require.NoError(t, res.Err)
	require.Len(t, res.Outcomes, 1)
	require.NoError(t, res.Outcomes[0].Err)

	want := filepath.Join(app.DependencyStoreRoot, "ui", "css", "main.css")
	assert.Equal(t, want, res.Outcomes[0].Destination)
	assert.Equal(t, "body{}", readFile(t, want))
}

func TestHandle_DirectoryAttributeChange(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "build", "deps", "ui")
	engine := newTestEngine(newTestGraph(t, ui, app))

	dir := filepath.Join(ui.ExportRoot, "assets")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	res := engine.Handle(Event{Path: dir, Project: "ui", Kind: KindModify})
	require.Len(t, res.Outcomes, 1)
	require.NoError(t, res.Outcomes[0].Err)
	assert.DirExists(t, filepath.Join(app.DependencyStoreRoot, "ui", "assets"))
}

func TestHandle_DependentCompleteness(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	web := newProject(t, root, "web", "dist", "deps", "ui")
	lib := newProject(t, root, "lib", "dist", "deps")
	admin := newProject(t, root, "admin", "dist", "vendor", "lib", "ui")
	engine := newTestEngine(newTestGraph(t, ui, web, lib, admin))

	src := filepath.Join(ui.ExportRoot, "index.js")
	writeFile(t, src, "x")

	res := engine.Handle(Event{Path: src, Project: "ui", Kind: KindModify})
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "web", res.Outcomes[0].Dependent)
	assert.Equal(t, "admin", res.Outcomes[1].Dependent)
	assert.Zero(t, res.Failed())

	assert.FileExists(t, filepath.Join(web.DependencyStoreRoot, "ui", "index.js"))
	assert.FileExists(t, filepath.Join(admin.DependencyStoreRoot, "ui", "index.js"))
	assert.NoDirExists(t, lib.DependencyStoreRoot)
}

func TestHandle_NonTransitive(t *testing.T) {
	root := t.TempDir()
	c := newProject(t, root, "c", "dist", "")
	b := newProject(t, root, "b", "dist", "deps", "c")
	a := newProject(t, root, "a", "dist", "deps", "b")
	engine := newTestEngine(newTestGraph(t, a, b, c))

	src := filepath.Join(c.ExportRoot, "lib.js")
	writeFile(t, src, "c")

	res := engine.Handle(Event{Path: src, Project: "c", Kind: KindCreate})
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "b", res.Outcomes[0].Dependent)
	assert.NoDirExists(t, a.DependencyStoreRoot)
}

func TestHandle_NoSelfPropagation(t *testing.T) {
	root := t.TempDir()
	// Each store lives inside the other project's watched export tree.
	ui := newProject(t, root, "ui", "dist", "dist/deps", "app")
	app := newProject(t, root, "app", "dist", "dist/deps", "ui")
	engine := newTestEngine(newTestGraph(t, ui, app))

	src := filepath.Join(ui.ExportRoot, "button.js")
	writeFile(t, src, "x")

	res := engine.Handle(Event{Path: src, Project: "ui", Kind: KindCreate})
	require.Len(t, res.Outcomes, 1)

	dst := res.Outcomes[0].Destination
	require.Equal(t, filepath.Join(app.ExportRoot, "deps", "ui", "button.js"), dst)

	for _, kind := range []Kind{KindCreate, KindModify, KindAccess} {
		echo := engine.Handle(Event{Path: dst, Project: "app", Kind: kind})
		assert.False(t, echo.Accepted, "kind %s", kind)
		assert.Empty(t, echo.Outcomes)
	}

	assert.NoDirExists(t, filepath.Join(ui.ExportRoot, "deps", "app"))
}

func TestHandle_PartialFailureIsolation(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	broken := newProject(t, root, "broken", "dist", "deps", "ui")
	ok := newProject(t, root, "ok", "dist", "deps", "ui")

	// A regular file where the store directory should be makes MkdirAll fail.
	writeFile(t, broken.DependencyStoreRoot, "not a directory")

	engine := newTestEngine(newTestGraph(t, ui, broken, ok))

	src := filepath.Join(ui.ExportRoot, "a.js")
	writeFile(t, src, "a")

	res := engine.Handle(Event{Path: src, Project: "ui", Kind: KindModify})
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, 1, res.Failed())

	assert.Error(t, res.Outcomes[0].Err)
	assert.False(t, engine.Guard().Contains(res.Outcomes[0].Destination))

	require.NoError(t, res.Outcomes[1].Err)
	assert.Equal(t, "a", readFile(t, res.Outcomes[1].Destination))
	assert.True(t, engine.Guard().Contains(res.Outcomes[1].Destination))
}

func TestHandle_MissingStoreSkipsOnlyThatDependent(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	nostore := newProject(t, root, "nostore", "dist", "", "ui")
	app := newProject(t, root, "app", "dist", "deps", "ui")
	engine := newTestEngine(newTestGraph(t, ui, nostore, app))

	src := filepath.Join(ui.ExportRoot, "a.js")
	writeFile(t, src, "a")

	res := engine.Handle(Event{Path: src, Project: "ui", Kind: KindModify})
	require.Len(t, res.Outcomes, 2)
	assert.ErrorIs(t, res.Outcomes[0].Err, ErrNoDependencyStore)
	assert.NoError(t, res.Outcomes[1].Err)
}

func TestHandle_RemoveEventAttemptsCopyAndFails(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "dist", "deps", "ui")
	engine := newTestEngine(newTestGraph(t, ui, app))

	res := engine.Handle(Event{Path: filepath.Join(ui.ExportRoot, "gone.js"), Project: "ui", Kind: KindRemove})
	require.True(t, res.Accepted)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, filepath.Join(app.DependencyStoreRoot, "ui", "gone.js"), res.Outcomes[0].Destination)
	assert.ErrorIs(t, res.Outcomes[0].Err, os.ErrNotExist)
}

func TestHandle_NoDependents(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	src := newTestGraph(t, ui)
	engine := newTestEngine(src)

	res := engine.Handle(Event{Path: filepath.Join(ui.ExportRoot, "a.js"), Project: "ui", Kind: KindModify})
	assert.True(t, res.Accepted)
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Outcomes)
}

func TestHandle_EventLevelFailures(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "dist", "deps", "ui")

	tests := []struct {
		name    string
		source  *staticSource
		ev      Event
		wantErr error
		reason  string
	}{
		{
			name:   "graph load failure",
			source: &staticSource{err: errors.New("boom")},
			ev:     Event{Path: filepath.Join(ui.ExportRoot, "a.js"), Project: "ui", Kind: KindModify},
			reason: RejectGraph,
		},
		{
			name:    "unknown origin",
			source:  newTestGraph(t, ui, app),
			ev:      Event{Path: filepath.Join(ui.ExportRoot, "a.js"), Project: "ghost", Kind: KindModify},
			wantErr: project.ErrUnknownProject,
			reason:  RejectOrigin,
		},
		{
			name:    "export root not found",
			source:  newTestGraph(t, ui, app),
			ev:      Event{Path: filepath.Join(ui.Root, "src", "a.js"), Project: "ui", Kind: KindModify},
			wantErr: ErrExportRootNotFound,
			reason:  RejectExportRoot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingRecorder{}
			engine := newTestEngine(tt.source, WithRecorder(rec))

			res := engine.Handle(tt.ev)
			assert.False(t, res.Accepted)
			require.Error(t, res.Err)

			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			}

			assert.Equal(t, []string{tt.reason}, rec.rejected)
		})
	}
}

func TestHandle_ReloadsGraphPerAcceptedEvent(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "dist", "deps", "ui")
	src := newTestGraph(t, ui, app)
	engine := newTestEngine(src)

	file := filepath.Join(ui.ExportRoot, "a.js")
	writeFile(t, file, "a")

	engine.Handle(Event{Path: file, Project: "ui", Kind: KindModify})
	engine.Handle(Event{Path: file, Project: "ui", Kind: KindModify})
	engine.Handle(Event{Path: file, Project: "ui", Kind: KindOther})

	assert.Equal(t, 2, src.Loads())
}

func TestHandle_RecordsMetrics(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "dist", "deps", "ui")
	rec := &recordingRecorder{}
	engine := newTestEngine(newTestGraph(t, ui, app), WithRecorder(rec))

	file := filepath.Join(ui.ExportRoot, "a.js")
	writeFile(t, file, "a")

	res := engine.Handle(Event{Path: file, Project: "ui", Kind: KindCreate})
	engine.Handle(Event{Path: res.Outcomes[0].Destination, Project: "app", Kind: KindModify})
	engine.Handle(Event{Path: file, Project: "ui", Kind: KindOther})

	assert.Equal(t, []Kind{KindCreate, KindModify, KindOther}, rec.received)
	assert.Equal(t, []string{RejectGuard, RejectKind}, rec.rejected)
	assert.Equal(t, []string{ResultCopied}, rec.results)
	assert.Equal(t, 1, rec.guard)
}

func TestEngine_SharedGuard(t *testing.T) {
	guard := NewGuard()
	engine := newTestEngine(&staticSource{}, WithGuard(guard))
	assert.Same(t, guard, engine.Guard())
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_DrainsUntilClosed(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "dist", "deps", "ui")
	engine := newTestEngine(newTestGraph(t, ui, app))

	events := make(chan Event, 3)

	for _, name := range []string{"a.js", "b.js", "c.js"} {
		path := filepath.Join(ui.ExportRoot, name)
		writeFile(t, path, name)
		events <- Event{Path: path, Project: "ui", Kind: KindCreate}
	}

	close(events)

	require.NoError(t, engine.Run(context.Background(), events))

	for _, name := range []string{"a.js", "b.js", "c.js"} {
		assert.Equal(t, name, readFile(t, filepath.Join(app.DependencyStoreRoot, "ui", name)))
	}

	assert.Equal(t, 3, engine.Guard().Len())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	engine := newTestEngine(&staticSource{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx, make(chan Event))
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop in time")
	}
}
