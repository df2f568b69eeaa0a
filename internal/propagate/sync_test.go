package propagate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncAll(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	lib := newProject(t, root, "lib", "out", "")
	app := newProject(t, root, "app", "dist", "deps", "ui")

	writeFile(t, filepath.Join(ui.ExportRoot, "index.js"), "index")
	writeFile(t, filepath.Join(ui.ExportRoot, "css", "main.css"), "css")
	writeFile(t, filepath.Join(lib.ExportRoot, "lib.js"), "no dependents")

	engine := newTestEngine(newTestGraph(t, ui, lib, app))

	summary, err := engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncSummary{Files: 2, Copied: 2}, summary)

	assert.Equal(t, "index", readFile(t, filepath.Join(app.DependencyStoreRoot, "ui", "index.js")))
	assert.Equal(t, "css", readFile(t, filepath.Join(app.DependencyStoreRoot, "ui", "css", "main.css")))
	assert.NoDirExists(t, filepath.Join(app.DependencyStoreRoot, "lib"))
}

func TestSyncAll_MissingExportTreeIsSkipped(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	ui.ExportRoot = filepath.Join(root, "ui", "not-built")
	app := newProject(t, root, "app", "dist", "deps", "ui")

	engine := newTestEngine(newTestGraph(t, ui, app))

	summary, err := engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Files)
}

func TestSyncAll_GraphError(t *testing.T) {
	engine := newTestEngine(&staticSource{err: errors.New("boom")})

	_, err := engine.SyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading project graph")
}

func TestSyncAll_Cancelled(t *testing.T) {
	root := t.TempDir()
	ui := newProject(t, root, "ui", "dist", "")
	app := newProject(t, root, "app", "dist", "deps", "ui")
	writeFile(t, filepath.Join(ui.ExportRoot, "index.js"), "index")

	engine := newTestEngine(newTestGraph(t, ui, app))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.SyncAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
