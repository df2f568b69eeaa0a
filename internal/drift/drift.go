// Package drift compares exported files with the copies staged in dependency
// stores and renders unified diffs for those that differ.
package drift

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hupe1980/fantoche/internal/project"
	"github.com/hupe1980/fantoche/internal/propagate"
)

// State describes how a staged copy relates to its source.
type State string

// Possible states.
const (
	StateInSync  State = "in-sync"
	StateMissing State = "missing"
	StateDiffers State = "differs"
)

// Entry is the comparison result for one exported file and one dependent.
type Entry struct {
	Dependent   string
	Dependency  string
	Source      string
	Destination string
	State       State
}

// Report is the outcome of Check.
type Report struct {
	Entries []Entry
}

// Drifted returns the entries that are not in sync.
func (r *Report) Drifted() []Entry {
	var out []Entry

	for _, e := range r.Entries {
		if e.State != StateInSync {
			out = append(out, e)
		}
	}

	return out
}

// Check walks every dependency's export tree and compares each regular file
// with its staged copy in every dependent's store. Dependents without a
// store, unknown dependencies, and missing export trees are skipped.
func Check(g *project.Graph) (*Report, error) {
	report := &Report{}

	for _, dependent := range g.Projects() {
		if !dependent.HasStore() {
			continue
		}

		for _, name := range dependent.Dependencies {
			dep, err := g.Project(name)
			if err != nil {
				continue
			}

			entries, err := compareTree(dependent, dep)
			if err != nil {
				return nil, err
			}

			report.Entries = append(report.Entries, entries...)
		}
	}

	return report, nil
}

func compareTree(dependent, dep *project.Project) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(dep.ExportRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dep.ExportRoot && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}

			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		dst, err := stagedPath(path, dep, dependent)
		if err != nil {
			return err
		}

		state, err := compareFiles(path, dst)
		if err != nil {
			return err
		}

		entries = append(entries, Entry{
			Dependent:   dependent.Name,
			Dependency:  dep.Name,
			Source:      path,
			Destination: dst,
			State:       state,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("comparing %s with %s: %w", dep.Name, dependent.Name, err)
	}

	return entries, nil
}

// stagedPath returns where the watcher stages path. The export root is the
// nearest ancestor named like dep.Exports, so files in a nested export
// directory are staged relative to that directory.
func stagedPath(path string, dep, dependent *project.Project) (string, error) {
	root, err := propagate.FindExportRoot(filepath.Dir(path), dep.Exports)
	if err != nil {
		return "", err
	}

	return propagate.MapDestination(path, root, dep.Name, dependent.DependencyStoreRoot)
}

func compareFiles(src, dst string) (State, error) {
	want, err := os.ReadFile(src) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", src, err)
	}

	got, err := os.ReadFile(dst) //nolint:gosec
	if errors.Is(err, fs.ErrNotExist) {
		return StateMissing, nil
	}

	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dst, err)
	}

	if bytes.Equal(want, got) {
		return StateInSync, nil
	}

	return StateDiffers, nil
}

// Diff renders a unified diff from the staged copy to the source of e.
// Binary content is summarised in a single line.
func Diff(e Entry, context int) (string, error) {
	src, err := os.ReadFile(e.Source)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", e.Source, err)
	}

	dst, err := os.ReadFile(e.Destination)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading %s: %w", e.Destination, err)
	}

	if isBinary(src) || isBinary(dst) {
		return fmt.Sprintf("Binary files %s and %s differ\n", e.Destination, e.Source), nil
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(string(dst)),
		B:        splitLines(string(src)),
		FromFile: e.Destination,
		ToFile:   e.Source,
		Context:  context,
	})
	if err != nil {
		return "", fmt.Errorf("computing diff: %w", err)
	}

	return unified, nil
}

// WriteDiff writes unified to w, coloring lines when color is set.
func WriteDiff(w io.Writer, unified string, color bool) {
	for _, line := range strings.Split(strings.TrimSuffix(unified, "\n"), "\n") {
		if color {
			writeColorLine(w, line)
		} else {
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

func writeColorLine(w io.Writer, line string) {
	const (
		red   = "\033[31m"
		green = "\033[32m"
		cyan  = "\033[36m"
		bold  = "\033[1m"
		reset = "\033[0m"
	)

	switch {
	case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", bold, line, reset)
	case strings.HasPrefix(line, "@@"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", cyan, line, reset)
	case strings.HasPrefix(line, "-"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", red, line, reset)
	case strings.HasPrefix(line, "+"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", green, line, reset)
	default:
		_, _ = fmt.Fprintln(w, line)
	}
}

// splitLines keeps trailing newlines, as difflib expects.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	return strings.SplitAfter(s, "\n")
}

func isBinary(data []byte) bool {
	const sniff = 8000

	if len(data) > sniff {
		data = data[:sniff]
	}

	return bytes.IndexByte(data, 0) >= 0
}
