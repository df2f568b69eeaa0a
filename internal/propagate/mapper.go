package propagate

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

var (
	// ErrExportRootNotFound indicates no ancestor of a changed file matches
	// the origin project's export directory.
	ErrExportRootNotFound = errors.New("export root not found")

	// ErrNotUnderExportRoot indicates a changed file lies outside the export
	// root it was attributed to.
	ErrNotUnderExportRoot = errors.New("path is not under export root")
)

// Canonicalize returns the absolute, symlink-free form of path. A path that
// no longer exists keeps its base name and has only its parent resolved, so
// removed files still map to a destination.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}

	parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
	if perr != nil {
		return abs, nil
	}

	return filepath.Join(parent, filepath.Base(abs)), nil
}

// FindExportRoot scans dir and its ancestors, nearest first, and returns the
// first directory whose trailing path components equal those of exports.
// exports may span several components, e.g. "build/dist".
func FindExportRoot(dir, exports string) (string, error) {
	want := components(filepath.Clean(exports))

	if len(want) == 0 || want[0] == "." || want[0] == ".." {
		return "", fmt.Errorf("%w: invalid export directory %q", ErrExportRootNotFound, exports)
	}

	for current := filepath.Clean(dir); ; {
		if hasComponentSuffix(components(current), want) {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: no ancestor of %s ends with %q", ErrExportRootNotFound, dir, exports)
		}

		current = parent
	}
}

// MapDestination returns the path under storeRoot that mirrors changedPath's
// position below exportRoot, namespaced by the origin project name. The
// result is a pure function of its inputs and the current symlink layout.
func MapDestination(changedPath, exportRoot, origin, storeRoot string) (string, error) {
	changed, err := Canonicalize(changedPath)
	if err != nil {
		return "", err
	}

	root, err := Canonicalize(exportRoot)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, changed)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s not below %s", ErrNotUnderExportRoot, changed, root)
	}

	return filepath.Join(storeRoot, origin, rel), nil
}

func components(path string) []string {
	vol := filepath.VolumeName(path)
	path = strings.TrimPrefix(path, vol)

	var parts []string

	for _, p := range strings.Split(path, string(filepath.Separator)) {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return parts
}

func hasComponentSuffix(parts, suffix []string) bool {
	if len(suffix) > len(parts) {
		return false
	}

	offset := len(parts) - len(suffix)
	for i, s := range suffix {
		if parts[offset+i] != s {
			return false
		}
	}

	return true
}
