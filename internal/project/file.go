package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the project graph file searched for in the directory hierarchy.
const FileName = "fantoche.yaml"

var (
	// ErrProjectFileNotFound indicates no project graph file could be located.
	ErrProjectFileNotFound = errors.New("project file not found")

	// ErrInvalidProjectFile is returned by Parse for malformed input.
	ErrInvalidProjectFile = errors.New("invalid project file")
)

// File is the on-disk schema of fantoche.yaml.
type File struct {
	Projects []Spec `yaml:"projects"`
}

// Spec describes one project as written in fantoche.yaml.
type Spec struct {
	Name              string       `yaml:"name"`
	Path              string       `yaml:"path"`
	Exports           string       `yaml:"exports"`
	DependenciesStore string       `yaml:"dependencies_store,omitempty"`
	Dependencies      []Dependency `yaml:"dependencies,omitempty"`
}

// Dependency names an upstream project.
type Dependency struct {
	Name string `yaml:"name"`
}

// Parse decodes and validates a project file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProjectFile, err)
	}

	seen := make(map[string]struct{}, len(f.Projects))

	for i, spec := range f.Projects {
		switch {
		case spec.Name == "":
			return nil, fmt.Errorf("%w: project #%d: name is required", ErrInvalidProjectFile, i+1)
		case spec.Path == "":
			return nil, fmt.Errorf("%w: project %q: path is required", ErrInvalidProjectFile, spec.Name)
		case spec.Exports == "":
			return nil, fmt.Errorf("%w: project %q: exports is required", ErrInvalidProjectFile, spec.Name)
		}

		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidProjectFile, ErrDuplicateProject, spec.Name)
		}

		seen[spec.Name] = struct{}{}
	}

	return &f, nil
}

// FindInHierarchy looks for name in dir and each of its ancestors and returns
// the first existing match.
func FindInHierarchy(dir, name string) (string, bool) {
	for current := filepath.Clean(dir); ; {
		candidate := filepath.Join(current, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}

		current = parent
	}
}

// Source supplies project graph snapshots.
type Source interface {
	Load() (*Graph, error)
}

// FileSource reads fantoche.yaml from disk on every Load.
type FileSource struct {
	// Path is an explicit project file. When empty, FileName is searched
	// upward from BaseDir.
	Path string

	// BaseDir anchors the project file search and relative project paths.
	// Defaults to the working directory.
	BaseDir string

	Logger *slog.Logger
}

// Load locates, reads, and resolves the project file. A missing file found
// through discovery yields an empty graph; a missing explicit file is an error.
func (s *FileSource) Load() (*Graph, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseDir, err := s.baseDir()
	if err != nil {
		return nil, err
	}

	path := s.Path
	if path == "" {
		found, ok := FindInHierarchy(baseDir, FileName)
		if !ok {
			logger.Warn("project file not found", slog.String("name", FileName), slog.String("from", baseDir))
			return NewGraph()
		}

		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProjectFileNotFound, path)
		}

		return nil, fmt.Errorf("reading project file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return Resolve(f, baseDir)
}

func (s *FileSource) baseDir() (string, error) {
	if s.BaseDir != "" {
		return filepath.Abs(s.BaseDir)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}

	return wd, nil
}

// Resolve turns a parsed file into a Graph. Relative project paths are found
// by ancestor search from baseDir. Projects whose directory cannot be found
// are recorded in Graph.Skipped instead of failing the whole graph.
func Resolve(f *File, baseDir string) (*Graph, error) {
	projects := make([]*Project, 0, len(f.Projects))

	var skipped []SkippedProject

	for _, spec := range f.Projects {
		root, ok := locateRoot(baseDir, spec.Path)
		if !ok {
			skipped = append(skipped, SkippedProject{
				Name:   spec.Name,
				Reason: fmt.Sprintf("directory %q not found from %s", spec.Path, baseDir),
			})

			continue
		}

		p := &Project{
			Name:       spec.Name,
			Root:       root,
			Exports:    filepath.Clean(spec.Exports),
			ExportRoot: filepath.Join(root, spec.Exports),
		}

		if spec.DependenciesStore != "" {
			p.DependencyStoreRoot = filepath.Join(root, spec.DependenciesStore)
		}

		for _, dep := range spec.Dependencies {
			p.Dependencies = append(p.Dependencies, dep.Name)
		}

		projects = append(projects, p)
	}

	g, err := NewGraph(projects...)
	if err != nil {
		return nil, err
	}

	g.Skipped = skipped

	return g, nil
}

func locateRoot(baseDir, path string) (string, bool) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", false
		}

		return filepath.Clean(path), true
	}

	return FindInHierarchy(baseDir, path)
}
