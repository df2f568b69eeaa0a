// Package project models the set of locally configured projects and the
// dependency edges between them.
//
// A Graph is an immutable snapshot. It is rebuilt from fantoche.yaml on
// every change so that edits to the file take effect without a restart.
package project

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrDuplicateProject indicates two projects share a name.
	ErrDuplicateProject = errors.New("duplicate project name")

	// ErrUnknownProject indicates a lookup for a name not in the graph.
	ErrUnknownProject = errors.New("unknown project")
)

// Project is a single configured project.
type Project struct {
	// Name identifies the project and is unique within a Graph.
	Name string

	// Root is the absolute project directory.
	Root string

	// Exports is the configured export directory, relative to Root. Its
	// trailing path components are what export-root discovery matches on.
	Exports string

	// ExportRoot is the absolute directory tree the project publishes.
	ExportRoot string

	// DependencyStoreRoot is the absolute directory where copies of other
	// projects' exports are staged. Empty when the project consumes nothing.
	DependencyStoreRoot string

	// Dependencies lists the names of the projects this one consumes.
	Dependencies []string
}

// DependsOn reports whether p declares a direct dependency on name.
func (p *Project) DependsOn(name string) bool {
	return slices.Contains(p.Dependencies, name)
}

// HasStore reports whether p has a dependency store.
func (p *Project) HasStore() bool {
	return p.DependencyStoreRoot != ""
}

// SkippedProject records a configured project that could not be resolved.
type SkippedProject struct {
	Name   string
	Reason string
}

// Graph is an ordered, read-only view of the configured projects.
type Graph struct {
	projects []*Project
	byName   map[string]*Project

	// Skipped lists configured projects left out of the graph.
	Skipped []SkippedProject
}

// NewGraph builds a graph preserving the order of projects.
func NewGraph(projects ...*Project) (*Graph, error) {
	g := &Graph{
		projects: make([]*Project, 0, len(projects)),
		byName:   make(map[string]*Project, len(projects)),
	}

	for _, p := range projects {
		if _, exists := g.byName[p.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateProject, p.Name)
		}

		g.byName[p.Name] = p
		g.projects = append(g.projects, p)
	}

	return g, nil
}

// Projects returns the projects in configuration order.
func (g *Graph) Projects() []*Project {
	return slices.Clone(g.projects)
}

// Len returns the number of projects.
func (g *Graph) Len() int {
	return len(g.projects)
}

// Project looks up a project by name.
func (g *Graph) Project(name string) (*Project, error) {
	p, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, name)
	}

	return p, nil
}

// DependentsOf returns, in configuration order, every project that lists
// name as a direct dependency. Dependencies are not followed transitively.
func (g *Graph) DependentsOf(name string) []*Project {
	var dependents []*Project

	for _, p := range g.projects {
		if p.DependsOn(name) {
			dependents = append(dependents, p)
		}
	}

	return dependents
}

// Warnings describes configuration inconsistencies that do not prevent the
// graph from being used: unknown dependency names, self dependencies, and
// consumers without a dependency store.
func (g *Graph) Warnings() []string {
	var warnings []string

	for _, p := range g.projects {
		if len(p.Dependencies) > 0 && !p.HasStore() {
			warnings = append(warnings, fmt.Sprintf("project %q declares dependencies but has no dependencies_store", p.Name))
		}

		for _, dep := range p.Dependencies {
			switch {
			case dep == p.Name:
				warnings = append(warnings, fmt.Sprintf("project %q depends on itself", p.Name))
			case g.byName[dep] == nil:
				warnings = append(warnings, fmt.Sprintf("project %q depends on unknown project %q", p.Name, dep))
			}
		}
	}

	for _, s := range g.Skipped {
		warnings = append(warnings, fmt.Sprintf("project %q skipped: %s", s.Name, s.Reason))
	}

	return warnings
}
