package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/fantoche/internal/project"
)

// graphView is the serialized form of a resolved project graph.
type graphView struct {
	Projects []projectView `json:"projects"`
	Skipped  []skippedView `json:"skipped,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

type projectView struct {
	Name            string   `json:"name"`
	Root            string   `json:"root"`
	ExportRoot      string   `json:"exportRoot"`
	DependencyStore string   `json:"dependencyStore,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	Dependents      []string `json:"dependents,omitempty"`
}

type skippedView struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the resolved project graph",
		Long: `Graph resolves the project file and prints every project with its
export directory, dependency store, dependencies, and direct dependents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			graph, err := loadGraph(cmd, projectSource(cmd))
			if err != nil {
				return err
			}

			return writeGraph(cmd.OutOrStdout(), graph, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, yaml, json")

	return cmd
}

func newGraphView(g *project.Graph) graphView {
	view := graphView{Warnings: g.Warnings()}

	for _, p := range g.Projects() {
		var dependents []string
		for _, d := range g.DependentsOf(p.Name) {
			dependents = append(dependents, d.Name)
		}

		view.Projects = append(view.Projects, projectView{
			Name:            p.Name,
			Root:            p.Root,
			ExportRoot:      p.ExportRoot,
			DependencyStore: p.DependencyStoreRoot,
			Dependencies:    p.Dependencies,
			Dependents:      dependents,
		})
	}

	for _, s := range g.Skipped {
		view.Skipped = append(view.Skipped, skippedView(s))
	}

	return view
}

func writeGraph(w io.Writer, g *project.Graph, format string) error {
	view := newGraphView(g)

	switch format {
	case "json", "yaml":
		return writeEncoded(w, view, format)
	case "text":
		return writeGraphTable(w, view)
	default:
		return &ExitError{Code: 2, Err: fmt.Errorf("unsupported output format %q (use text, yaml, or json)", format)}
	}
}

// writeEncoded writes v as indented JSON or as YAML.
func writeEncoded(w io.Writer, v any, format string) error {
	var (
		data []byte
		err  error
	)

	if format == "json" {
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = sigsyaml.Marshal(v)
	}

	if err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("marshaling %s: %w", format, err)}
	}

	_, err = w.Write(data)

	return err
}

func writeGraphTable(w io.Writer, view graphView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tEXPORTS\tSTORE\tDEPENDS ON\tDEPENDENTS")

	for _, p := range view.Projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.ExportRoot, orDash(p.DependencyStore),
			orDash(strings.Join(p.Dependencies, ",")), orDash(strings.Join(p.Dependents, ",")))
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range view.Skipped {
		fmt.Fprintf(w, "skipped %s: %s\n", s.Name, s.Reason)
	}

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
