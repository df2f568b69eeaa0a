package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fantoche/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		format string
		short  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Display the version, git commit, build date, Go version, and platform.

Binaries installed with "go install" report the module version and the
commit recorded by the Go toolchain. --short prints only the version, which
is handy in scripts that pin the watcher across a workspace.`,
		Args: cobra.NoArgs,
		// Runs without a project file.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetInfo()
			w := cmd.OutOrStdout()

			if short {
				_, err := fmt.Fprintln(w, info.Short())
				return err
			}

			switch format {
			case "json", "yaml":
				return writeEncoded(w, info, format)
			case "text":
				_, err := fmt.Fprintln(w, info.String())
				return err
			default:
				return &ExitError{Code: 2, Err: fmt.Errorf("unsupported output format %q (use text, yaml, or json)", format)}
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, yaml, json")
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	cmd.MarkFlagsMutuallyExclusive("short", "output")

	return cmd
}
