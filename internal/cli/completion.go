package cli

import (
	"github.com/spf13/cobra"
)

func newCompletionCommand() *cobra.Command {
	var noDescriptions bool

	cmd := &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate a completion script for bash, zsh, fish, or powershell.

Bash:
  $ source <(fantoche completion bash)

Zsh:
  $ fantoche completion zsh > "${fpath[1]}/_fantoche"

Fish:
  $ fantoche completion fish > ~/.config/fish/completions/fantoche.fish

PowerShell:
  PS> fantoche completion powershell | Out-String | Invoke-Expression
`,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			root := cmd.Root()
			desc := !noDescriptions

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, desc)
			case "zsh":
				if desc {
					return root.GenZshCompletion(w)
				}

				return root.GenZshCompletionNoDesc(w)
			case "fish":
				return root.GenFishCompletion(w, desc)
			case "powershell":
				if desc {
					return root.GenPowerShellCompletionWithDesc(w)
				}

				return root.GenPowerShellCompletion(w)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&noDescriptions, "no-descriptions", false, "disable completion descriptions")

	return cmd
}
