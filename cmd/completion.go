package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for the mcprouter CLI.

Bash:
  $ mcprouter completion bash > /etc/bash_completion.d/mcprouter

Zsh:
  # Ensure completion is enabled in your .zshrc (autoload -Uz compinit; compinit)
  $ mcprouter completion zsh > "${fpath[1]}/_mcprouter"

Fish:
  $ mcprouter completion fish > ~/.config/fish/completions/mcprouter.fish

PowerShell:
  PS> mcprouter completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)

		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)

		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)

		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
