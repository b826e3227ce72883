package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// NewCompletionCmd creates the completion command for shell auto-completion.
func NewCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for stakewatch.

To load completions:

Bash:
  $ source <(stakewatch completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ stakewatch completion bash > /etc/bash_completion.d/stakewatch
  # macOS:
  $ stakewatch completion bash > $(brew --prefix)/etc/bash_completion.d/stakewatch

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ stakewatch completion zsh > "${fpath[1]}/_stakewatch"
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ stakewatch completion fish | source
  # To load completions for each session, execute once:
  $ stakewatch completion fish > ~/.config/fish/completions/stakewatch.fish

PowerShell:
  PS> stakewatch completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}

	return cmd
}
