package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/expinfo/pkg/jobregistry"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print a one-line registry summary for a shell prompt",
	Long: `Print who is using the machine in one line, suitable for PS1.

Nothing is printed while the registry is empty. "expinfo --prompt" is an
alias.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printPrompt(cmd.Context(), cmd, openRegistry())
	},
}

func init() {
	rootCmd.AddCommand(promptCmd)
}

func printPrompt(ctx context.Context, cmd *cobra.Command, reg *jobregistry.Registry) error {
	jobs, err := reg.Jobs(ctx)
	if err != nil {
		return readFailure(cmd, reg, err)
	}
	out := cmd.OutOrStdout()
	if line := newTheme(out).PromptLine(jobs); line != "" {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}
