package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/expinfo/internal/observability"
	"github.com/3leaps/expinfo/pkg/jobregistry"
	"github.com/3leaps/expinfo/pkg/match"
	"github.com/3leaps/expinfo/pkg/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List registered jobs",
	Long: `List the jobs in the registry.

Text output matches the listing printed by a bare "expinfo". JSON and YAML
output carry the same records plus a stale marker for records whose
process no longer runs.

Examples:
  expinfo status
  expinfo status --format json
  expinfo status --user '{alice,bob}' --grep bert
  expinfo status --format yaml --registry /scratch/expinfo.json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusFormat        string
	statusUsers         []string
	statusGrep          string
	statusExclusiveOnly bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", output.FormatText, "Output format (text|json|yaml)")
	statusCmd.Flags().StringSliceVarP(&statusUsers, "user", "u", nil, "Only jobs of users matching this glob (repeatable)")
	statusCmd.Flags().StringVar(&statusGrep, "grep", "", "Only jobs whose message or command matches this regex")
	statusCmd.Flags().BoolVar(&statusExclusiveOnly, "exclusive-only", false, "Only the exclusive job, if any")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := output.ParseFormat(statusFormat)
	if err != nil {
		return usageError(cmd, err)
	}
	sel, err := match.New(match.Config{
		Users:         statusUsers,
		Grep:          statusGrep,
		ExclusiveOnly: statusExclusiveOnly,
	})
	if err != nil {
		return usageError(cmd, err)
	}
	return printStatus(cmd.Context(), cmd, openRegistry(), format, sel)
}

// printStatus lists the registry. A busy registry is not an error here:
// the remediation is printed instead and the command succeeds.
func printStatus(ctx context.Context, cmd *cobra.Command, reg *jobregistry.Registry, format string, sel *match.Selector) error {
	out := cmd.OutOrStdout()
	jobs, err := reg.Jobs(ctx)
	if err != nil {
		return readFailure(cmd, reg, err)
	}
	if !sel.Empty() {
		observability.CLILogger.Debug("Filtering jobs", zap.String("selector", sel.String()))
		jobs = sel.Filter(jobs)
	}

	if format == output.FormatText {
		err = newTheme(out).WriteStatus(out, jobs, output.TextOptions{Alive: jobregistry.IsProcessAlive})
	} else {
		err = output.WriteDocument(out, format, output.NewStatusDocument(jobs, jobregistry.IsProcessAlive))
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write status", err)
	}
	return nil
}

func readFailure(cmd *cobra.Command, reg *jobregistry.Registry, err error) error {
	if errors.Is(err, jobregistry.ErrAcquisitionTimeout) {
		observability.CLILogger.Warn("Registry busy", zap.String("path", reg.Store().Path()))
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, newTheme(out).BusyMessage(reg.Store().Dir()))
		return nil
	}
	observability.CLILogger.Error("Failed to read registry", zap.Error(err))
	return exitError(foundry.ExitFileReadError, "Failed to read registry", err)
}
