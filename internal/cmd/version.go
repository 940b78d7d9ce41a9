package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/expinfo/pkg/output"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := output.ParseFormat(versionFormat)
		if err != nil {
			return usageError(cmd, err)
		}
		out := cmd.OutOrStdout()
		if format == output.FormatText {
			_, err = fmt.Fprintf(out, "%s %s (commit %s, built %s)\n",
				rootCmd.Name(), versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
			return err
		}
		return output.WriteValue(out, format, map[string]string{
			"version":   versionInfo.Version,
			"commit":    versionInfo.Commit,
			"buildDate": versionInfo.BuildDate,
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", output.FormatText, "Output format (text|json|yaml)")
}
