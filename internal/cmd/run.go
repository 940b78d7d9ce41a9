package cmd

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/expinfo/internal/observability"
	"github.com/3leaps/expinfo/pkg/jobregistry"
	"github.com/3leaps/expinfo/pkg/output"
)

// runJob registers req, runs it in the foreground and maps the outcome to
// an exit status. The job's own exit status is logged, not propagated.
func runJob(ctx context.Context, cmd *cobra.Command, reg *jobregistry.Registry, req jobregistry.Request) error {
	cfg := currentConfig()
	stderr := cmd.ErrOrStderr()

	ctrl := jobregistry.NewController(reg,
		jobregistry.WithLogger(observability.CLILogger),
		jobregistry.WithShell(cfg.Run.Shell),
		jobregistry.WithNumactl(cfg.Run.Numactl),
		jobregistry.WithStdio(cmd.InOrStdin(), cmd.OutOrStdout(), stderr),
		jobregistry.WithStateHook(func(_ string, s jobregistry.State) {
			if s == jobregistry.StateCreated {
				_, _ = fmt.Fprintf(stderr, "Starting cmd=%s\n", req.CommandLine())
			}
		}),
	)

	res, err := ctrl.Run(ctx, req)
	if err == nil {
		observability.CLILogger.Info("Job completed",
			zap.String("job_id", res.JobID),
			zap.Int("pid", res.PID),
			zap.Int("exit_code", res.ExitCode))
		return nil
	}

	var admErr *jobregistry.AdmissionError
	var termErr *jobregistry.TerminatedError
	switch {
	case errors.As(err, &admErr):
		if werr := newTheme(cmd.OutOrStdout()).WriteStatus(cmd.OutOrStdout(), admErr.Jobs,
			output.TextOptions{Alive: jobregistry.IsProcessAlive}); werr != nil {
			observability.CLILogger.Warn("Failed to print registry", zap.Error(werr))
		}
		_, _ = fmt.Fprintf(stderr, "error: %s\n", refusalMessage(admErr))
		return reportedError(exitFailure, err)

	case errors.Is(err, jobregistry.ErrAcquisitionTimeout):
		_, _ = fmt.Fprintln(stderr, newTheme(stderr).BusyMessage(reg.Store().Dir()))
		return reportedError(foundry.ExitExternalServiceUnavailable, err)

	case errors.As(err, &termErr):
		return reportedError(signalExitCode(termErr), err)

	case errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, "Job cancelled", err)

	default:
		observability.CLILogger.Error("Job failed", zap.Error(err))
		return exitError(exitFailure, "Job failed", err)
	}
}

func refusalMessage(e *jobregistry.AdmissionError) string {
	switch {
	case errors.Is(e, jobregistry.ErrExclusiveHeld):
		holder := "another user"
		if j, ok := e.Jobs[e.HolderID]; ok && j.User != "" {
			holder = j.User
		}
		return fmt.Sprintf("%s has exclusive access to this machine; try again when the job above has finished", holder)
	case errors.Is(e, jobregistry.ErrRegistryOccupied):
		return fmt.Sprintf("exclusive access needs an idle machine, but %d job(s) are registered", len(e.Jobs))
	default:
		return e.Error()
	}
}

// signalExitCode follows the shell convention of 128+signo.
func signalExitCode(e *jobregistry.TerminatedError) int {
	if e.Number == int(syscall.SIGINT) {
		return foundry.ExitSignalInt
	}
	if e.Number > 0 {
		return 128 + e.Number
	}
	return exitFailure
}
