// Package cmd implements the expinfo command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/expinfo/internal/config"
	"github.com/3leaps/expinfo/internal/observability"
	"github.com/3leaps/expinfo/internal/server/handlers"
	"github.com/3leaps/expinfo/pkg/jobregistry"
	"github.com/3leaps/expinfo/pkg/output"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and the
// status server.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = version
	handlers.SetVersionInfo(version, commit, buildDate)
}

var rootCmd = &cobra.Command{
	Use:   "expinfo [flags] [--] [command...]",
	Short: "Experiment job manager for shared hosts",
	Long: `expinfo registers long-running experiments on a shared machine so that
other users can see who is running what, and lets a job claim exclusive
access to the machine.

Without a command, the registered jobs are listed. With a command, the
job is registered, run through the shell, and removed from the registry
when it exits or is interrupted.

Examples:
  expinfo
  expinfo -m "bert fine-tuning" -n 0 -t 12:00 -- ./train.sh --epochs 3
  expinfo -x -m "latency benchmark" -n 1 -p ./bench
  expinfo --prompt`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

var (
	runTime      string
	runMessage   string
	runNuma      string
	runExclusive bool
	runPin       bool
	runPrompt    bool

	registryPath string
	logLevel     string
	colorMode    string
)

var appConfig *config.Config

func init() {
	// Assigned here rather than in the literal to avoid an initialization
	// cycle (runRoot -> newTheme -> rootCmd).
	rootCmd.RunE = runRoot

	flags := rootCmd.Flags()
	// Everything after the first positional belongs to the job's command.
	flags.SetInterspersed(false)
	flags.StringVarP(&runTime, "time", "t", "", "Estimated runtime as hours:mm (default 1:00)")
	flags.StringVarP(&runMessage, "message", "m", "", "Description shown to other users (required to run)")
	flags.StringVarP(&runNuma, "numa", "n", "", "NUMA node the job uses; informational unless --pin (required to run)")
	flags.BoolVarP(&runExclusive, "exclusive", "x", false, "Claim exclusive access to the machine")
	flags.BoolVarP(&runPin, "pin", "p", false, "Bind the command to the --numa node with numactl")
	flags.BoolVar(&runPrompt, "prompt", false, "Print a one-line summary for a shell prompt and exit")

	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&registryPath, "registry", "", "Registry file (default /tmp/expinfo/expinfo.json)")
	pflags.StringVar(&logLevel, "log-level", "", "Diagnostic log level (debug|info|warn|error)")
	pflags.StringVar(&colorMode, "color", string(output.ColorAuto), "Color output (auto|always|never)")

	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError(c, err)
	})
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(context.Background())
}

func execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	return exitCodeFor(rootCmd.ErrOrStderr(), err)
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	if strings.TrimSpace(registryPath) != "" {
		overrides["registry"] = map[string]any{"path": registryPath}
	}
	if strings.TrimSpace(logLevel) != "" {
		overrides["logging"] = map[string]any{"level": logLevel}
	}

	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	switch output.ColorMode(colorMode) {
	case output.ColorAuto, output.ColorAlways, output.ColorNever:
	default:
		return usageError(cmd, fmt.Errorf("invalid --color %q (want auto, always or never)", colorMode))
	}

	appConfig = cfg
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("registry", cfg.Registry.Path),
		zap.Duration("lock_timeout", cfg.Registry.LockTimeout))
	return nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg := openRegistry()

	if runPrompt {
		return printPrompt(ctx, cmd, reg)
	}
	if len(args) == 0 {
		return printStatus(ctx, cmd, reg, output.FormatText, nil)
	}

	if strings.TrimSpace(runMessage) == "" {
		return usageError(cmd, errors.New("the following arguments are required: -m/--message"))
	}
	if strings.TrimSpace(runNuma) == "" {
		return usageError(cmd, errors.New("the following arguments are required: -n/--numa"))
	}
	runtime := jobregistry.DefaultRuntime
	if strings.TrimSpace(runTime) != "" {
		d, err := jobregistry.ParseDuration(runTime)
		if err != nil {
			return usageError(cmd, fmt.Errorf("argument -t/--time: %w", err))
		}
		runtime = d
	}

	return runJob(ctx, cmd, reg, jobregistry.Request{
		Command:   args,
		Message:   runMessage,
		Numa:      runNuma,
		Runtime:   runtime,
		Exclusive: runExclusive,
		Pin:       runPin,
	})
}

// usageError prints the usage text followed by err and fails with status 1.
func usageError(cmd *cobra.Command, err error) error {
	w := cmd.ErrOrStderr()
	_, _ = fmt.Fprint(w, cmd.UsageString())
	_, _ = fmt.Fprintf(w, "error: %v\n", err)
	return reportedError(exitFailure, err)
}

func currentConfig() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	if cfg := config.GetConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.Load(context.Background())
	if err != nil {
		observability.CLILogger.Warn("Falling back to built-in configuration", zap.Error(err))
		return config.Default()
	}
	return cfg
}

func openRegistry() *jobregistry.Registry {
	cfg := currentConfig()
	store := jobregistry.NewStore(cfg.Registry.Path,
		jobregistry.WithLockTimeout(cfg.Registry.LockTimeout),
		jobregistry.WithPollInterval(cfg.Registry.PollInterval),
		jobregistry.WithStoreLogger(observability.CLILogger))
	return jobregistry.NewRegistry(store, jobregistry.WithRegistryLogger(observability.CLILogger))
}

func newTheme(w io.Writer) *output.Theme {
	t := output.NewTheme(w, output.ColorMode(colorMode))
	t.Binary = rootCmd.Name()
	return t
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
