package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/expinfo/internal/observability"
	"github.com/3leaps/expinfo/pkg/hooks"
	"github.com/3leaps/expinfo/pkg/jobregistry"
	"github.com/3leaps/expinfo/pkg/output"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the login hook files in sync with the registry",
	Long: `Render the motd and prompt hook files from the registry and re-render
them whenever the registry changes.

Login shells display the motd file and splice the prompt file into PS1, so
the files are always written with colors. With --events, every snapshot is
also written to stdout as JSON lines.

Examples:
  expinfo watch
  expinfo watch --once
  expinfo watch --events --refresh 30s | jq .`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchOnce     bool
	watchEvents   bool
	watchRefresh  time.Duration
	watchDebounce time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Render the hook files once and exit")
	watchCmd.Flags().BoolVar(&watchEvents, "events", false, "Emit registry snapshots as JSONL on stdout")
	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", time.Minute, "Also re-render periodically to catch dead processes (0=disable)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", hooks.DefaultDebounce, "Quiet period after a registry change before re-rendering")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg := currentConfig()
	reg := openRegistry()

	files := &hooks.Files{
		MotdPath:   cfg.Hooks.MotdPath(),
		PromptPath: cfg.Hooks.PromptPath(),
		Theme:      output.NewTheme(cmd.OutOrStdout(), output.ColorAlways),
		Alive:      jobregistry.IsProcessAlive,
	}
	files.Theme.Binary = rootCmd.Name()
	if err := os.MkdirAll(cfg.Hooks.Dir, 0o777); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create hook directory", err)
	}

	opts := []hooks.Option{
		hooks.WithLogger(observability.CLILogger),
		hooks.WithDebounce(watchDebounce),
		hooks.WithRefreshInterval(watchRefresh),
	}
	if watchEvents {
		ew := output.NewJSONLWriter(cmd.OutOrStdout(), hostname())
		defer func() { _ = ew.Close() }()
		opts = append(opts, hooks.WithEvents(ew))
	}
	w := hooks.NewWatcher(reg, files, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if watchOnce {
		w.Refresh(ctx)
		return nil
	}

	observability.CLILogger.Info("Watching registry",
		zap.String("registry", reg.Store().Path()),
		zap.String("motd", files.MotdPath),
		zap.String("prompt", files.PromptPath))
	if err := w.Run(ctx); err != nil {
		return exitError(foundry.ExitFileReadError, "Registry watch failed", err)
	}
	return nil
}
