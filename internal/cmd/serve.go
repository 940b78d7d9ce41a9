package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/expinfo/internal/observability"
	"github.com/3leaps/expinfo/internal/server"
	"github.com/3leaps/expinfo/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the registry over read-only HTTP",
	Long: `Start an HTTP server exposing the registry for dashboards and probes.

Endpoints:
  GET /jobs          all registered jobs
  GET /jobs/{id}     one job
  GET /health        registry lock check (also /health/live, /ready, /startup)
  GET /version       build information

Examples:
  expinfo serve
  expinfo serve --host 0.0.0.0 --port 9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config: localhost)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config: 8080)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := currentConfig().Server
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	handlers.InitHealthManager(versionInfo.Version)
	srv := server.New(cfg.Host, cfg.Port,
		server.WithRegistry(openRegistry()),
		server.WithLogger(observability.CLILogger),
		server.WithTimeouts(cfg.ReadTimeout, cfg.WriteTimeout, cfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.CLILogger.Info("Starting status server", zap.String("addr", srv.Addr()))
	if err := srv.ListenAndServe(ctx); err != nil {
		observability.CLILogger.Error("Status server failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Status server failed", err)
	}
	return nil
}
