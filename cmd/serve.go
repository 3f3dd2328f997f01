package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/monitor"
	"github.com/kyleking/sqlchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat over an HTTP API",
		Description: `Start the HTTP API. Data sources are uploaded or connected through the
API; --csv or the --db-* flags preload one at startup.

Examples:
  sqlchat serve
  sqlchat serve --addr 127.0.0.1:9000 --csv employees.csv`,
		Flags: append(append(sourceFlags(), modelFlags()...),
			&cli.StringFlag{Name: "addr", Usage: "Listen address (default :8501)"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			spec, err := sourceFromFlags(cmd)
			if err != nil {
				return err
			}

			return runServeWithConfig(ctx, cfg, spec)
		},
	}
}

func runServeWithConfig(ctx context.Context, cfg *config.Config, spec sourceSpec) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, engineOptions{Model: true, Snippets: true})
	if err != nil {
		return err
	}
	defer cleanup()

	if !spec.empty() {
		tables, err := openSource(ctx, engine, spec)
		if err != nil {
			return err
		}

		logging.WithField("tables", tables).Info("Preloaded data source")
	}

	srv := server.New(engine, cfg.Server)

	sampler := monitor.NewMemorySampler()
	sampler.Start(ctx, 30*time.Second)
	defer sampler.Stop()

	srv.EnableStats(sampler)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down HTTP API")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
