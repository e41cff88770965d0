package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SSE research API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go heartbeat(ctx, a.logger)

			srv := server.New(server.Options{
				Runner:  a.orch,
				Journal: a.journal,
				Metrics: a.metrics,
				Logger:  a.logger,
				Prepare: a.prepare,
			})
			errc := make(chan error, 1)
			go func() { errc <- srv.Start(addr) }()
			a.logger.Info().Str("addr", addr).Msg("serving")

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

func heartbeat(ctx context.Context, logger *observability.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.Heartbeat()
			logger.LogHeartbeat()
		}
	}
}
