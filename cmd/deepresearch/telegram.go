package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/deepresearch/internal/gateway"
	"github.com/rahul/deepresearch/internal/observability"
)

func telegramCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Answer research questions sent to a Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			tty := observability.IsTerminal(os.Stdout)
			opts := appOptions{Console: tty}
			if tty {
				observability.InitializeTerminal()
				defer observability.CleanupTerminal()
				// Keep log lines from tearing the live status line.
				opts.LogOutput = observability.NewTermWriter()
			}
			a, err := newApp(*cfgPath, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			tgCfg, ok := a.cfg.GetTelegramConfig()
			if !ok {
				return errors.New("telegram gateway is not enabled or token is missing")
			}

			session := &gateway.Session{
				Runner:       a.orch,
				Journal:      a.journal,
				HistoryLimit: a.cfg.Research.ContextMessageLimit,
				Prepare:      a.prepare,
				Logger:       a.logger,
			}
			var messenger gateway.Messenger
			messenger, err = gateway.NewTelegramGateway(tgCfg.Token, session, a.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go heartbeat(ctx, a.logger)

			if tty {
				go func() {
					ticker := time.NewTicker(time.Second)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							observability.PrintLiveStatus()
						}
					}
				}()
			}

			return messenger.Start(ctx)
		},
	}
}
