package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/docflow/internal/app"
	"github.com/petrijr/docflow/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run workers, scheduled cleanup and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := ctx.openApp(runCtx, app.WithDaemonLock())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Start(runCtx); err != nil {
				return err
			}
			if bind == "" {
				bind = a.Config.Server.Bind
			}
			srv := server.New(a)
			if err := srv.Start(runCtx, bind); err != nil {
				_ = a.Stop(context.Background())
				return err
			}

			<-runCtx.Done()
			a.Logger.Info("shutting down", slog.String("reason", context.Cause(runCtx).Error()))

			srv.Stop()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return a.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides server.bind)")
	return cmd
}
