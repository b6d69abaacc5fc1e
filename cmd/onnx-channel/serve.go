package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/internal/app"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr  string
		model string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the channel over HTTP and websocket",
		Long: `Serve the channel until interrupted.

Routes:
  POST /v1/channel      one method call per request
  GET  /v1/channel      channel name and methods
  GET  /v1/channel/ws   websocket, one method call per text frame
  GET  /healthz
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.HTTP.Addr = addr
			}
			if model != "" {
				c.cfg.Model.Path = model
			}
			return runServe(cmd.Context(), c)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&model, "model", "", "model to load at startup (overrides model.path)")
	return cmd
}

func runServe(ctx context.Context, c *cli) error {
	fxApp := app.New(c.cfg, c.logger, c.opener())

	startCtx, cancel := context.WithTimeout(ctx, fxApp.StartTimeout())
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down", zap.String("reason", "context canceled"))
	case sig := <-fxApp.Done():
		c.logger.Info("shutting down", zap.Stringer("signal", sig))
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fxApp.StopTimeout())
	defer cancelStop()
	return fxApp.Stop(stopCtx)
}
