package main

import (
	"os/signal"
	"syscall"

	srv "github.com/mohammad-safakhou/researcher/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := serveAddr
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			return srv.New(a.svc, a.cfg.Server, a.logger.Named("http"), a.metrics).Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.address)")
	return serve
}
