package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/format"
	"github.com/vedsharma/apitester/internal/server"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API used by the browser front end",
		Run:   runServe,
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.address)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	a := mustBootstrap(cmd)
	defer a.Close()

	cfg := a.cfg.Server
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Address = addr
	}

	srv := server.New(cfg, server.Deps{
		Dispatcher: a.client,
		Store:      a.store,
		Tombstones: a.tombstones,
		PageSize:   a.cfg.History.PageSize,
		Logger:     a.logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()
	format.PrintSuccess(fmt.Sprintf("Listening on %s (proxy %s)", cfg.Address, a.client.BaseURL()))

	select {
	case err := <-errCh:
		if err != nil {
			a.exitf("Server stopped: %v", err)
		}
	case <-cmd.Context().Done():
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown failed", zap.Error(err))
		}
	}
}
