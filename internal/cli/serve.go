package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printHeader(cmd.OutOrStdout(), "conduit serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s bus=%s store=%s model=%s/%s\n",
		color.GreenString("Starting"), cfg.Bus.Driver, cfg.Store.Driver, cfg.Model.Provider, cfg.Model.Name)
	return serve(ctx, a)
}

// serve runs a until ctx is done, then stops it gracefully.
func serve(ctx context.Context, a *app) error {
	if err := a.service.Start(ctx); err != nil {
		_ = a.service.Stop(context.Background())
		return err
	}

	apiErr := make(chan error, 1)
	if a.api != nil {
		go func() { apiErr <- a.api.Run(ctx, a.cfg.API.Addr) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case runErr = <-apiErr:
		slog.Error("API server failed", "error", runErr)
	}

	stopErr := a.service.Stop(context.Background())
	if a.api != nil && runErr == nil {
		if err := <-apiErr; err != nil {
			slog.Warn("API shutdown", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return stopErr
}
