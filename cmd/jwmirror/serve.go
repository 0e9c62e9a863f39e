package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"jwmirror/internal/api"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only status API over the state store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configFlag)
		},
	}
}

func runServe(configPath string) error {
	env, err := newAppEnv(configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := echo.New()
	api.RegisterRoutes(e, env.store, env.log)

	var shutdownErr error
	sc := echo.StartConfig{
		Address:         ":" + env.cfg.Port,
		GracefulTimeout: 5 * time.Second,
		OnShutdownError: func(err error) { shutdownErr = err },
	}
	env.log.Info("Status API listening on :%s", env.cfg.Port)
	if err := sc.Start(ctx, e); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return shutdownErr
}
