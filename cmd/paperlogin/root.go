package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/paperlogin/paperlogin/internal/config"
	"github.com/paperlogin/paperlogin/internal/infra"
	"github.com/paperlogin/paperlogin/internal/logging"
	"github.com/paperlogin/paperlogin/internal/metrics"
	"github.com/paperlogin/paperlogin/internal/routes"
)

// NewRootCmd creates the root command for the PaperLogin CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paperlogin",
		Short: "PaperLogin - exchange codes linking players to a website",
		Long: `PaperLogin issues short-lived login codes and web verification codes
that let a website confirm which in-game player it is talking to.

Configuration is read from the environment (STORE_BACKEND, REDIS_URL,
DATABASE_URL, LOGIN_CODE_VALIDITY, WEBSITE_URL, ...).`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newConsumeCmd())

	return cmd
}

// env is the configured store plus everything built on top of it.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	res    *infra.Resources
	deps   routes.Deps
}

// loggerFactory builds the process logger once configuration is known.
type loggerFactory func(appName, level string) *slog.Logger

// loggerTo writes logs to w instead of stdout.
func loggerTo(w io.Writer) loggerFactory {
	return func(appName, level string) *slog.Logger {
		return logging.NewWithWriter(w, appName, level)
	}
}

// openEnv loads configuration and connects the store.
func openEnv(ctx context.Context, mkLogger loggerFactory) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := mkLogger(cfg.AppName, cfg.LogLevel)

	res, err := infra.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg, m := metrics.NewRegistry()
	return &env{
		cfg:    cfg,
		logger: logger,
		res:    res,
		deps: routes.Deps{
			Cfg:      cfg,
			Store:    res.Store,
			Cache:    res.Cache,
			DB:       res.DB,
			Logger:   logger,
			Metrics:  m,
			Registry: reg,
		},
	}, nil
}

func (e *env) Close() { e.res.Close() }
