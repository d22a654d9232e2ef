// Package cmd defines and implements the CLI commands for the fre-lookup executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/api"
	"github.com/JakeFAU/fre-lookup/internal/app"
	"github.com/JakeFAU/fre-lookup/internal/config"
	"github.com/JakeFAU/fre-lookup/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Queries() api.QueryService
	Handler() http.Handler
	Close(ctx context.Context) error
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Queries() api.QueryService {
	return a.Service()
}

func (a appAdapter) Handler() http.Handler {
	return a.Server().Handler()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "fre-lookup",
		Short: "Looks up a company's rows in the CVM FRE open-data archives.",
		Long: `fre-lookup downloads the yearly Formulário de Referência (FRE) archive
published by the CVM, finds every row that belongs to a CNPJ and keeps the
result as a local snapshot. It runs as a CLI or as an HTTP service that also
relays the archive to browser clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			closeErr := appInstance.Close(context.WithoutCancel(cmd.Context()))
			_ = appInstance.Logger().Sync()
			return closeErr
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); FRE_* environment variables override it")

	cmd.AddCommand(
		newQueryCmd(),
		newImportCmd(),
		newCachedCmd(),
		newClearCmd(),
		newURLCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
