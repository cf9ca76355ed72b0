// Package cmd defines the CLI commands of the kblog executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/config"
	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/manage"
	"github.com/JakeFAU/kblog/internal/server"
)

// appKeyType is the key for storing values in the command context.
type appKeyType string

const (
	appKey    appKeyType = "app"
	configKey appKeyType = "config"

	// buildAnnotation selects what PersistentPreRunE builds for a command.
	buildAnnotation = "build"
	buildServer     = "server"
	buildNone       = "none"
)

// App is what commands use from the built application. Tests replace it.
type App interface {
	Close()
	Logger() *zap.Logger
	Store() *content.Store
	Manager() *manage.Manager
	Run(ctx context.Context) error
}

var (
	loadConfig = config.Load
	newApp     = func(ctx context.Context, cfg *config.Config, full bool) (App, error) {
		if full {
			return server.Build(ctx, cfg)
		}
		return server.BuildTools(ctx, cfg)
	}
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "kblog",
		Short: "Content backend for the kblog static blog.",
		Long: `kblog publishes articles into the static content tree, serves the
blog API and form endpoints, and maintains articles, images and the
submission database from the command line.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, &cfg)
			kind := cmd.Annotations[buildAnnotation]
			if kind != buildNone {
				appInstance, err := newApp(ctx, &cfg, kind == buildServer)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kblog.yaml when present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newArticlesCmd())
	cmd.AddCommand(newImagesCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
