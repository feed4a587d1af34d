package main

import (
	"context"
	"fmt"
	"os"

	"github.com/artpar/cmsodm/bootstrap"
	"github.com/artpar/cmsodm/config"
	"github.com/artpar/cmsodm/ports"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	noColor bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cmsodm",
	Short: "Schema-driven document models for a CMS",
	Long: `cmsodm manages the documents of a CMS database through declarative models.

Every write is validated against the model's schema, unique items are
enforced, and deletes cascade along references between collections.

Quick start:
  cmsodm init       # Write a config file and create the collections
  cmsodm models     # List the models

Documents:
  cmsodm find posts '{"public": true}'
  cmsodm create users '{"username": "alice", ...}'
  cmsodm update posts '{"slug": "hello"}' '{"title": "Hello"}'
  cmsodm delete users '{"username": "alice"}'`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "cmsodm.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// loadConfig loads the config file, falling back to CMSODM_* variables when
// it does not exist. A relative models dir is resolved against the file.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgFile); err != nil {
		return config.LoadFromEnv()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Models.Dir = config.ModelsDir(cfg, cfgFile)
	return cfg, nil
}

// session is an initialized set of models over an open database.
type session struct {
	cfg     *config.Config
	logger  zerolog.Logger
	db      ports.Database
	factory *bootstrap.Factory
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	logger := bootstrap.SetupLogger(cfg.Logging, os.Stderr)

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	factory := bootstrap.NewFactory(bootstrap.Options{Logger: logger})
	bootstrap.RegisterHooks(factory.Events(), logger)
	if err := factory.Initialize(ctx, cfg, db); err != nil {
		db.Close(ctx)
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, db: db, factory: factory}, nil
}

func (s *session) Close(ctx context.Context) {
	if err := s.db.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("close database")
	}
}

func checkMark() string { return color.New(color.FgGreen).Sprint("✓") }
func crossMark() string { return color.New(color.FgRed).Sprint("✗") }
func warnMark() string  { return color.New(color.FgYellow).Sprint("!") }
