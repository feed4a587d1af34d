package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/cmsodm/bootstrap"
	"github.com/artpar/cmsodm/config"
	"github.com/artpar/cmsodm/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and model definitions",
	Long: `Validate the cmsodm configuration and the model definitions it selects.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Every model definition builds and every reference has a target
  - Database is reachable and indexes can be built (optional)

With --watch the checks run again whenever the config file or a
definition in the models directory changes, or on SIGHUP.

Examples:
  cmsodm validate
  cmsodm validate --config /etc/cmsodm/config.yaml --check-database
  cmsodm validate --watch`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
	validateWatch         bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "connect to the database and build the indexes")
	validateCmd.Flags().BoolVar(&validateWatch, "watch", false, "validate again on every change")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !validateWatch {
		return validateOnce(ctx, out)
	}

	if err := validateOnce(ctx, out); err != nil {
		fmt.Fprintf(out, "\n%v\n", err)
	}

	logger := bootstrap.SetupLogger(config.LoggingConfig{Level: "warn", Format: "console"}, os.Stderr)
	holder, err := config.NewHolder(cfgFile, logger)
	if err != nil {
		return err
	}
	holder.OnChange(func(*config.Config) {
		fmt.Fprintf(out, "\n[%s] change detected\n", time.Now().Format(time.TimeOnly))
		if err := validateOnce(ctx, out); err != nil {
			fmt.Fprintf(out, "\n%v\n", err)
		}
	})
	if err := holder.Watch(); err != nil {
		return err
	}
	holder.WatchSignals()
	defer holder.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(out, "\nWatching for changes (Ctrl-C to stop)...")
	<-ctx.Done()
	return nil
}

func validateOnce(ctx context.Context, out io.Writer) error {
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file not found, using environment\n", warnMark())
	} else {
		fmt.Fprintf(out, "  %s Config file exists\n", checkMark())
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark())
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark())
	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark(), describeDSN(cfg.Database), cfg.Database.Driver)

	defs, err := models.Load(cfg.Models.Dir, cfg.Models.SkipBuiltin)
	if err != nil {
		fmt.Fprintf(out, "  %s Model definitions valid\n", crossMark())
		return err
	}
	for _, def := range defs {
		if _, err := def.Build(); err != nil {
			fmt.Fprintf(out, "  %s Model %s\n", crossMark(), def.Collection)
			return err
		}
	}
	source := "built-in"
	if cfg.Models.Dir != "" {
		source = "built-in + " + cfg.Models.Dir
		if cfg.Models.SkipBuiltin {
			source = cfg.Models.Dir
		}
	}
	fmt.Fprintf(out, "  %s Model definitions valid: %d (%s)\n", checkMark(), len(defs), source)

	if validateCheckDatabase {
		if err := checkDatabase(ctx, cfg); err != nil {
			fmt.Fprintf(out, "  %s Database initialized\n", crossMark())
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database initialized\n", checkMark())
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	factory := bootstrap.NewFactory(bootstrap.Options{
		Logger:     zerolog.Nop(),
		Registerer: prometheus.NewRegistry(),
	})
	return factory.Initialize(ctx, cfg, db)
}

// describeDSN hides the credentials of a mongo URI.
func describeDSN(cfg config.DatabaseConfig) string {
	switch cfg.Driver {
	case config.DriverMemory:
		return "in-memory"
	case config.DriverMongo:
		return redactURI(cfg.DSN) + "/" + cfg.Name
	default:
		return cfg.DSN
	}
}
