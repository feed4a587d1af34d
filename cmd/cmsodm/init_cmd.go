package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/artpar/cmsodm/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file and create the collections",
	Long: `Initialize a cmsodm database.

This will:
  1. Write a configuration file
  2. Create one collection per model and build its indexes
  3. Create an admin user (optional)

Examples:
  cmsodm init
  cmsodm init --driver mongo --dsn mongodb://localhost:27017 --name cms
  cmsodm init --admin-username admin --admin-email admin@example.com`,
	RunE: runInit,
}

var (
	initDriver        string
	initDSN           string
	initName          string
	initModelsDir     string
	initAdminUsername string
	initAdminEmail    string
	initAdminPassword string
	initForce         bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initDriver, "driver", config.DriverSQLite, "database driver (memory, sqlite, mongo)")
	initCmd.Flags().StringVar(&initDSN, "dsn", "cmsodm.db", "database file path or mongo URI")
	initCmd.Flags().StringVar(&initName, "name", "cmsodm", "database name (mongo only)")
	initCmd.Flags().StringVar(&initModelsDir, "models-dir", "", "directory with extra model definitions")
	initCmd.Flags().StringVar(&initAdminUsername, "admin-username", "", "create an admin user with this username")
	initCmd.Flags().StringVar(&initAdminEmail, "admin-email", "", "admin user email")
	initCmd.Flags().StringVar(&initAdminPassword, "admin-password", "", "admin user password (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if _, err := os.Stat(cfgFile); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", cfgFile)
	}
	if initAdminUsername != "" && initAdminEmail == "" {
		return fmt.Errorf("--admin-email is required with --admin-username")
	}

	content := generateConfig(initDriver, initDSN, initName, initModelsDir)
	if _, err := config.Parse([]byte(content)); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(out, "%s Generated %s\n", checkMark(), cfgFile)

	s, err := openSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer s.Close(ctx)

	for _, m := range s.factory.Models() {
		fmt.Fprintf(out, "%s Collection %s (%d indexes)\n", checkMark(), m.Name(), len(m.IndexSpecs()))
	}

	if initAdminUsername == "" {
		return nil
	}

	password := initAdminPassword
	if password == "" {
		password = generatePassword()
	}
	users, err := s.factory.Get("users")
	if err != nil {
		return err
	}
	if _, err := users.CreateInstance(ctx, map[string]any{
		"username":   initAdminUsername,
		"email":      initAdminEmail,
		"password":   password,
		"isAdmin":    true,
		"privileges": 1,
	}); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	fmt.Fprintf(out, "%s Created admin user: %s\n", checkMark(), initAdminUsername)
	if initAdminPassword == "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Admin credentials (save these, shown once):")
		fmt.Fprintf(out, "  Username: %s\n", initAdminUsername)
		fmt.Fprintf(out, "  Password: %s\n", password)
	}
	return nil
}

func generateConfig(driver, dsn, name, modelsDir string) string {
	if driver == config.DriverMemory {
		dsn = ""
	}
	return fmt.Sprintf(`# cmsodm configuration
# Generated by 'cmsodm init'

database:
  driver: %s
  dsn: %q
  name: %q
  timeout: 10s

logging:
  level: info
  format: console

metrics:
  enabled: false

models:
  dir: %q

serialization:
  expand_foreign_keys: false
  expand_max_depth: 1

security:
  bcrypt_cost: 10
`, driver, dsn, name, modelsDir)
}

func generatePassword() string {
	b := make([]byte, 12)
	rand.Read(b)
	return hex.EncodeToString(b)
}
