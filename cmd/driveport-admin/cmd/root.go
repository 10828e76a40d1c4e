// Package cmd implements the driveport-admin CLI: operational commands for
// route permissions, roles, seeding, and rate-limit blocks. The CLI talks
// directly to the backing stores, so it keeps working when the API itself is
// locked down or misconfigured.
package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveport/api/internal/infra/postgres"
	"github.com/driveport/api/pkg/logger"
)

var errMissingDatabase = errors.New("database URL required: use --db or set DATABASE_URL")

var (
	version string

	// Global flags
	flagDatabaseURL string
	flagRedisAddr   string
	flagRedisDB     int
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "driveport-admin",
	Short: "Driveport platform administration CLI",
	Long: `driveport-admin manages the access-control configuration of the
driveport API: route-to-permission mappings, roles, seeding a fresh
deployment, and clearing progressive rate-limit blocks.

Connection settings come from --db / --redis-addr or the DATABASE_URL and
REDIS_ADDR environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("driveport-admin " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDatabaseURL, "db", "", "Database URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&flagRedisAddr, "redis-addr", "", "Redis address (env: REDIS_ADDR)")
	rootCmd.PersistentFlags().IntVar(&flagRedisDB, "redis-db", 0, "Redis database number")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(routePermCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(unblockCmd)
}

// cliLogger returns a text logger at a level matching --verbose.
func cliLogger() *logger.Logger {
	level := "warn"
	if flagVerbose {
		level = "debug"
	}
	return logger.New(logger.Config{
		Level:  level,
		Format: "text",
		Output: os.Stderr,
	})
}

// openDB connects using --db or DATABASE_URL.
func openDB() (*postgres.DB, error) {
	dsn := flagDatabaseURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errMissingDatabase
	}
	return postgres.NewFromDSN(dsn)
}

// cmdContext returns a bounded context for one CLI operation.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
