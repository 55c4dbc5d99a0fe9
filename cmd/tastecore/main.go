package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/savorhq/tastecore/engine"
	"github.com/savorhq/tastecore/internal/profile"
	"github.com/savorhq/tastecore/internal/version"
	"github.com/savorhq/tastecore/server/ops"
	"github.com/savorhq/tastecore/store"
	"github.com/savorhq/tastecore/store/db"
)

var rootCmd = &cobra.Command{
	Use:     "tastecore",
	Short:   `Personalized recipe recommendation core. Taste profiles, vector search and tiered caching over your recipe collection.`,
	Version: version.String(),
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution; a service manager
		// supplies the environment itself.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			printDatabaseError(err, instanceProfile)
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		var tuner *db.PoolTuner
		if instanceProfile.Driver == "postgres" {
			tuner = db.NewPoolTuner(dbDriver.GetDB(), instanceProfile.DBPoolFloor, instanceProfile.DBPoolCeiling)
			tuner.Start()
		}

		core, err := engine.New(instanceProfile, dbDriver)
		if err != nil {
			slog.Error("failed to create engine", "error", err)
			return
		}
		if err := core.Start(ctx); err != nil {
			slog.Error("failed to start engine", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal used by most process
		// managers (systemd, kubernetes).
		signal.Notify(c, terminationSignals...)

		opsServer := ops.NewServer(instanceProfile, core)
		go func() {
			if err := opsServer.Start(ctx); err != nil {
				slog.Error("ops server failed", "error", err)
				cancel()
			}
		}()

		printGreetings(instanceProfile)

		<-c
		cancel()
		core.Stop()
		if tuner != nil {
			tuner.Stop()
		}
		if err := storeInstance.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 29091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 29091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("tastecore")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(-1)
	}
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("TasteCore %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		fmt.Fprintf(os.Stderr, "Build: %s\n", version.StringFull())
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if !profile.IsEnrichmentEnabled() {
		fmt.Println("No embedding provider configured: serving recency-ranked recommendations only")
	}
	fmt.Printf("Ops endpoints at: http://localhost:%d/healthz /metrics /api/v1/stats\n", profile.Port)
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for database
// connection issues.
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintf(os.Stderr, "The %s database is not reachable.\n", profile.Driver)
		fmt.Fprintln(os.Stderr, "Or use SQLite for development: --driver=sqlite --data=./data")
	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "Add ?sslmode=disable to your DSN.")
	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "Check the credentials in your DSN or .env file.")
	default:
		fmt.Fprintln(os.Stderr, "Error:", errMsg)
	}
}
