package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oriys/quasar/internal/config"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/observability"
	"github.com/spf13/cobra"
)

var (
	configFile string
	redisAddr  string
	pgDSN      string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "quasar",
		Short:        "Quasar - remote task invocation",
		Long:         "Define Go functions as remote tasks, submit them to a local or remote backend and fetch their results",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for the function table")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		runCmd(),
		tasksCmd(),
		functionsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, then the environment, then the root
// flags, each overriding the last.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	flags := cmd.Flags()
	if flags.Changed("redis") {
		cfg.Redis.Addr = redisAddr
	}
	if flags.Changed("pg-dsn") {
		cfg.Postgres.DSN = pgDSN
	}
	if flags.Changed("log-level") {
		cfg.Observability.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupObservability configures logging, tracing and metrics and returns a
// function that flushes them.
func setupObservability(ctx context.Context, cfg *config.Config) (func(), error) {
	logCfg := cfg.Observability.Logging
	logging.InitStructured(logCfg.Format, logCfg.Level)
	logging.Default().SetConsole(logCfg.SubmitConsole)
	if logCfg.SubmitLogFile != "" {
		if err := logging.Default().SetOutput(logCfg.SubmitLogFile); err != nil {
			return nil, fmt.Errorf("open submit log: %w", err)
		}
	}

	if err := observability.Init(ctx, cfg.Observability.Tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.Buckets)
	}

	return func() {
		if err := observability.Shutdown(context.Background()); err != nil {
			logging.Op().Warn("tracing shutdown failed", "error", err)
		}
		logging.Default().Close()
	}, nil
}
