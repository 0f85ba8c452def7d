package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-council/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Hierarchical approval workflows for agent councils",
	Long: `Council runs proposals through a chain of agents. A generator proposes,
evaluators above it forward, revise, reject or approve, and a router decides
who acts next until a verdict is reached or the attempt budget runs out.

Runs are checkpointed after every step and can be resumed by thread id.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(workflowsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(lineageCmd)
	rootCmd.AddCommand(tailCmd)
}

// loadConfig resolves the config path and loads it. A missing file at the
// default location falls back to built-in defaults.
func loadConfig() (*config.Config, *zap.Logger, error) {
	_ = godotenv.Load()

	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	explicit := path != ""
	if path == "" {
		path = config.DefaultPath
	}

	cfg, found, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, nil, err
	}
	if !found && explicit {
		return nil, nil, fmt.Errorf("config %s not found", path)
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if found {
		logger.Info("Config loaded", zap.String("path", path))
	} else {
		logger.Debug("No config file, using defaults", zap.String("path", path))
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" || level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
