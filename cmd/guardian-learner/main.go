package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/guardian/pkg/config"
)

const version = "0.1.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "guardian-learner",
		Short: "Guardian learning pipeline",
		Long: `guardian-learner turns finished guardian interactions into per-user
skillbook updates: reflection, curation and versioned persistence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getDefaultConfig(), "Path to configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newReplayCommand())
	rootCmd.AddCommand(newEnqueueCommand())
	rootCmd.AddCommand(newSignalsCommand())
	rootCmd.AddCommand(newMigrateCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func getDefaultConfig() string {
	if path := os.Getenv("GUARDIAN_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(configPath)
	if err == nil {
		return cfg, nil
	}
	if os.IsNotExist(err) && !cmd.Flags().Changed("config") {
		return config.DefaultConfig(), nil
	}
	return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
}
