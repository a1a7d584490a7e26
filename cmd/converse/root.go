package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/logging"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	envFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "converse",
		Short: "Dialogue orchestration server",
		Long: `converse runs an assistant built from policies and actions.

Run 'converse serve' to start the HTTP and websocket API, 'converse shell'
to talk to the assistant in the terminal, or 'converse bench' to replay
turns against a running server.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.AddCommand(newServeCmd(), newShellCmd(), newBenchCmd())
	return root
}

// loadConfig reads the dotenv file (if any), the environment and sets up
// the process logger.
func loadConfig() (config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logging.Init(logCfg)
	return cfg, nil
}
