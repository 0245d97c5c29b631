package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger  *zap.Logger
	verbose bool
)

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "persona-bot",
		Short: "Feishu group chat persona",
		Long: `persona-bot joins Feishu group chats as a configurable persona. It answers
mentions and replies, chimes in on lively discussions and wakes up chats
that have gone quiet.

Examples:
  persona-bot serve
  persona-bot sweep
  persona-bot mcp`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envLoaded := godotenv.Load() == nil

			// stdout stays free for the MCP transport
			config := zap.NewProductionConfig()
			if verbose || os.Getenv("DEBUG") == "true" {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			if !envLoaded {
				logger.Debug("no .env file found, using environment variables")
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newMCPCmd(version),
	)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")
	return rootCmd
}
