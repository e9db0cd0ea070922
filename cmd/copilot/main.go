// Package main provides the CLI entry point for copilot, an SMS assistant
// that answers students over Twilio with a hosted OpenAI assistant.
//
// # Basic Usage
//
// Start the webhook server:
//
//	copilot serve --config copilot.yaml
//
// Talk to the assistant from a terminal as a given phone number:
//
//	copilot console +15551234567
//
// Apply the database schema:
//
//	copilot migrate
//
// # Environment Variables
//
//   - COPILOT_CONFIG: Path to configuration file
//   - OPENAI_API_KEY: OpenAI API key
//   - TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN: Twilio credentials
//   - DATABASE_URL: CockroachDB or PostgreSQL connection string
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// envConfigPath names the config file when --config is not given.
const envConfigPath = "COPILOT_CONFIG"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "copilot",
		Short: "Copilot - SMS assistant for students",
		Long: `Copilot answers text messages with a hosted OpenAI assistant.

Inbound messages arrive on a Twilio webhook, are stored per phone number,
moderated in the background, and answered over SMS.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML or JSON5 configuration file (or set "+envConfigPath+")")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConsoleCmd(),
		buildAssistantsCmd(),
		buildFollowupCmd(),
		buildMigrateCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// resolveConfigPath returns the --config flag, falling back to the environment.
// An empty result loads defaults plus environment variables.
func resolveConfigPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(path) != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv(envConfigPath))
}
