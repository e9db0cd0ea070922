package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the webhook server.
func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SMS webhook server",
		Long: `Start the SMS webhook server.

The server will:
1. Load configuration and connect to the database (with retries)
2. Start the background job queue for replies, moderation and cleanup
3. Serve the Twilio webhook, /healthz and /metrics
4. Schedule follow-up sweeps when enabled

The log level follows edits to the config file. Graceful shutdown is handled
on SIGINT/SIGTERM.`,
		Example: `  # Start with defaults and environment credentials
  copilot serve

  # Start with a config file and debug logging
  copilot serve --config /etc/copilot/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(cmd), debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Console Command
// =============================================================================

func buildConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console [phone_number]",
		Short: "Chat with the assistant from the terminal",
		Long: `Run conversations interactively, acting as the given phone number.

Messages go through the same pipeline as SMS: they are stored, moderated and
answered by the assistant, but replies are printed instead of texted.`,
		Example: `  copilot console
  copilot console +15551234567`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone := ""
			if len(args) == 1 {
				phone = args[0]
			}
			return runConsole(cmd.Context(), resolveConfigPath(cmd), phone)
		},
	}
}

// =============================================================================
// Assistant Maintenance Commands
// =============================================================================

func buildAssistantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assistants",
		Short: "Manage remote assistants",
		Long: `List and delete assistants on the OpenAI account.

Each conversation turn creates and deletes its own assistant; these commands
clean up any left behind by interrupted turns.`,
	}
	cmd.AddCommand(buildAssistantsListCmd(), buildAssistantsDeleteCmd(), buildAssistantsDeleteAllCmd())
	return cmd
}

func buildAssistantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List assistants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistantsList(cmd, resolveConfigPath(cmd))
		},
	}
}

func buildAssistantsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <assistant-id>",
		Short: "Delete one assistant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistantsDelete(cmd, resolveConfigPath(cmd), args[0])
		},
	}
}

func buildAssistantsDeleteAllCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistantsDeleteAll(cmd, resolveConfigPath(cmd), confirm)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm deleting ALL assistants")
	return cmd
}

// =============================================================================
// Follow-up Commands
// =============================================================================

func buildFollowupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "followup",
		Short: "Inactivity follow-up sweeps",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one follow-up sweep now",
		Long: `Evaluate every account once against the follow-up criteria and report
the candidates. The account-local hour check still applies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollowupOnce(cmd, resolveConfigPath(cmd))
		},
	})
	return cmd
}

// =============================================================================
// Migrate and Config Commands
// =============================================================================

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  `Create the tenants, accounts and messages tables, their indexes and the default tenant if missing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, resolveConfigPath(cmd))
		},
	}
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(cmd))
		},
	})
	return cmd
}
