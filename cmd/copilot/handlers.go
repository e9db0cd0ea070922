package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/copilot/internal/assistant"
	"github.com/haasonsaas/copilot/internal/assistant/providers"
	"github.com/haasonsaas/copilot/internal/config"
	"github.com/haasonsaas/copilot/internal/console"
)

// =============================================================================
// Console Handler
// =============================================================================

// runConsole chats with the assistant on stdin/stdout. Logs go to stderr.
func runConsole(ctx context.Context, configPath, phone string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, os.Stderr, false)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			a.logger.Warn("console shutdown incomplete", "error", err)
		}
	}()

	c, err := console.New(console.Config{
		Conversation: a.service,
		History:      a.store,
		In:           os.Stdin,
		Out:          os.Stdout,
		Terminal:     term.IsTerminal(int(os.Stdout.Fd())),
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	return c.Run(ctx, phone)
}

// =============================================================================
// Assistant Maintenance Handlers
// =============================================================================

// newProvider builds an OpenAI client for the maintenance commands.
func newProvider(configPath string) (*providers.OpenAIProvider, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return providers.NewOpenAIProvider(providers.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Organization: cfg.OpenAI.Organization,
	})
}

func runAssistantsList(cmd *cobra.Command, configPath string) error {
	provider, err := newProvider(configPath)
	if err != nil {
		return err
	}
	all, err := assistant.ListAllAssistants(cmd.Context(), provider)
	if err != nil {
		return err
	}
	return printAssistants(cmd.OutOrStdout(), all)
}

func printAssistants(out io.Writer, all []assistant.AssistantInfo) error {
	if len(all) == 0 {
		fmt.Fprintln(out, "No assistants found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED")
	for _, a := range all {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Name, a.CreatedAt.Local().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d assistant(s)\n", len(all))
	return nil
}

func runAssistantsDelete(cmd *cobra.Command, configPath, assistantID string) error {
	provider, err := newProvider(configPath)
	if err != nil {
		return err
	}
	if err := provider.DeleteAssistant(cmd.Context(), assistantID); err != nil {
		return fmt.Errorf("delete %s: %w", assistantID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted assistant %s\n", assistantID)
	return nil
}

func runAssistantsDeleteAll(cmd *cobra.Command, configPath string, confirm bool) error {
	out := cmd.OutOrStdout()
	if !confirm {
		fmt.Fprintln(out, "Warning: This will delete ALL assistants.")
		fmt.Fprintln(out, "To confirm, run again with: copilot assistants delete-all --confirm")
		return nil
	}
	provider, err := newProvider(configPath)
	if err != nil {
		return err
	}
	result, err := assistant.DeleteAllAssistants(cmd.Context(), provider, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d of %d assistant(s)\n", result.Deleted, result.Found)
	if len(result.Failed) > 0 {
		for _, id := range result.Failed {
			fmt.Fprintf(out, "  failed: %s\n", id)
		}
		return fmt.Errorf("%d assistant(s) could not be deleted", len(result.Failed))
	}
	return nil
}

// =============================================================================
// Follow-up Handler
// =============================================================================

func runFollowupOnce(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, _ := newLogger(cfg, cmd.ErrOrStderr(), false)
	accounts, _, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer accounts.Close()

	sweeper, err := newSweeper(cfg, accounts, logger, nil)
	if err != nil {
		return err
	}
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Evaluated %d account(s), %d candidate(s), %d error(s)\n",
		report.Evaluated, len(report.Candidates), report.Errors)
	for _, id := range report.Candidates {
		fmt.Fprintf(out, "  account %d\n", id)
	}
	return nil
}

// =============================================================================
// Migrate and Config Handlers
// =============================================================================

func runMigrate(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url (or DATABASE_URL) is required to migrate")
	}
	logger, _ := newLogger(cfg, cmd.ErrOrStderr(), false)
	_, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
	return nil
}

func runConfigSchema(w io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	source := configPath
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(out, "Configuration OK (%s)\n", source)
	fmt.Fprintf(out, "  environment: %s\n", cfg.Server.Environment)
	fmt.Fprintf(out, "  listen:      %s%s\n", cfg.Server.Addr(), cfg.Twilio.WebhookPath)
	fmt.Fprintf(out, "  database:    %s\n", describeDatabase(cfg))
	fmt.Fprintf(out, "  follow-ups:  %t\n", cfg.Followup.Enabled)
	return nil
}

func describeDatabase(cfg *config.Config) string {
	if cfg.Database.URL == "" {
		return "in-memory"
	}
	return "configured"
}
