package assistant

import (
	"context"
	"fmt"
	"log/slog"
)

// assistantPageSize is the largest page the assistants endpoint returns.
const assistantPageSize = 100

// AssistantAdmin lists and deletes remote assistants.
type AssistantAdmin interface {
	ListAssistants(ctx context.Context, limit int, after string) (AssistantPage, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
}

// ListAllAssistants follows pagination until every assistant is listed.
func ListAllAssistants(ctx context.Context, admin AssistantAdmin) ([]AssistantInfo, error) {
	var (
		all   []AssistantInfo
		after string
	)
	for {
		page, err := admin.ListAssistants(ctx, assistantPageSize, after)
		if err != nil {
			return all, fmt.Errorf("list assistants: %w", err)
		}
		all = append(all, page.Assistants...)
		if !page.HasMore || page.LastID == "" || page.LastID == after {
			return all, nil
		}
		after = page.LastID
	}
}

// PurgeResult counts the outcome of DeleteAllAssistants.
type PurgeResult struct {
	Found   int
	Deleted int
	Failed  []string
}

// DeleteAllAssistants deletes every remote assistant. A failed delete is
// logged and the rest continue; only a listing failure is returned.
func DeleteAllAssistants(ctx context.Context, admin AssistantAdmin, logger *slog.Logger) (PurgeResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	assistants, err := ListAllAssistants(ctx, admin)
	if err != nil {
		return PurgeResult{}, err
	}

	result := PurgeResult{Found: len(assistants)}
	for _, a := range assistants {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := admin.DeleteAssistant(ctx, a.ID); err != nil {
			logger.ErrorContext(ctx, "delete assistant failed", "assistant_id", a.ID, "error", err)
			result.Failed = append(result.Failed, a.ID)
			continue
		}
		result.Deleted++
	}
	return result, nil
}
