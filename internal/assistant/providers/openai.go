// Package providers implements assistant.Provider against hosted APIs.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/copilot/internal/assistant"
)

// cancelTerminalMessage is how the API reports a cancel of a finished run.
const cancelTerminalMessage = "Cannot cancel run with status"

// messagePageLimit is the largest page the messages and runs endpoints return.
const messagePageLimit = 100

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Organization string
}

// OpenAIProvider implements assistant.Provider with the OpenAI Assistants API.
//
// It is safe for concurrent use.
type OpenAIProvider struct {
	client *openai.Client
}

var _ assistant.Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		config.OrgID = cfg.Organization
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(config)}, nil
}

// Client exposes the underlying client for other OpenAI-backed services.
func (p *OpenAIProvider) Client() *openai.Client {
	return p.client
}

func (p *OpenAIProvider) CreateAssistant(ctx context.Context, spec assistant.AssistantSpec) (string, error) {
	name := spec.Name
	instructions := spec.Instructions
	tools := make([]openai.AssistantTool, 0, len(spec.Tools))
	for _, tool := range spec.Tools {
		var params any = json.RawMessage(`{"type":"object","properties":{}}`)
		if len(tool.Parameters) > 0 {
			params = tool.Parameters
		}
		tools = append(tools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	created, err := p.client.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        spec.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        tools,
	})
	if err != nil {
		return "", wrapError(err, "create assistant")
	}
	return created.ID, nil
}

func (p *OpenAIProvider) DeleteAssistant(ctx context.Context, assistantID string) error {
	if _, err := p.client.DeleteAssistant(ctx, assistantID); err != nil {
		return wrapError(err, "delete assistant")
	}
	return nil
}

func (p *OpenAIProvider) ListAssistants(ctx context.Context, limit int, after string) (assistant.AssistantPage, error) {
	if limit <= 0 || limit > messagePageLimit {
		limit = messagePageLimit
	}
	order := "desc"
	var afterPtr *string
	if after != "" {
		afterPtr = &after
	}
	list, err := p.client.ListAssistants(ctx, &limit, &order, afterPtr, nil)
	if err != nil {
		return assistant.AssistantPage{}, wrapError(err, "list assistants")
	}

	page := assistant.AssistantPage{HasMore: list.HasMore}
	for _, a := range list.Assistants {
		info := assistant.AssistantInfo{
			ID:        a.ID,
			Model:     a.Model,
			CreatedAt: time.Unix(int64(a.CreatedAt), 0).UTC(),
		}
		if a.Name != nil {
			info.Name = *a.Name
		}
		page.Assistants = append(page.Assistants, info)
	}
	if list.LastID != nil {
		page.LastID = *list.LastID
	} else if n := len(page.Assistants); n > 0 {
		page.LastID = page.Assistants[n-1].ID
	}
	return page, nil
}

func (p *OpenAIProvider) CreateThread(ctx context.Context) (string, error) {
	thread, err := p.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", wrapError(err, "create thread")
	}
	return thread.ID, nil
}

func (p *OpenAIProvider) PostMessage(ctx context.Context, threadID, text string) error {
	_, err := p.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    "user",
		Content: text,
	})
	if err != nil {
		return wrapError(err, "create message")
	}
	return nil
}

func (p *OpenAIProvider) ListMessages(ctx context.Context, threadID, runID string) ([]assistant.ThreadMessage, error) {
	limit := messagePageLimit
	order := "asc"
	var runPtr *string
	if runID != "" {
		runPtr = &runID
	}
	list, err := p.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, runPtr)
	if err != nil {
		return nil, wrapError(err, "list messages")
	}

	messages := make([]assistant.ThreadMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		msg := assistant.ThreadMessage{
			ID:        m.ID,
			Role:      m.Role,
			Text:      messageText(m.Content),
			CreatedAt: time.Unix(int64(m.CreatedAt), 0).UTC(),
		}
		if m.RunID != nil {
			msg.RunID = *m.RunID
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// messageText joins the text parts of a message.
func messageText(content []openai.MessageContent) string {
	var parts []string
	for _, c := range content {
		if c.Text != nil && c.Text.Value != "" {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}

func (p *OpenAIProvider) CreateRun(ctx context.Context, threadID, assistantID string) (*assistant.Run, error) {
	run, err := p.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return nil, wrapError(err, "create run")
	}
	return convertRun(run), nil
}

func (p *OpenAIProvider) RetrieveRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	run, err := p.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, wrapError(err, "retrieve run")
	}
	return convertRun(run), nil
}

func (p *OpenAIProvider) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := p.client.CancelRun(ctx, threadID, runID); err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 400 && strings.Contains(apiErr.Message, cancelTerminalMessage) {
			return fmt.Errorf("cancel run %s: %w", runID, assistant.ErrRunAlreadyTerminal)
		}
		return wrapError(err, "cancel run")
	}
	return nil
}

// ListRuns returns the newest page of runs. Runs that can still block a new
// run are always among the newest.
func (p *OpenAIProvider) ListRuns(ctx context.Context, threadID string) ([]assistant.Run, error) {
	limit := messagePageLimit
	order := "desc"
	list, err := p.client.ListRuns(ctx, threadID, openai.Pagination{Limit: &limit, Order: &order})
	if err != nil {
		return nil, wrapError(err, "list runs")
	}
	runs := make([]assistant.Run, 0, len(list.Runs))
	for _, run := range list.Runs {
		runs = append(runs, *convertRun(run))
	}
	return runs, nil
}

func (p *OpenAIProvider) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) error {
	req := openai.SubmitToolOutputsRequest{ToolOutputs: make([]openai.ToolOutput, 0, len(outputs))}
	for _, out := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: out.ToolCallID,
			Output:     out.Output,
		})
	}
	if _, err := p.client.SubmitToolOutputs(ctx, threadID, runID, req); err != nil {
		return wrapError(err, "submit tool outputs")
	}
	return nil
}

func convertRun(run openai.Run) *assistant.Run {
	out := &assistant.Run{
		ID:          run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Status:      assistant.RunStatus(run.Status),
	}
	if run.LastError != nil {
		out.LastError = run.LastError.Message
	}
	if run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
		for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, assistant.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			})
		}
	}
	return out
}
