// Package assistant drives one conversational turn against a hosted
// assistant: it creates an ephemeral assistant, runs it on the account's
// thread, answers tool calls, and returns the reply text.
//
// The remote API is reached through Provider so the orchestration can be
// exercised against fakes. See providers.OpenAIProvider for the production
// implementation.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// RunStatus is the lifecycle state of a remote run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// ErrRunAlreadyTerminal is returned by Provider.CancelRun when the run
// finished before the cancel request reached it.
var ErrRunAlreadyTerminal = errors.New("run already terminal")

// ToolCall is one function invocation requested by a paused run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolOutput answers exactly one ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Run is a snapshot of a remote run.
type Run struct {
	ID          string
	ThreadID    string
	AssistantID string
	Status      RunStatus
	// ToolCalls is the pending batch when Status is requires_action.
	ToolCalls []ToolCall
	LastError string
}

// ToolSpec declares a function tool to the remote assistant.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// AssistantSpec is the definition used to create one ephemeral assistant.
type AssistantSpec struct {
	Name         string
	Model        string
	Instructions string
	Tools        []ToolSpec
}

// AssistantInfo describes an assistant that exists remotely.
type AssistantInfo struct {
	ID        string
	Name      string
	Model     string
	CreatedAt time.Time
}

// AssistantPage is one page of ListAssistants.
type AssistantPage struct {
	Assistants []AssistantInfo
	HasMore    bool
	LastID     string
}

// ThreadMessage is a message on a remote thread.
type ThreadMessage struct {
	ID        string
	Role      string
	RunID     string
	Text      string
	CreatedAt time.Time
}

// Provider is the hosted assistant API.
type Provider interface {
	CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
	// ListAssistants returns one page of at most limit assistants after the given id.
	ListAssistants(ctx context.Context, limit int, after string) (AssistantPage, error)

	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, text string) error
	// ListMessages returns the messages produced by runID in chronological order.
	ListMessages(ctx context.Context, threadID, runID string) ([]ThreadMessage, error)

	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)
	// CancelRun requests cancellation. It returns ErrRunAlreadyTerminal when
	// the run can no longer be cancelled.
	CancelRun(ctx context.Context, threadID, runID string) error
	ListRuns(ctx context.Context, threadID string) ([]Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error
}
