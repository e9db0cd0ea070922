package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/copilot/internal/contacts"
	"github.com/haasonsaas/copilot/internal/store"
)

// Tool names are part of the contract with the remote assistant.
const (
	ToolGetStudentName  = "get_student_name"
	ToolSaveStudentName = "save_student_name"
	ToolContactSearch   = "get_contact_with_relevant_experience"
	ToolHumanInTheLoop  = "human_in_the_loop"
)

// Tool outputs the assistant instructions rely on.
const (
	ReferralMessage = "I recommend you meet with Coach Kaitlyn at https://calendly.com/Kaitlyn"
	NameNotSet      = "Name not set"
	NoAccountFound  = "No account found."
	NameSaved       = "First name saved successfully."

	nameReadFailed      = "Unable to retrieve the name at this time."
	nameSaveFailed      = "Unable to save the name at this time."
	contactSearchFailed = "Unable to search contacts at this time."
)

// AccountStore is the slice of the account store the tools need.
type AccountStore interface {
	GetStudentName(ctx context.Context, accountID int64) (string, error)
	SaveStudentName(ctx context.Context, accountID int64, firstName string) error
	GetLastUserMessageID(ctx context.Context, accountID int64) (int64, error)
	UpdateMessageFlag(ctx context.Context, messageID int64, flagged bool, reason string) error
}

// DefaultTools returns the standard tool set in declaration order.
func DefaultTools(accounts AccountStore, searcher contacts.Searcher, logger *slog.Logger) []Tool {
	return []Tool{
		&GetStudentNameTool{store: accounts},
		&SaveStudentNameTool{store: accounts},
		&ContactSearchTool{searcher: searcher},
		NewHumanInTheLoopTool(accounts, logger),
	}
}

// GetStudentNameTool reads the student's stored first name.
type GetStudentNameTool struct {
	store AccountStore
}

func (t *GetStudentNameTool) Name() string        { return ToolGetStudentName }
func (t *GetStudentNameTool) Description() string { return "Get name of the current student" }
func (t *GetStudentNameTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *GetStudentNameTool) Execute(ctx context.Context, accountID int64, _ json.RawMessage) (string, error) {
	name, err := t.store.GetStudentName(ctx, accountID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NoAccountFound, nil
	case err != nil:
		return nameReadFailed, err
	case name == "":
		return NameNotSet, nil
	}
	return name, nil
}

// SaveStudentNameTool stores the student's first name. An empty name
// clears it. Neither key is required so calls using only the older name key
// still validate.
type SaveStudentNameTool struct {
	store AccountStore
}

func (t *SaveStudentNameTool) Name() string { return ToolSaveStudentName }
func (t *SaveStudentNameTool) Description() string {
	return "Save the student's first name to their account"
}
func (t *SaveStudentNameTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"first_name": {"type": "string", "description": "The student's first name"}
		}
	}`)
}

func (t *SaveStudentNameTool) Execute(ctx context.Context, accountID int64, args json.RawMessage) (string, error) {
	var input struct {
		FirstName string `json:"first_name"`
		// Name is an older spelling of first_name and wins when set.
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	name := input.Name
	if name == "" {
		name = input.FirstName
	}
	if err := t.store.SaveStudentName(ctx, accountID, strings.TrimSpace(name)); err != nil {
		return nameSaveFailed, err
	}
	return NameSaved, nil
}

// ContactSearchTool finds students with relevant internship experience.
type ContactSearchTool struct {
	searcher contacts.Searcher
}

func (t *ContactSearchTool) Name() string { return ToolContactSearch }
func (t *ContactSearchTool) Description() string {
	return "Search for contacts in the student's network who have relevant internship experience. " +
		"Use this when the student asks who they could talk to about a company, role or career field."
}
func (t *ContactSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"search_query": {
				"type": "string",
				"description": "A description of the experience the student is looking for, for example the field, company or role they are interested in"
			}
		},
		"required": ["search_query"]
	}`)
}

func (t *ContactSearchTool) Execute(ctx context.Context, _ int64, args json.RawMessage) (string, error) {
	var input struct {
		SearchQuery string `json:"search_query"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	if t.searcher == nil {
		return contactSearchFailed, errors.New("contact search is not configured")
	}
	resp, err := t.searcher.Search(ctx, input.SearchQuery)
	if err != nil {
		return contactSearchFailed, err
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(encoded), nil
}

// HumanInTheLoopTool flags the student's latest message for a coach and
// returns the referral text.
type HumanInTheLoopTool struct {
	store  AccountStore
	logger *slog.Logger
}

// NewHumanInTheLoopTool creates the escalation tool.
func NewHumanInTheLoopTool(accounts AccountStore, logger *slog.Logger) *HumanInTheLoopTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &HumanInTheLoopTool{store: accounts, logger: logger.With("tool", ToolHumanInTheLoop)}
}

func (t *HumanInTheLoopTool) Name() string { return ToolHumanInTheLoop }
func (t *HumanInTheLoopTool) Description() string {
	return "Use this function when you detect any of the following intents: stress, salary negotiation, promotion, career changes. " +
		"This will flag the message and provide a referral to Coach Kaitlyn."
}
func (t *HumanInTheLoopTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"detected_intents": {
				"type": "array",
				"items": {"type": "string"},
				"description": "The intents detected in the student's message"
			}
		},
		"required": ["detected_intents"]
	}`)
}

// Execute always returns the referral. Flagging failures are reported as the
// error, which the dispatcher logs.
func (t *HumanInTheLoopTool) Execute(ctx context.Context, accountID int64, args json.RawMessage) (string, error) {
	var input struct {
		DetectedIntents []string `json:"detected_intents"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return ReferralMessage, fmt.Errorf("decode arguments: %w", err)
	}
	reason := strings.Join(input.DetectedIntents, ", ")

	messageID, err := t.store.GetLastUserMessageID(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return ReferralMessage, fmt.Errorf("no user message to flag for intents %q: %w", reason, err)
	}
	if err != nil {
		return ReferralMessage, fmt.Errorf("find message to flag: %w", err)
	}
	if err := t.store.UpdateMessageFlag(ctx, messageID, true, reason); err != nil {
		return ReferralMessage, fmt.Errorf("flag message %d: %w", messageID, err)
	}
	t.logger.InfoContext(ctx, "message flagged for coach", "account_id", accountID, "message_id", messageID, "intents", reason)
	return ReferralMessage, nil
}
