package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/haasonsaas/copilot/internal/contacts"
	"github.com/haasonsaas/copilot/internal/store"
)

type fakeSearcher struct {
	query string
	resp  *contacts.Response
	err   error
}

func (s *fakeSearcher) Search(ctx context.Context, query string) (*contacts.Response, error) {
	s.query = query
	return s.resp, s.err
}

func newToolDispatcher(t *testing.T, accounts AccountStore, searcher contacts.Searcher) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherConfig{}, DefaultTools(accounts, searcher, nil)...)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func dispatchOne(t *testing.T, d *Dispatcher, accountID int64, name, args string) string {
	t.Helper()
	outputs := d.Dispatch(context.Background(), accountID, []ToolCall{{ID: "call_1", Name: name, Arguments: json.RawMessage(args)}})
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs", len(outputs))
	}
	return outputs[0].Output
}

func TestStudentNameTools(t *testing.T) {
	accounts := store.NewMemoryStore()
	account := accounts.PutAccount(store.Account{PhoneNumber: "+15550001"})
	d := newToolDispatcher(t, accounts, nil)

	if got := dispatchOne(t, d, account.ID, ToolGetStudentName, `{}`); got != NameNotSet {
		t.Errorf("unset name = %q, want %q", got, NameNotSet)
	}
	if got := dispatchOne(t, d, 999, ToolGetStudentName, `{}`); got != NoAccountFound {
		t.Errorf("missing account = %q, want %q", got, NoAccountFound)
	}

	if got := dispatchOne(t, d, account.ID, ToolSaveStudentName, `{"first_name":"Maya"}`); got != NameSaved {
		t.Errorf("save = %q", got)
	}
	if got := dispatchOne(t, d, account.ID, ToolGetStudentName, ``); got != "Maya" {
		t.Errorf("name = %q, want Maya", got)
	}

	if got := dispatchOne(t, d, account.ID, ToolSaveStudentName, `{"first_name":"Ignored","name":"Legacy"}`); got != NameSaved {
		t.Errorf("legacy save = %q", got)
	}
	if got := dispatchOne(t, d, account.ID, ToolGetStudentName, `{}`); got != "Legacy" {
		t.Errorf("name = %q, want Legacy", got)
	}

	if got := dispatchOne(t, d, account.ID, ToolSaveStudentName, `{"name":"Ana"}`); got != NameSaved {
		t.Errorf("save with only name = %q", got)
	}
	if got := dispatchOne(t, d, account.ID, ToolGetStudentName, `{}`); got != "Ana" {
		t.Errorf("name = %q, want Ana", got)
	}

	if got := dispatchOne(t, d, account.ID, ToolSaveStudentName, `{"first_name":""}`); got != NameSaved {
		t.Errorf("clear = %q", got)
	}
	if got := dispatchOne(t, d, account.ID, ToolGetStudentName, `{}`); got != NameNotSet {
		t.Errorf("cleared name = %q, want %q", got, NameNotSet)
	}

	if got := dispatchOne(t, d, 999, ToolSaveStudentName, `{"first_name":"Ghost"}`); got != nameSaveFailed {
		t.Errorf("save for missing account = %q, want %q", got, nameSaveFailed)
	}
}

func TestHumanInTheLoopFlagsLastUserMessage(t *testing.T) {
	accounts := store.NewMemoryStore()
	account := accounts.PutAccount(store.Account{PhoneNumber: "+15550001"})
	ctx := context.Background()
	if _, err := accounts.SaveMessage(ctx, account.ID, store.RoleUser, "first"); err != nil {
		t.Fatal(err)
	}
	last, err := accounts.SaveMessage(ctx, account.ID, store.RoleUser, "I'm stressed about my offer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := accounts.SaveMessage(ctx, account.ID, store.RoleAssistant, "reply"); err != nil {
		t.Fatal(err)
	}

	d := newToolDispatcher(t, accounts, nil)
	got := dispatchOne(t, d, account.ID, ToolHumanInTheLoop, `{"detected_intents":["stress","salary negotiation"]}`)
	if got != ReferralMessage {
		t.Errorf("output = %q, want referral", got)
	}
	msg, ok := accounts.Message(last)
	if !ok {
		t.Fatal("message missing")
	}
	if !msg.Flagged || msg.FlaggedReason != "stress, salary negotiation" {
		t.Errorf("message = %+v", msg)
	}
}

func TestHumanInTheLoopWithoutUserMessage(t *testing.T) {
	accounts := store.NewMemoryStore()
	account := accounts.PutAccount(store.Account{PhoneNumber: "+15550001"})
	tool := NewHumanInTheLoopTool(accounts, nil)

	got, err := tool.Execute(context.Background(), account.ID, json.RawMessage(`{"detected_intents":["promotion"]}`))
	if got != ReferralMessage {
		t.Errorf("output = %q, want referral", got)
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	d, err := NewDispatcher(DispatcherConfig{Logger: logger}, NewHumanInTheLoopTool(accounts, logger))
	if err != nil {
		t.Fatal(err)
	}
	if out := dispatchOne(t, d, account.ID, ToolHumanInTheLoop, `{"detected_intents":["promotion"]}`); out != ReferralMessage {
		t.Errorf("dispatched output = %q, want referral", out)
	}
	if n := strings.Count(logs.String(), "level=ERROR"); n != 1 {
		t.Errorf("error lines = %d, want 1:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "no user message to flag") {
		t.Errorf("error line does not name the cause:\n%s", logs.String())
	}
}

func TestContactSearchTool(t *testing.T) {
	searcher := &fakeSearcher{resp: &contacts.Response{
		Metadata: contacts.RelevanceNote,
		Results: []contacts.Result{
			{ID: "7", Distance: 0.1, Metadata: contacts.Metadata{ID: 7, FirstName: "Ana"}},
			{ID: "9", Distance: 0.4, Metadata: contacts.Metadata{ID: 9, FirstName: "Ben"}},
		},
	}}
	d := newToolDispatcher(t, store.NewMemoryStore(), searcher)

	out := dispatchOne(t, d, 1, ToolContactSearch, `{"search_query":"software internships"}`)
	if searcher.query != "software internships" {
		t.Errorf("query = %q", searcher.query)
	}
	var decoded contacts.Response
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, out)
	}
	if len(decoded.Results) != 2 || decoded.Results[0].Metadata.FirstName != "Ana" || decoded.Metadata != contacts.RelevanceNote {
		t.Errorf("decoded = %+v", decoded)
	}

	searcher.err = errors.New("index offline")
	if out := dispatchOne(t, d, 1, ToolContactSearch, `{"search_query":"x"}`); out != contactSearchFailed {
		t.Errorf("error output = %q", out)
	}
	if out := dispatchOne(t, d, 1, ToolContactSearch, `{}`); out == "" || out == contactSearchFailed {
		t.Errorf("missing query output = %q, want validation error", out)
	}
}
