package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/copilot/internal/store"
)

// fakeConversation echoes messages and records them in a memory store.
type fakeConversation struct {
	store *store.MemoryStore
	sent  []string
	fail  bool
}

func (f *fakeConversation) Account(ctx context.Context, phone string) (*store.Account, error) {
	if f.fail {
		return nil, errors.New("database unavailable")
	}
	account, _, err := f.store.GetOrCreateAccount(ctx, phone, func(context.Context) (string, error) {
		return "thread_" + phone, nil
	})
	return account, err
}

func (f *fakeConversation) Process(ctx context.Context, phone, text string) (string, error) {
	f.sent = append(f.sent, phone+":"+text)
	account, err := f.Account(ctx, phone)
	if err != nil {
		return "", err
	}
	reply := "echo " + text
	_, _ = f.store.SaveMessage(ctx, account.ID, store.RoleUser, text)
	_, _ = f.store.SaveMessage(ctx, account.ID, store.RoleAssistant, reply)
	return reply, nil
}

func runConsole(t *testing.T, conv *fakeConversation, phone, input string, terminal bool) string {
	t.Helper()
	var out bytes.Buffer
	c, err := New(Config{
		Conversation: conv,
		History:      conv.store,
		In:           strings.NewReader(input),
		Out:          &out,
		Terminal:     terminal,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(context.Background(), phone); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestConsole_SendsMessagesForSelectedAccount(t *testing.T) {
	conv := &fakeConversation{store: store.NewMemoryStore()}
	out := runConsole(t, conv, "", "+15550001\nhello\n\n/exit\nignored\n", false)

	if !strings.HasPrefix(out, "Welcome to the Copilot CLI!") {
		t.Errorf("output starts %q", out[:30])
	}
	if !strings.Contains(out, "Switched to user account: +15550001") {
		t.Errorf("no switch message in %q", out)
	}
	if !strings.Contains(out, "Assistant: echo hello") {
		t.Errorf("no reply in %q", out)
	}
	if len(conv.sent) != 1 || conv.sent[0] != "+15550001:hello" {
		t.Errorf("sent = %v", conv.sent)
	}
}

func TestConsole_SwitchShowsRecentHistory(t *testing.T) {
	conv := &fakeConversation{store: store.NewMemoryStore()}
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if _, err := conv.Process(ctx, "+15550002", text); err != nil {
			t.Fatal(err)
		}
	}
	conv.sent = nil

	out := runConsole(t, conv, "", "/switch +15550002\n", false)

	if !strings.Contains(out, "Recent conversation history:") {
		t.Fatalf("no history in %q", out)
	}
	// The last five of six stored messages.
	if strings.Contains(out, "You: one\n") {
		t.Errorf("history older than five messages shown: %q", out)
	}
	for _, want := range []string{"Assistant: echo one", "You: three", "Assistant: echo three"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q", want)
		}
	}
}

func TestConsole_Commands(t *testing.T) {
	conv := &fakeConversation{store: store.NewMemoryStore()}
	out := runConsole(t, conv, "", "/history\n/help\n/switch\n/bogus\n/clear\n", true)

	for _, want := range []string{
		"Please switch to a user first with /switch <phone_number>",
		"/history - Show more conversation history",
		"Usage: /switch <phone_number>",
		"Unknown command /bogus",
		clearScreen,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if len(conv.sent) != 0 {
		t.Errorf("commands were sent as messages: %v", conv.sent)
	}
}

func TestConsole_HistoryCommand(t *testing.T) {
	conv := &fakeConversation{store: store.NewMemoryStore()}
	out := runConsole(t, conv, "+15550003", "first\n/history\n", false)

	idx := strings.Index(out, "Conversation history:")
	if idx < 0 {
		t.Fatalf("no history in %q", out)
	}
	if !strings.Contains(out[idx:], "You: first\nAssistant: echo first\n") {
		t.Errorf("history = %q", out[idx:])
	}
}

func TestConsole_ClearIgnoredWithoutTerminal(t *testing.T) {
	conv := &fakeConversation{store: store.NewMemoryStore()}
	if out := runConsole(t, conv, "", "/clear\n", false); strings.Contains(out, clearScreen) {
		t.Error("clear sequence written to a non-terminal")
	}
}

func TestConsole_SwitchFailure(t *testing.T) {
	conv := &fakeConversation{store: store.NewMemoryStore(), fail: true}
	out := runConsole(t, conv, "", "+15550004\n", false)
	if !strings.Contains(out, "Failed to switch user.") {
		t.Errorf("output = %q", out)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("empty config accepted")
	}
}
