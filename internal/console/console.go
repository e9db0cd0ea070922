// Package console drives conversations from a terminal, one simulated phone
// number at a time.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/haasonsaas/copilot/internal/store"
)

const (
	switchHistory = 5
	fullHistory   = 20
)

const helpText = `
Available commands:
/switch <phone_number> - Switch to a different user
/history - Show more conversation history
/clear - Clear the screen
/help - Show this help message
/exit - Exit the application
`

// clearScreen moves the cursor home and erases the display.
const clearScreen = "\033[H\033[2J"

// Conversation is the turn pipeline the console talks to.
type Conversation interface {
	Account(ctx context.Context, phone string) (*store.Account, error)
	Process(ctx context.Context, phone, text string) (string, error)
}

// History reads stored messages.
type History interface {
	GetMessages(ctx context.Context, accountID int64, limit int) ([]store.Message, error)
}

// Config wires a Console.
type Config struct {
	Conversation Conversation
	History      History
	In           io.Reader
	Out          io.Writer
	// Terminal enables screen control sequences for /clear.
	Terminal bool
	Logger   *slog.Logger
}

// Console is an interactive read-eval-print loop.
type Console struct {
	conversation Conversation
	history      History
	in           *bufio.Scanner
	out          io.Writer
	terminal     bool
	logger       *slog.Logger

	account *store.Account
}

// New creates a console.
func New(config Config) (*Console, error) {
	if config.Conversation == nil || config.History == nil {
		return nil, errors.New("conversation and history are required")
	}
	if config.In == nil || config.Out == nil {
		return nil, errors.New("input and output are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Console{
		conversation: config.Conversation,
		history:      config.History,
		in:           bufio.NewScanner(config.In),
		out:          config.Out,
		terminal:     config.Terminal,
		logger:       config.Logger.With("component", "console"),
	}, nil
}

// Run reads lines until /exit, end of input, or ctx is done. A non-empty
// phone selects the starting account.
func (c *Console) Run(ctx context.Context, phone string) error {
	c.printf("Welcome to the Copilot CLI!\n")
	c.printf("Type /help for available commands\n\n")

	if phone != "" {
		c.switchTo(ctx, phone)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.account != nil {
			c.printf("You: ")
		} else {
			c.printf("Enter phone number to start (/help for commands): ")
		}
		if !c.in.Scan() {
			c.printf("\n")
			return c.in.Err()
		}

		input := strings.TrimSpace(c.in.Text())
		switch {
		case input == "":
			continue
		case strings.HasPrefix(input, "/"):
			if exit := c.command(ctx, input); exit {
				return nil
			}
		case c.account == nil:
			if !c.switchTo(ctx, input) {
				c.printf("Failed to switch user. Please try again or use /help for commands.\n")
			}
		default:
			c.send(ctx, input)
		}
	}
}

// command runs a slash command and reports whether the console should exit.
func (c *Console) command(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	switch strings.ToLower(parts[0]) {
	case "/switch":
		if len(parts) != 2 {
			c.printf("Usage: /switch <phone_number>\n")
			return false
		}
		c.switchTo(ctx, parts[1])
	case "/history":
		if c.account == nil {
			c.printf("Please switch to a user first with /switch <phone_number>\n")
			return false
		}
		c.printf("\nConversation history:\n")
		c.printHistory(ctx, fullHistory)
		c.printf("\n")
	case "/clear":
		if c.terminal {
			c.printf(clearScreen)
		}
	case "/help":
		c.printf("%s\n", helpText)
	case "/exit":
		return true
	default:
		c.printf("Unknown command %s. Type /help for available commands.\n", parts[0])
	}
	return false
}

func (c *Console) switchTo(ctx context.Context, phone string) bool {
	account, err := c.conversation.Account(ctx, phone)
	if err != nil {
		c.logger.ErrorContext(ctx, "switch user failed", "phone", phone, "error", err)
		c.printf("Failed to initialize account for phone number: %s\n", phone)
		return false
	}
	c.account = account
	c.printf("\nSwitched to user account: %s\n", phone)

	messages, err := c.history.GetMessages(ctx, account.ID, switchHistory)
	if err != nil {
		c.logger.ErrorContext(ctx, "load history failed", "error", err)
		return true
	}
	if len(messages) > 0 {
		c.printf("\nRecent conversation history:\n\n")
		for _, msg := range messages {
			c.printf("%s: %s\n\n", speaker(msg.Role), msg.Text)
		}
	}
	return true
}

func (c *Console) printHistory(ctx context.Context, limit int) {
	messages, err := c.history.GetMessages(ctx, c.account.ID, limit)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	for _, msg := range messages {
		c.printf("%s: %s\n", speaker(msg.Role), msg.Text)
	}
}

func (c *Console) send(ctx context.Context, text string) {
	reply, err := c.conversation.Process(ctx, c.account.PhoneNumber, text)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	if reply == "" {
		return
	}
	c.printf("\nAssistant: %s\n\n", reply)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func speaker(role store.Role) string {
	if role == store.RoleUser {
		return "You"
	}
	return "Assistant"
}
