package gateway

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/stepwise/internal/planning"
)

// Messenger delivers text to a chat (Telegram, etc.).
type Messenger interface {
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop releases the gateway's connections
	Stop() error
}

// Notifier reports finished plan runs.
type Notifier interface {
	NotifyRun(ctx context.Context, ec *planning.ExecutionContext, runErr error) error
}

const maxSummaryLen = 4000

// FormatSummary renders a run as a short Markdown chat message. Plan and
// step text is escaped, and the result is valid UTF-8 of at most
// maxSummaryLen bytes plus the "..." marker.
func FormatSummary(ec *planning.ExecutionContext, runErr error) string {
	var sb strings.Builder
	outcome := "finished"
	switch {
	case runErr != nil:
		outcome = "stopped: " + runErr.Error()
	case !ec.Success:
		outcome = "incomplete"
	}
	fmt.Fprintf(&sb, "*Plan %s* %s\n", escape(ec.PlanID()), escape(outcome))
	if ec.Plan.Title != "" {
		fmt.Fprintf(&sb, "%s\n", escape(ec.Plan.Title))
	}
	sb.WriteString("\n")
	for _, step := range ec.Plan.Steps {
		sb.WriteString(escape(step.StatusLine()))
		sb.WriteString("\n")
	}
	return truncate(sb.String(), maxSummaryLen)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// truncate cuts s to at most n bytes on a rune boundary. A trailing
// backslash left over from a split escape is dropped.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimRight(s[:n], `\`) + "\n..."
}
