package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/stepwise/internal/planning"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, b.err
}

func finishedRun() *planning.ExecutionContext {
	plan := planning.NewPlan("p1", "weekly report", "[websearch] find news", "write it up")
	plan.Steps[0].Status = planning.StepCompleted
	plan.Steps[1].Status = planning.StepFailed
	ec := planning.NewExecutionContext(plan, "report")
	ec.Success = true
	return ec
}

func TestFormatSummary(t *testing.T) {
	out := FormatSummary(finishedRun(), nil)
	assert.True(t, strings.HasPrefix(out, "*Plan p1* finished"))
	assert.Contains(t, out, "weekly report")
	assert.Contains(t, out, `\[completed] 0. \[websearch] find news`)
	assert.Contains(t, out, `\[failed] 1. write it up`)

	out = FormatSummary(finishedRun(), context.Canceled)
	assert.Contains(t, out, "stopped: context canceled")
}

func TestFormatSummary_EscapesMarkdown(t *testing.T) {
	plan := planning.NewPlan("weekly_42", "a *bold* title", "check user_request field")
	out := FormatSummary(planning.NewExecutionContext(plan, "check"), nil)

	assert.True(t, strings.HasPrefix(out, `*Plan weekly\_42* incomplete`))
	assert.Contains(t, out, `a \*bold\* title`)
	assert.Contains(t, out, `check user\_request field`)
	assert.Equal(t, strings.Count(out, "_"), strings.Count(out, `\_`))
}

func TestFormatSummary_TruncatesOnRuneBoundary(t *testing.T) {
	plan := planning.NewPlan("p-cjk", "", "[搜索] "+strings.Repeat("新", 2000))
	out := FormatSummary(planning.NewExecutionContext(plan, "search"), nil)

	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "\n..."))
	assert.LessOrEqual(t, len(out), maxSummaryLen+len("\n..."))
}

func TestTruncate_DropsSplitEscape(t *testing.T) {
	assert.Equal(t, "ab\n...", truncate(`ab\_cd`, 3))
	assert.Equal(t, "short", truncate("short", 10))
}

func TestTelegramNotifier_NotifyRun(t *testing.T) {
	bot := &fakeBot{}
	tg := &TelegramNotifier{Bot: bot, ChatID: 42}

	require.NoError(t, tg.NotifyRun(context.Background(), finishedRun(), nil))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, bot.sent[0].ParseMode)

	bot.err = errors.New("forbidden")
	assert.ErrorContains(t, tg.NotifyRun(context.Background(), finishedRun(), nil), "forbidden")
}

func TestTelegramNotifier_Send(t *testing.T) {
	bot := &fakeBot{}
	tg := &TelegramNotifier{Bot: bot}

	require.NoError(t, tg.Send("7", "hi"))
	assert.Equal(t, int64(7), bot.sent[0].ChatID)
	assert.Error(t, tg.Send("abc", "hi"))
	assert.NoError(t, tg.Stop())
}
