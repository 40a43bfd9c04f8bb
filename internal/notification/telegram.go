package notification

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/model"
)

// botSender is the subset of *tgbotapi.BotAPI used here.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends alerts via the Telegram Bot API with linear-backoff
// retry.
type TelegramNotifier struct {
	bot            botSender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramNotifier creates a Telegram notifier. It calls getMe to verify
// the token.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	log.Printf("[telegram] authorized as @%s", bot.Self.UserName)
	return newTelegram(bot, chatID), nil
}

func newTelegram(bot botSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     3,
		retryDelayBase: time.Second,
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, a model.Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(a))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return model.Upstream("telegram", ctx.Err())
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return model.Upstream("telegram", fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr))
}

// formatTelegram renders an alert as a MarkdownV2 message.
func formatTelegram(a model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s\n", emoji(a.Severity), escape(a.Instrument.String()), escape(string(a.Type)))
	b.WriteString(escape(a.Message))
	b.WriteString("\n")

	if len(a.Details) > 0 {
		keys := make([]string, 0, len(a.Details))
		for k := range a.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "• %s: `%s`\n", escape(k), escapeCode(fmt.Sprint(a.Details[k])))
		}
	}

	fmt.Fprintf(&b, "🕒 %s", escape(a.Time.In(markethours.CST).Format("2006-01-02 15:04:05")))
	return b.String()
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}

// escapeCode escapes text inside a MarkdownV2 code span, where only `
// and \ are special.
func escapeCode(s string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(s)
}
