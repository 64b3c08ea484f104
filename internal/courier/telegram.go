package courier

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"searchwatch/pkg/logx"
)

// TelegramType is the type tag destinations use to select this courier.
const TelegramType = "telegram"

// telegramPreview caps the number of result titles rendered per message.
const telegramPreview = 10

// sender is the slice of the bot API the courier uses.
type sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Telegram delivers result batches as bot messages to a chat. The
// destination parameter "chatId" selects the chat.
type Telegram struct {
	bot sender
	log logx.Logger
}

// NewTelegram connects the bot. The token is verified against the API up
// front so a misconfigured courier fails at startup, not at first delivery.
func NewTelegram(token string, log logx.Logger) (*Telegram, error) {
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("courier: telegram bot: %w", err)
	}
	return &Telegram{bot: b, log: log}, nil
}

func (t *Telegram) Type() string        { return TelegramType }
func (t *Telegram) DisplayName() string { return "Telegram message" }

func (t *Telegram) RequiredFields() map[string]FieldKind {
	return map[string]FieldKind{"chatId": FieldNumber}
}

func (t *Telegram) Deliver(ctx context.Context, d Delivery, cb Callbacks) {
	chatID, err := numberParam(d.Parameters, "chatId")
	if err != nil {
		cb.err(fmt.Errorf("courier: telegram destination %q: %w", d.DestinationID, err))
		return
	}
	msg := formatTelegram(d)
	deadline := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		deadline = time.Until(dl)
	}
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tele.ChatID(chatID), msg, tele.ModeHTML)
		done <- err
	}()
	select {
	case err = <-done:
	case <-time.After(deadline):
		err = fmt.Errorf("send timed out after %s", deadline)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cb.err(fmt.Errorf("courier: telegram send to chat %d: %w", chatID, err))
		return
	}
	if len(d.Results) > telegramPreview {
		cb.warn(fmt.Sprintf("message truncated to first %d of %d results", telegramPreview, len(d.Results)))
	}
	t.log.Info("telegram delivery sent",
		logx.String("search", d.SearchID),
		logx.Int("results", len(d.Results)))
	cb.success()
}

func formatTelegram(d Delivery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n%d new result(s)\n", escapeHTML(d.SearchTitle), len(d.Results))
	for i, r := range d.Results {
		if i == telegramPreview {
			break
		}
		title := r.Title
		if title == "" {
			title = r.ID
		}
		fmt.Fprintf(&b, "• %s\n", escapeHTML(title))
	}
	return b.String()
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// numberParam reads an integer destination parameter, tolerating the JSON
// float64 decoding of numbers.
func numberParam(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q is %T, want number", key, v)
	}
}
