package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "carecue/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// Sink shows a fired notification to the caregiver.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log. It is the default sink.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("sink", "log"))}
}

func (l *LogSink) Deliver(_ context.Context, n Notification) error {
	l.log.Info(n.Payload.Title,
		logx.String("body", n.Payload.Body),
		logx.String("kind", n.Payload.Kind),
		logx.String("child", n.Payload.ChildID),
		logx.String("trigger_id", n.TriggerID),
	)
	return nil
}

// TelegramConfig selects the chat reminders are sent to.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// TelegramSink sends each notification as a message to one chat. It only
// sends; it never polls for updates.
type TelegramSink struct {
	cfg TelegramConfig
	bot *tele.Bot
	log logx.Logger
}

func NewTelegramSink(cfg TelegramConfig, log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline skips the getMe round trip; a bad token surfaces on the first delivery.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{cfg: cfg, bot: b, log: log.With(logx.String("sink", "telegram"))}, nil
}

func (t *TelegramSink) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := FormatText(n.Payload)
	_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, text, &tele.SendOptions{
		ThreadID:              t.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	if errors.Is(err, tele.ErrUnauthorized) {
		return fmt.Errorf("telegram token rejected: %w", err)
	}
	return err
}

// FormatText renders a payload as a plain message: title, blank line, body.
func FormatText(p Payload) string {
	title := strings.TrimSpace(p.Title)
	body := strings.TrimSpace(p.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n\n" + body
	}
}
