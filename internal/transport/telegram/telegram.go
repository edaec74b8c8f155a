// Package telegram delivers pushes as Telegram messages. The owner's chat ID is
// the delivery address.
package telegram

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"emberon/internal/transport"
	logx "emberon/pkg/logx"
)

type Config struct {
	Token string
	// Offline skips the getMe handshake (tests, dry runs).
	Offline bool
	// Timeout bounds the HTTP client used for the Bot API.
	Timeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Send(ctx context.Context, d transport.Delivery) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	if d.ChatID == 0 {
		return transport.MessageRef{}, transport.ErrNoAddress
	}
	chat := &tele.Chat{ID: d.ChatID}
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}
	msg, err := a.bot.Send(chat, Render(d), opt)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: d.ChatID, MessageID: msg.ID}, nil
}

// Render formats a delivery as Telegram HTML: bold title, then body.
func Render(d transport.Delivery) string {
	title := strings.TrimSpace(d.Title)
	body := strings.TrimSpace(d.Body)
	switch {
	case title == "":
		return html.EscapeString(body)
	case body == "":
		return "<b>" + html.EscapeString(title) + "</b>"
	default:
		return "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(body)
	}
}
