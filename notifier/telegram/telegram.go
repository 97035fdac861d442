// Package telegram is an optional alert sink: it formats restock events into
// Telegram messages and sends them to a configured chat. The engine does not
// depend on it; embedders wire HandleAlert into Engine.OnAlert.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

// Config configures the sink.
type Config struct {
	Token  string
	ChatID int64
	// MessagesPerSec caps outbound sends; Telegram throttles chats around
	// one message per second. 0 picks that default.
	MessagesPerSec float64
}

// Sink sends restock alerts to one Telegram chat.
type Sink struct {
	bot     *tele.Bot
	chat    tele.Recipient
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	perSec := cfg.MessagesPerSec
	if perSec <= 0 {
		perSec = 1
	}

	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Sink{
		bot:     b,
		chat:    tele.ChatID(cfg.ChatID),
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		log:     log,
	}, nil
}

// Send delivers one alert, waiting on the rate limiter first.
func (s *Sink) Send(ctx context.Context, ev market.RestockEvent) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.bot.Send(s.chat, Format(ev), tele.ModeMarkdown)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// HandleAlert is the Engine.OnAlert-shaped entry point. Delivery is
// best-effort: a failed send is logged and dropped, never retried, so the
// alert path can never back up behind Telegram.
func (s *Sink) HandleAlert(ev market.RestockEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Send(ctx, ev); err != nil {
		s.log.Warn("alert delivery failed", logx.String("item", ev.ItemID), logx.Err(err))
	}
}

// Format renders one alert as a Markdown message.
func Format(ev market.RestockEvent) string {
	name := ev.DisplayName
	if name == "" {
		name = ev.ItemID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *%s* is back in stock", name)
	if ev.Category != "" {
		fmt.Fprintf(&b, " (%s)", ev.Category)
	}
	fmt.Fprintf(&b, "\nQuantity: %d", ev.Quantity)
	if !ev.DetectedAt.IsZero() {
		fmt.Fprintf(&b, "\nDetected: %s", ev.DetectedAt.UTC().Format("15:04:05 MST"))
	}
	return b.String()
}
