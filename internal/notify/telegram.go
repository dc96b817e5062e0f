// Package notify tells an operator chat about confirmed bookings.
package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"slotsync/internal/checkout"
	"slotsync/internal/events"
)

// Sender is the part of the bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot    Sender
	chatID int64
	logger zerolog.Logger
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64, logger *zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(api, chatID, logger), nil
}

func NewTelegramWithSender(bot Sender, chatID int64, logger *zerolog.Logger) *Telegram {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notify").Logger()
	}
	return &Telegram{bot: bot, chatID: chatID, logger: l}
}

// Attach subscribes the notifier to booking confirmations.
func (t *Telegram) Attach(bus *events.Bus) {
	bus.Subscribe(events.BookingConfirmed, t.HandleBookingConfirmed)
}

func (t *Telegram) HandleBookingConfirmed(ev events.Event) error {
	var receipt checkout.Receipt
	if err := ev.Decode(&receipt); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, formatConfirmation(receipt))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", t.chatID, err)
	}
	t.logger.Debug().Str("payment", receipt.PaymentID).Msg("booking notification sent")
	return nil
}

func formatConfirmation(r checkout.Receipt) string {
	var b strings.Builder
	b.WriteString("New interview booked\n")
	fmt.Fprintf(&b, "Email: %s\n", r.Email)
	fmt.Fprintf(&b, "Date: %s (%s)\n", r.Date, r.Date.Midnight().Weekday())
	fmt.Fprintf(&b, "Time: %s IST\n", r.Time)
	fmt.Fprintf(&b, "Payment: %s", r.PaymentID)
	return b.String()
}
