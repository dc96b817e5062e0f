package notify

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotsync/internal/checkout"
	"slotsync/internal/events"
	"slotsync/internal/slots"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func receipt() checkout.Receipt {
	return checkout.Receipt{
		Email:     "a@b.c",
		Date:      slots.Date{Year: 2025, Month: time.March, Day: 12},
		Time:      slots.Clock{Hour: 10, Minute: 30},
		PaymentID: "pay_1",
	}
}

func TestNotifiesOnBookingConfirmed(t *testing.T) {
	sender := &fakeSender{}
	bus := events.NewBus(nil)
	NewTelegramWithSender(sender, 42, nil).Attach(bus)

	require.NoError(t, bus.PublishJSON(events.BookingConfirmed, receipt()))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "a@b.c")
	assert.Contains(t, msg.Text, "2025-03-12 (Wednesday)")
	assert.Contains(t, msg.Text, "10:30 IST")
	assert.Contains(t, msg.Text, "pay_1")
}

func TestSendFailureIsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := events.NewBus(&logger)

	NewTelegramWithSender(&fakeSender{err: errors.New("chat not found")}, 42, nil).Attach(bus)

	assert.NotPanics(t, func() {
		require.NoError(t, bus.PublishJSON(events.BookingConfirmed, receipt()))
	})
	assert.Contains(t, buf.String(), "chat not found")
}

func TestIgnoresOtherEvents(t *testing.T) {
	sender := &fakeSender{}
	bus := events.NewBus(nil)
	NewTelegramWithSender(sender, 42, nil).Attach(bus)

	bus.Publish(events.Event{Type: events.SessionLogin, Payload: []byte(`{}`)})
	assert.Empty(t, sender.sent)
}
