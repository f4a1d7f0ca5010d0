package telegram

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Telegram ограничивает длину сообщения 4096 символами
const maxMessageLength = 4096

// Notifier отправляет уведомления о ручной синхронизации в админский чат
type Notifier struct {
	bot      *bot.Bot
	chatID   int64
	location *time.Location
	logger   *zap.Logger
}

func NewNotifier(b *bot.Bot, chatID int64, loc *time.Location, logger *zap.Logger) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{bot: b, chatID: chatID, location: loc, logger: logger}
}

// NotifyManualSync сообщает, что бронирование нужно синхронизировать вручную
func (n *Notifier) NotifyManualSync(ctx context.Context, booking *model.Booking, reason string) error {
	text := fmt.Sprintf("⚠️ <b>Требуется ручная синхронизация</b>\n\n%s\n\nПричина: %s\n\nПовторить: /retry %s",
		formatBooking(booking, n.location),
		html.EscapeString(reason),
		booking.ID,
	)
	return n.send(ctx, text)
}

// NotifyDigest отправляет сводку бронирований с ручной синхронизацией
func (n *Notifier) NotifyDigest(ctx context.Context, bookings []*model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	return n.send(ctx, formatManualSyncList("📋 <b>Ждут ручной синхронизации</b>", bookings, n.location))
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if n.chatID == 0 {
		n.logger.Warn("Admin chat is not configured, notification dropped")
		return nil
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      truncate(text, maxMessageLength),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		n.logger.Error("Failed to send admin notification", zap.Int64("chat_id", n.chatID), zap.Error(err))
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// truncate обрезает текст по границе строки, не превышая limit символов
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	const suffix = "\n…"
	cut := runes[:limit-len([]rune(suffix))]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == '\n' {
			cut = cut[:i]
			break
		}
	}
	return string(cut) + suffix
}
