package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Freeeeeet/consult_booking/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const helpText = "📚 Справка по командам:\n\n" +
	"/health - Состояние календаря и CRM\n" +
	"/manualsync - Записи, которые нужно синхронизировать вручную\n" +
	"/booking &lt;id&gt; - Карточка записи\n" +
	"/retry &lt;id&gt; - Повторить синхронизацию записи\n" +
	"/help - Показать эту справку"

// adminOnly пропускает только сообщения из админского чата
func (c *BotController) adminOnly(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.Message == nil {
			return
		}
		if c.adminChatID == 0 || update.Message.Chat.ID != c.adminChatID {
			c.logger.Warn("Rejected command from non-admin chat",
				zap.Int64("chat_id", update.Message.Chat.ID),
				zap.String("text", update.Message.Text),
			)
			c.reply(ctx, b, update.Message.Chat.ID, "⛔ Эта команда доступна только администратору.")
			return
		}
		next(ctx, b, update)
	}
}

// HandleStart обрабатывает команду /start
func (c *BotController) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	if chatID != c.adminChatID {
		c.reply(ctx, b, chatID, fmt.Sprintf(
			"👋 Это служебный бот записи на консультации.\n\nID этого чата: <code>%d</code>\n"+
				"Укажите его в TELEGRAM_ADMIN_CHAT_ID, чтобы получать уведомления.", chatID))
		return
	}

	c.reply(ctx, b, chatID, "👋 Привет! Сюда приходят уведомления о записях, которые не удалось синхронизировать.\n\n"+helpText)
}

// HandleHelp обрабатывает команду /help
func (c *BotController) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	c.reply(ctx, b, update.Message.Chat.ID, helpText)
}

// HandleHealth обрабатывает команду /health
func (c *BotController) HandleHealth(ctx context.Context, b *bot.Bot, update *models.Update) {
	c.reply(ctx, b, update.Message.Chat.ID, formatHealth(c.registry.States(), c.location))
}

// HandleManualSync обрабатывает команду /manualsync
func (c *BotController) HandleManualSync(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	bookings, err := c.bookings.ListManualSync(ctx, manualSyncListLimit)
	if err != nil {
		c.logger.Error("Failed to list manual sync bookings", zap.Error(err))
		c.reply(ctx, b, chatID, "❌ Не удалось получить список. Попробуйте позже.")
		return
	}

	c.reply(ctx, b, chatID, formatManualSyncList("📋 <b>Ждут ручной синхронизации</b>", bookings, c.location))
}

// HandleBooking обрабатывает команду /booking <id>
func (c *BotController) HandleBooking(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	id, ok := c.commandID(ctx, b, update, "/booking")
	if !ok {
		return
	}

	booking, err := c.bookings.GetBooking(ctx, id)
	if err != nil {
		c.replyError(ctx, b, chatID, "get booking", id, err)
		return
	}
	c.reply(ctx, b, chatID, formatBooking(booking, c.location))
}

// HandleRetry обрабатывает команду /retry <id>
func (c *BotController) HandleRetry(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	id, ok := c.commandID(ctx, b, update, "/retry")
	if !ok {
		return
	}

	booking, err := c.bookings.RetrySync(ctx, id)
	if err != nil {
		c.replyError(ctx, b, chatID, "retry sync", id, err)
		return
	}

	c.logger.Info("Sync retry requested from admin chat", zap.String("booking_id", id.String()))
	c.reply(ctx, b, chatID, fmt.Sprintf("🔁 Синхронизация поставлена в очередь.\n\n%s", formatBooking(booking, c.location)))
}

// commandID достаёт UUID бронирования из текста команды
func (c *BotController) commandID(ctx context.Context, b *bot.Bot, update *models.Update, command string) (uuid.UUID, bool) {
	arg := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, command))
	id, err := uuid.Parse(arg)
	if err != nil {
		c.reply(ctx, b, update.Message.Chat.ID, fmt.Sprintf("❌ Укажите ID записи: %s &lt;id&gt;", command))
		return uuid.Nil, false
	}
	return id, true
}

func (c *BotController) replyError(ctx context.Context, b *bot.Bot, chatID int64, op string, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, service.ErrBookingNotFound):
		c.reply(ctx, b, chatID, "❌ Запись не найдена.")
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrQueueClosed):
		c.reply(ctx, b, chatID, "⏳ Очередь синхронизации переполнена. Попробуйте позже.")
	default:
		c.logger.Error("Admin command failed", zap.String("op", op), zap.String("booking_id", id.String()), zap.Error(err))
		c.reply(ctx, b, chatID, "❌ Произошла ошибка. Попробуйте позже.")
	}
}

// reply отправляет сообщение и логирует если не удалось
func (c *BotController) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      truncate(text, maxMessageLength),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		c.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
