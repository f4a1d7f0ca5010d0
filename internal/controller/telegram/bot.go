package telegram

import (
	"context"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const manualSyncListLimit = 20

// BookingOps операции, доступные администратору из чата
type BookingOps interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	ListManualSync(ctx context.Context, limit int) ([]*model.Booking, error)
	RetrySync(ctx context.Context, id uuid.UUID) (*model.Booking, error)
}

// BotController админский бот: здоровье интеграций и очередь ручной синхронизации
type BotController struct {
	bot         *bot.Bot
	bookings    BookingOps
	registry    *resilience.Registry
	adminChatID int64
	location    *time.Location
	logger      *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	bookings BookingOps,
	registry *resilience.Registry,
	adminChatID int64,
	loc *time.Location,
	logger *zap.Logger,
) *BotController {
	if registry == nil {
		registry = resilience.NewRegistry()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &BotController{
		bot:         botInstance,
		bookings:    bookings,
		registry:    registry,
		adminChatID: adminChatID,
		location:    loc,
		logger:      logger,
	}
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.adminOnly(c.HandleHelp))
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/health", bot.MatchTypeExact, c.adminOnly(c.HandleHealth))
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/manualsync", bot.MatchTypeExact, c.adminOnly(c.HandleManualSync))
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/booking", bot.MatchTypePrefix, c.adminOnly(c.HandleBooking))
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/retry", bot.MatchTypePrefix, c.adminOnly(c.HandleRetry))

	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Начать работу с ботом"},
		{Command: "help", Description: "❓ Справка по командам"},
		{Command: "health", Description: "🩺 Состояние интеграций"},
		{Command: "manualsync", Description: "📋 Записи для ручной синхронизации"},
		{Command: "booking", Description: "🔎 Запись по ID"},
		{Command: "retry", Description: "🔁 Повторить синхронизацию записи"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})

	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("Bot commands menu set")
	return nil
}

// Start запускает бота, блокируется до отмены ctx
func (c *BotController) Start(ctx context.Context) {
	c.logger.Info("Starting admin bot", zap.Int64("admin_chat_id", c.adminChatID))
	c.bot.Start(ctx)
}
