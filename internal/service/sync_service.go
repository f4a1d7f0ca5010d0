package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/config"
	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/repository"
	"go.uber.org/zap"
)

// Время на запись флагов синхронизации после того как контекст задачи истёк
const persistTimeout = 5 * time.Second

const (
	gatewayCalendar = "calendar"
	gatewayCRM      = "crm"
)

// SyncService переносит бронирования во внешний календарь и CRM.
// Ошибка интеграции никогда не откатывает бронирование: она превращается в флаг ручной синхронизации.
type SyncService struct {
	rules    *config.BusinessRules
	store    repository.BookingStore
	calendar CalendarGateway
	crm      CRMGateway
	notifier Notifier
	logger   *zap.Logger

	// задачи одного бронирования выполняются по очереди
	locks *bookingLocks
}

// NewSyncService создаёт обработчик задач синхронизации. calendar, crm и notifier могут быть nil
func NewSyncService(
	rules *config.BusinessRules,
	store repository.BookingStore,
	calendar CalendarGateway,
	crm CRMGateway,
	notifier Notifier,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		rules:    rules,
		store:    store,
		calendar: calendar,
		crm:      crm,
		notifier: notifier,
		logger:   logger,
		locks:    newBookingLocks(),
	}
}

// Handle выполняет задачу по текущему состоянию бронирования в хранилище.
// Задачи одного бронирования не выполняются параллельно
func (s *SyncService) Handle(ctx context.Context, task SyncTask) {
	unlock := s.locks.Lock(task.BookingID)
	defer unlock()

	booking, err := s.store.GetByID(ctx, task.BookingID)
	if err != nil {
		s.logger.Error("Failed to load booking for sync",
			zap.String("task_id", task.ID.String()),
			zap.String("booking_id", task.BookingID.String()),
			zap.Error(err),
		)
		s.Abandon(ctx, task, err)
		return
	}
	if booking == nil {
		s.logger.Warn("Booking disappeared before sync", zap.String("booking_id", task.BookingID.String()))
		return
	}

	if booking.Status == model.BookingStatusCancelled {
		s.removeCalendarEvent(ctx, task, booking)
		return
	}

	retry := task.Action == SyncActionRetry
	if !retry || !booking.CalendarSynced || booking.RequiresManualCalendarSync {
		s.pushCalendarEvent(ctx, task, booking)
	}
	if !retry || !booking.CRMSynced || booking.RequiresManualCRMSync {
		s.pushContact(ctx, task, booking)
	}
}

// Abandon отмечает ручную синхронизацию для задачи, которая не будет выполнена
func (s *SyncService) Abandon(ctx context.Context, task SyncTask, reason error) {
	lctx, cancel := persistContext(ctx)
	defer cancel()

	booking, err := s.store.GetByID(lctx, task.BookingID)
	if err != nil || booking == nil {
		s.logger.Error("Failed to load abandoned booking",
			zap.String("booking_id", task.BookingID.String()),
			zap.NamedError("reason", reason),
			zap.Error(err),
		)
		return
	}

	if booking.Status == model.BookingStatusCancelled || task.Action == SyncActionCancel {
		if s.calendar != nil && booking.CalendarEventID != nil {
			s.markManual(ctx, task, booking, gatewayCalendar, model.CalendarManualPatch(), reason)
		}
		return
	}

	if s.calendar != nil {
		s.markManual(ctx, task, booking, gatewayCalendar, model.CalendarManualPatch(), reason)
	}
	if s.crm != nil {
		s.markManual(ctx, task, booking, gatewayCRM, model.CRMManualPatch(), reason)
	}
}

func (s *SyncService) pushCalendarEvent(ctx context.Context, task SyncTask, booking *model.Booking) {
	if s.calendar == nil {
		return
	}

	event := s.calendarEvent(booking)

	if booking.CalendarEventID != nil {
		eventID := *booking.CalendarEventID
		if err := s.calendar.UpdateEvent(ctx, eventID, event); err != nil {
			s.markManual(ctx, task, booking, gatewayCalendar, model.CalendarManualPatch(), err)
			return
		}
		s.persist(ctx, task, booking, model.CalendarSyncedPatch(eventID))
		return
	}

	eventID, err := s.calendar.CreateEvent(ctx, event)
	if err != nil {
		s.markManual(ctx, task, booking, gatewayCalendar, model.CalendarManualPatch(), err)
		return
	}

	// бронирование могли отменить, пока создавалось событие
	updated := s.persist(ctx, task, booking, model.CalendarSyncedPatch(eventID))
	if updated != nil && updated.Status == model.BookingStatusCancelled {
		s.logger.Info("Booking cancelled during event creation, removing event",
			zap.String("booking_id", booking.ID.String()),
			zap.String("event_id", eventID),
		)
		s.removeCalendarEvent(ctx, task, updated)
	}
}

func (s *SyncService) removeCalendarEvent(ctx context.Context, task SyncTask, booking *model.Booking) {
	if s.calendar == nil || booking.CalendarEventID == nil {
		return
	}

	if err := s.calendar.DeleteEvent(ctx, *booking.CalendarEventID); err != nil {
		s.markManual(ctx, task, booking, gatewayCalendar, model.CalendarManualPatch(), err)
		return
	}
	s.persist(ctx, task, booking, model.CalendarRemovedPatch())
}

func (s *SyncService) pushContact(ctx context.Context, task SyncTask, booking *model.Booking) {
	if s.crm == nil {
		return
	}

	contactID, err := s.crm.UpsertContact(ctx, booking.Email, contactProperties(booking))
	if err != nil {
		s.markManual(ctx, task, booking, gatewayCRM, model.CRMManualPatch(), err)
		return
	}
	s.persist(ctx, task, booking, model.CRMSyncedPatch(contactID))
}

func (s *SyncService) markManual(ctx context.Context, task SyncTask, booking *model.Booking, gateway string, patch model.SyncPatch, cause error) {
	s.logger.Error("Booking sync failed, manual sync required",
		zap.String("gateway", gateway),
		zap.String("task_id", task.ID.String()),
		zap.String("action", string(task.Action)),
		zap.String("booking_id", booking.ID.String()),
		zap.String("email", booking.Email),
		zap.String("name", booking.Name),
		zap.Time("slot_start", booking.Slot.StartTime()),
		zap.Int("slot_duration", booking.Slot.Duration()),
		zap.Duration("task_age", time.Since(task.EnqueuedAt)),
		zap.Error(cause),
	)

	updated := s.persist(ctx, task, booking, patch)
	if updated == nil {
		updated = booking
	}

	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := persistContext(ctx)
	defer cancel()
	reason := fmt.Sprintf("%s %s: %v", gateway, task.Action, cause)
	if err := s.notifier.NotifyManualSync(notifyCtx, updated, reason); err != nil {
		s.logger.Warn("Failed to notify about manual sync", zap.String("booking_id", booking.ID.String()), zap.Error(err))
	}
}

// persist записывает флаги даже если контекст задачи уже истёк
func (s *SyncService) persist(ctx context.Context, task SyncTask, booking *model.Booking, patch model.SyncPatch) *model.Booking {
	pctx, cancel := persistContext(ctx)
	defer cancel()

	updated, err := s.store.UpdateSync(pctx, booking.ID, patch)
	if err != nil {
		s.logger.Error("Failed to persist sync state",
			zap.String("task_id", task.ID.String()),
			zap.String("booking_id", booking.ID.String()),
			zap.Error(err),
		)
		return nil
	}
	patch.Apply(booking)
	return updated
}

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (s *SyncService) calendarEvent(b *model.Booking) model.CalendarEvent {
	summary := "Consultation: " + b.Name
	if b.Company != "" {
		summary += " (" + b.Company + ")"
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Booking: %s\n", b.ID)
	fmt.Fprintf(&desc, "Email: %s\n", b.Email)
	if b.Phone != nil && *b.Phone != "" {
		fmt.Fprintf(&desc, "Phone: %s\n", *b.Phone)
	}
	if b.Inquiry != "" {
		fmt.Fprintf(&desc, "\n%s\n", b.Inquiry)
	}

	attendees := []string{b.Email}
	if s.rules.AdminEmail != "" && !strings.EqualFold(s.rules.AdminEmail, b.Email) {
		attendees = append(attendees, s.rules.AdminEmail)
	}

	return model.CalendarEvent{
		Summary:     summary,
		Description: desc.String(),
		Start:       b.Slot.StartTime().In(s.rules.Location),
		End:         b.Slot.EndTime().In(s.rules.Location),
		TimeZone:    s.rules.Location.String(),
		Attendees:   attendees,
	}
}

func contactProperties(b *model.Booking) model.ContactProperties {
	first, last := splitName(b.Name)
	props := model.ContactProperties{
		"firstname":             first,
		"lastname":              last,
		"company":               b.Company,
		"consultation_id":       b.ID.String(),
		"consultation_start":    b.Slot.StartTime().UTC().Format(time.RFC3339),
		"consultation_duration": strconv.Itoa(b.Slot.Duration()),
		"consultation_status":   string(b.Status),
		"consultation_inquiry":  b.Inquiry,
	}
	if b.Phone != nil {
		props["phone"] = *b.Phone
	}
	return props
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
