package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/config"
	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateBookingRequest заявка на консультацию.
// BypassLimits отключает проверку частоты, выставляется только на админском пути.
type CreateBookingRequest struct {
	Details      model.ContactDetails
	Slot         model.TimeSlot
	BypassLimits bool
}

// UpdateBookingRequest изменение бронирования, nil поля не меняются
type UpdateBookingRequest struct {
	Name         *string
	Company      *string
	Email        *string
	Phone        *string
	Inquiry      *string
	Slot         *model.TimeSlot
	Status       *model.BookingStatus
	BypassLimits bool
}

type BookingService struct {
	rules        *config.BusinessRules
	store        repository.BookingStore
	availability *AvailabilityService
	limiter      *FrequencyLimiter
	calendar     CalendarGateway
	queue        *SyncQueue
	logger       *zap.Logger
	now          func() time.Time
}

func NewBookingService(
	rules *config.BusinessRules,
	store repository.BookingStore,
	availability *AvailabilityService,
	limiter *FrequencyLimiter,
	calendar CalendarGateway,
	queue *SyncQueue,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		rules:        rules,
		store:        store,
		availability: availability,
		limiter:      limiter,
		calendar:     calendar,
		queue:        queue,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateBooking проверяет лимиты и свободность слота и атомарно создаёт подтверждённое бронирование.
// Синхронизация с календарём и CRM ставится в очередь после коммита и на результат не влияет.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	details, err := normalizeDetails(req.Details)
	if err != nil {
		return nil, err
	}
	if err := s.validateSlot(req.Slot); err != nil {
		return nil, err
	}
	slot := req.Slot

	if !req.BypassLimits {
		if err := s.limiter.CheckFrequencyLimit(ctx, details.Email); err != nil {
			return nil, err
		}
		if err := s.limiter.CheckDurationFrequencyLimit(ctx, details.Email, slot.StartTime(), slot.Duration()); err != nil {
			return nil, err
		}
	}

	// Календарь проверяется до транзакции, чтобы повторы вызова не держали блокировки
	if err := s.checkCalendar(ctx, slot.Interval(), nil); err != nil {
		return nil, err
	}

	booking := &model.Booking{
		ID:             uuid.New(),
		ContactDetails: details,
		Slot:           slot,
		Status:         model.BookingStatusPending,
	}

	locks := s.slotLocks(slot.Interval())
	locks = append(locks, repository.EmailLock(details.Email))

	err = s.store.WithinTx(ctx, locks, func(ctx context.Context, tx repository.BookingTx) error {
		if !req.BypassLimits {
			if err := s.limiter.CheckWithin(ctx, tx, details.Email, slot); err != nil {
				return err
			}
		}
		if err := s.checkBookings(ctx, tx, slot.Interval(), nil); err != nil {
			return err
		}

		booking.Status = model.BookingStatusConfirmed
		return tx.InsertBooking(ctx, booking)
	})
	if err != nil {
		return nil, s.conflictOr(err, slot.Interval(), "create booking")
	}

	s.logger.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("email", booking.Email),
		zap.Time("start", slot.StartTime()),
		zap.Int("duration", slot.Duration()),
		zap.Bool("bypass_limits", req.BypassLimits),
	)

	s.afterCommit(ctx, SyncActionCreate, booking.ID)
	return booking, nil
}

// UpdateBooking меняет данные клиента, переносит слот или закрывает бронирование.
// Перенос заново проверяет правило частоты для длительности и пересечения, не считая само бронирование.
// Смена email проверяет оба правила частоты для нового адреса.
func (s *BookingService) UpdateBooking(ctx context.Context, id uuid.UUID, req UpdateBookingRequest) (*model.Booking, error) {
	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Active() {
		return nil, ErrBookingClosed
	}

	if req.Status != nil && *req.Status != model.BookingStatusCompleted && *req.Status != model.BookingStatusNoShow {
		return nil, invalid("status", "only %s and %s can be set directly", model.BookingStatusCompleted, model.BookingStatusNoShow)
	}

	reschedule := req.Slot != nil && (!req.Slot.StartTime().Equal(current.Slot.StartTime()) || req.Slot.Duration() != current.Slot.Duration())
	if reschedule {
		if err := s.validateSlot(*req.Slot); err != nil {
			return nil, err
		}
		if err := s.checkCalendar(ctx, req.Slot.Interval(), current); err != nil {
			return nil, err
		}
	}

	locks := s.slotLocks(current.Interval())
	locks = append(locks, repository.EmailLock(current.Email))
	if reschedule {
		locks = append(locks, s.slotLocks(req.Slot.Interval())...)
	}
	if req.Email != nil {
		locks = append(locks, repository.EmailLock(*req.Email))
	}

	var updated *model.Booking
	err = s.store.WithinTx(ctx, locks, func(ctx context.Context, tx repository.BookingTx) error {
		b, err := tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBookingNotFound
		}
		if !b.Status.Active() {
			return ErrBookingClosed
		}

		details, err := normalizeDetails(applyDetails(b.ContactDetails, req))
		if err != nil {
			return err
		}
		emailChanged := details.Email != b.Email
		b.ContactDetails = details

		slot := b.Slot
		if reschedule {
			slot = *req.Slot
		}
		if req.Status != nil {
			b.Status = *req.Status
		}

		// запись на другой email считается новым бронированием этого адреса
		if !req.BypassLimits && b.Status.Active() {
			switch {
			case emailChanged:
				err = s.limiter.CheckTransferWithin(ctx, tx, b.Email, slot, b.ID)
			case reschedule:
				err = s.limiter.CheckRescheduleWithin(ctx, tx, b.Email, slot, b.ID)
			}
			if err != nil {
				return err
			}
		}

		if reschedule {
			if err := s.checkBookings(ctx, tx, slot.Interval(), &b.ID); err != nil {
				return err
			}
			b.Slot = slot
		}

		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		interval := current.Interval()
		if req.Slot != nil {
			interval = req.Slot.Interval()
		}
		return nil, s.conflictOr(err, interval, "update booking")
	}

	s.logger.Info("Booking updated",
		zap.String("booking_id", updated.ID.String()),
		zap.Bool("rescheduled", reschedule),
		zap.String("status", string(updated.Status)),
	)

	s.afterCommit(ctx, SyncActionUpdate, updated.ID)
	return updated, nil
}

// CancelBooking отменяет бронирование. Повторная отмена ничего не делает
func (s *BookingService) CancelBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	var (
		cancelled *model.Booking
		changed   bool
	)
	err := s.store.WithinTx(ctx, nil, func(ctx context.Context, tx repository.BookingTx) error {
		b, err := tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBookingNotFound
		}
		cancelled = b

		switch {
		case b.Status == model.BookingStatusCancelled:
			return nil
		case !b.Status.Active():
			return ErrBookingClosed
		}

		b.Status = model.BookingStatusCancelled
		changed = true
		return tx.UpdateBooking(ctx, b)
	})
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) || errors.Is(err, ErrBookingClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	if changed {
		s.logger.Info("Booking cancelled", zap.String("booking_id", id.String()))
		s.afterCommit(ctx, SyncActionCancel, id)
	}
	return cancelled, nil
}

// GetBooking возвращает бронирование вместе с состоянием синхронизации
func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

// ListManualSync бронирования, которые ждут ручной синхронизации
func (s *BookingService) ListManualSync(ctx context.Context, limit int) ([]*model.Booking, error) {
	bookings, err := s.store.FindBookings(ctx, model.BookingFilter{ManualSync: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list manual sync bookings: %w", err)
	}
	return bookings, nil
}

// RetrySync повторно ставит в очередь несинхронизированные части бронирования
func (s *BookingService) RetrySync(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Retrying booking sync",
		zap.String("booking_id", id.String()),
		zap.Bool("manual_calendar", b.RequiresManualCalendarSync),
		zap.Bool("manual_crm", b.RequiresManualCRMSync),
	)
	if err := s.queue.Enqueue(ctx, NewSyncTask(SyncActionRetry, id)); err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}
	return b, nil
}

// CompletePastBookings переводит прошедшие подтверждённые бронирования в completed
func (s *BookingService) CompletePastBookings(ctx context.Context) (int64, error) {
	n, err := s.store.CompletePast(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Past bookings completed", zap.Int64("count", n))
	}
	return n, nil
}

func (s *BookingService) validateSlot(slot model.TimeSlot) error {
	if slot.StartTime().IsZero() || !model.ValidDuration(slot.Duration()) {
		return invalid("slot", "start time and a duration of %v minutes are required", model.AllowedDurations)
	}
	if !s.rules.WithinBusinessHours(slot) {
		return invalid("slot", "outside business hours")
	}
	if slot.StartTime().Before(s.now().Add(s.rules.MinAdvance)) {
		return invalid("slot", "must be booked at least %s in advance", formatWindow(s.rules.MinAdvance))
	}
	return nil
}

// checkCalendar сверяет слот с занятостью календаря непосредственно в окне слота.
// Недоступный календарь не блокирует запись, при переносе собственное событие бронирования не считается.
func (s *BookingService) checkCalendar(ctx context.Context, candidate model.Interval, own *model.Booking) error {
	if s.calendar == nil {
		return nil
	}

	window := candidate.Expand(s.rules.Buffer)
	busy, err := s.calendar.GetBusyPeriods(ctx, window.Start, window.End)
	if err != nil {
		s.logger.Warn("Calendar re-check skipped",
			zap.Time("start", candidate.Start),
			zap.Time("end", candidate.End),
			zap.Error(err),
		)
		return nil
	}

	occupied := make([]model.Interval, 0, len(busy))
	for _, p := range busy {
		iv := p.Interval()
		if own != nil && own.CalendarEventID != nil && iv.Start.Equal(own.Slot.StartTime()) && iv.End.Equal(own.Slot.EndTime()) {
			continue
		}
		occupied = append(occupied, iv)
	}

	if conflict, hit := model.FirstOverlap(candidate, occupied, s.rules.Buffer); hit {
		return &SlotConflictError{Conflicting: conflict, Source: ConflictSourceCalendar}
	}
	return nil
}

// checkBookings ищет пересечение с активными бронированиями в транзакции
func (s *BookingService) checkBookings(ctx context.Context, tx repository.BookingReader, candidate model.Interval, exclude *uuid.UUID) error {
	bookings, err := tx.FindBookings(ctx, model.BookingFilter{
		OverlapStart: candidate.Start.Add(-s.rules.Buffer),
		OverlapEnd:   candidate.End.Add(s.rules.Buffer),
		Statuses:     model.OccupyingStatuses,
		ExcludeID:    exclude,
	})
	if err != nil {
		return fmt.Errorf("find overlapping bookings: %w", err)
	}

	occupied := make([]model.Interval, 0, len(bookings))
	for _, b := range bookings {
		occupied = append(occupied, b.Interval())
	}

	if conflict, hit := model.FirstOverlap(candidate, occupied, s.rules.Buffer); hit {
		return &SlotConflictError{Conflicting: conflict, Source: ConflictSourceBooking}
	}
	return nil
}

// slotLocks блокировки дней, которые задевает слот вместе с буфером
func (s *BookingService) slotLocks(iv model.Interval) []repository.LockKey {
	window := iv.Expand(s.rules.Buffer)
	return repository.DayLocks(window.Start, window.End, s.rules.Location)
}

func (s *BookingService) conflictOr(err error, interval model.Interval, op string) error {
	switch {
	case errors.Is(err, repository.ErrSlotOverlap):
		return &SlotConflictError{Conflicting: interval, Source: ConflictSourceBooking}
	case errors.Is(err, ErrSlotConflict),
		errors.Is(err, ErrFrequencyLimit),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrBookingClosed):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *BookingService) afterCommit(ctx context.Context, action SyncAction, id uuid.UUID) {
	s.availability.InvalidateCache(ctx)
	// Ошибка очереди уже превращена в флаг ручной синхронизации
	_ = s.queue.Enqueue(ctx, NewSyncTask(action, id))
}

func normalizeDetails(d model.ContactDetails) (model.ContactDetails, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.Company = strings.TrimSpace(d.Company)
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	d.Inquiry = strings.TrimSpace(d.Inquiry)
	if d.Phone != nil {
		phone := strings.TrimSpace(*d.Phone)
		if phone == "" {
			d.Phone = nil
		} else {
			d.Phone = &phone
		}
	}

	if d.Name == "" {
		return d, invalid("name", "is required")
	}
	if d.Email == "" {
		return d, invalid("email", "is required")
	}
	if addr, err := mail.ParseAddress(d.Email); err != nil || addr.Address != d.Email {
		return d, invalid("email", "%q is not a valid address", d.Email)
	}
	return d, nil
}

func applyDetails(d model.ContactDetails, req UpdateBookingRequest) model.ContactDetails {
	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.Company != nil {
		d.Company = *req.Company
	}
	if req.Email != nil {
		d.Email = *req.Email
	}
	if req.Phone != nil {
		phone := *req.Phone
		d.Phone = &phone
	}
	if req.Inquiry != nil {
		d.Inquiry = *req.Inquiry
	}
	return d
}
