package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/cache"
	"github.com/Freeeeeet/consult_booking/internal/config"
	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/repository"
	"go.uber.org/zap"
)

const degradedWarning = "calendar is unavailable, availability is based on internal bookings only"

// Availability список свободных слотов.
// Degraded означает что занятость из календаря не учтена.
type Availability struct {
	Slots    []model.TimeSlot `json:"slots"`
	Degraded bool             `json:"degraded"`
	Warning  string           `json:"warning,omitempty"`
}

type AvailabilityService struct {
	rules    *config.BusinessRules
	store    repository.BookingReader
	calendar CalendarGateway
	cache    cache.Cache
	logger   *zap.Logger
	now      func() time.Time
}

// NewAvailabilityService создаёт калькулятор свободных слотов. calendar может быть nil
func NewAvailabilityService(
	rules *config.BusinessRules,
	store repository.BookingReader,
	calendar CalendarGateway,
	c cache.Cache,
	logger *zap.Logger,
) *AvailabilityService {
	if c == nil {
		c = cache.Nop{}
	}
	return &AvailabilityService{
		rules:    rules,
		store:    store,
		calendar: calendar,
		cache:    c,
		logger:   logger,
		now:      time.Now,
	}
}

// GetAvailableSlots возвращает свободные слоты длительностью duration в [start, end), по возрастанию
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, start, end time.Time, duration int) (*Availability, error) {
	if err := s.validateRange(start, end, duration); err != nil {
		return nil, err
	}

	key := cache.SlotsKey(start, end, duration)
	var cached []model.TimeSlot
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Availability cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		return &Availability{Slots: s.bookable(cached)}, nil
	}

	busy, degraded := s.busyPeriods(ctx, start, end)

	bookings, err := s.store.FindBookings(ctx, model.BookingFilter{
		OverlapStart: start.Add(-s.rules.Buffer),
		OverlapEnd:   end.Add(s.rules.Buffer),
		Statuses:     model.OccupyingStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}

	occupied := make([]model.Interval, 0, len(busy)+len(bookings))
	for _, b := range bookings {
		occupied = append(occupied, b.Interval())
	}
	for _, p := range busy {
		occupied = append(occupied, p.Interval())
	}

	slots := s.candidates(start, end, duration, occupied)

	// Неполный результат не кешируем, чтобы следующий запрос снова спросил календарь
	if !degraded {
		if err := s.cache.Set(ctx, key, slots, cache.AvailabilityTTL); err != nil {
			s.logger.Warn("Failed to cache availability", zap.String("key", key), zap.Error(err))
		}
	}

	result := &Availability{Slots: s.bookable(slots), Degraded: degraded}
	if degraded {
		result.Warning = degradedWarning
	}
	return result, nil
}

// InvalidateCache сбрасывает закешированные слоты и занятость календаря
func (s *AvailabilityService) InvalidateCache(ctx context.Context) {
	for _, prefix := range []string{cache.SlotsPrefix, cache.BusyPrefix} {
		if err := s.cache.DeletePrefix(ctx, prefix); err != nil {
			s.logger.Warn("Failed to invalidate cache", zap.String("prefix", prefix), zap.Error(err))
		}
	}
}

func (s *AvailabilityService) validateRange(start, end time.Time, duration int) error {
	if start.IsZero() || end.IsZero() {
		return invalid("range", "start and end are required")
	}
	if !start.Before(end) {
		return invalid("range", "start must be before end")
	}
	if end.Sub(start) > time.Duration(s.rules.MaxRangeDays)*24*time.Hour {
		return invalid("range", "must not exceed %d days", s.rules.MaxRangeDays)
	}
	if !model.ValidDuration(duration) {
		return invalid("duration", "must be one of %v", model.AllowedDurations)
	}
	return nil
}

// busyPeriods занятость календаря за весь диапазон одним запросом, через кеш.
// Ошибка календаря не прерывает расчёт: возвращается degraded = true.
func (s *AvailabilityService) busyPeriods(ctx context.Context, start, end time.Time) ([]model.BusyPeriod, bool) {
	if s.calendar == nil {
		return nil, false
	}

	// Соседние с диапазоном события тоже влияют на крайние слоты через буфер
	from, to := start.Add(-s.rules.Buffer), end.Add(s.rules.Buffer)
	key := cache.BusyPeriodsKey(from, to)

	var busy []model.BusyPeriod
	found, err := s.cache.Get(ctx, key, &busy)
	if err != nil {
		s.logger.Warn("Busy periods cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		return busy, false
	}

	busy, err = s.calendar.GetBusyPeriods(ctx, from, to)
	if err != nil {
		s.logger.Warn("Calendar unavailable, computing availability from bookings only",
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Error(err),
		)
		return nil, true
	}

	if err := s.cache.Set(ctx, key, busy, cache.BusyPeriodsTTL); err != nil {
		s.logger.Warn("Failed to cache busy periods", zap.String("key", key), zap.Error(err))
	}
	return busy, false
}

// candidates перебирает слоты с шагом duration от начала рабочего дня
// и отбрасывает пересекающиеся с занятыми интервалами (с учётом буфера)
func (s *AvailabilityService) candidates(start, end time.Time, duration int, occupied []model.Interval) []model.TimeSlot {
	step := time.Duration(duration) * time.Minute
	slots := make([]model.TimeSlot, 0)

	local := start.In(s.rules.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.rules.Location)

	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		window, ok := s.rules.DayWindow(day)
		if !ok {
			continue
		}

		for t := window.Start; !t.Add(step).After(window.End); t = t.Add(step) {
			candidate := model.Interval{Start: t, End: t.Add(step)}
			if candidate.Start.Before(start) || candidate.End.After(end) {
				continue
			}
			if _, hit := model.FirstOverlap(candidate, occupied, s.rules.Buffer); hit {
				continue
			}

			slot, err := model.NewTimeSlot(t, duration)
			if err != nil {
				continue
			}
			slots = append(slots, slot)
		}
	}

	return slots
}

// bookable оставляет слоты, до начала которых не меньше минимального времени записи
func (s *AvailabilityService) bookable(slots []model.TimeSlot) []model.TimeSlot {
	earliest := s.now().Add(s.rules.MinAdvance)
	out := make([]model.TimeSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.StartTime().Before(earliest) {
			continue
		}
		out = append(out, slot.In(s.rules.Location))
	}
	return out
}
