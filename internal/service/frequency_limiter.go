package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/config"
	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FrequencyLimiter ограничивает частоту бронирований одного email.
// Обход лимитов для администратора решает вызывающий код, сам лимитер его не знает.
type FrequencyLimiter struct {
	rules  *config.BusinessRules
	store  repository.BookingReader
	logger *zap.Logger
	now    func() time.Time
}

func NewFrequencyLimiter(rules *config.BusinessRules, store repository.BookingReader, logger *zap.Logger) *FrequencyLimiter {
	return &FrequencyLimiter{
		rules:  rules,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CheckFrequencyLimit глобальное правило: не больше MaxBookings бронирований, созданных за последние WindowDays
func (l *FrequencyLimiter) CheckFrequencyLimit(ctx context.Context, email string) error {
	return l.checkGlobal(ctx, l.store, email)
}

// CheckDurationFrequencyLimit правило для длительности: не больше MaxBookings бронирований той же длительности,
// начинающихся не дальше WindowMinutes от start в любую сторону
func (l *FrequencyLimiter) CheckDurationFrequencyLimit(ctx context.Context, email string, start time.Time, duration int) error {
	return l.checkDuration(ctx, l.store, email, start, duration, nil)
}

// CheckWithin проверяет оба правила через reader транзакции
func (l *FrequencyLimiter) CheckWithin(ctx context.Context, reader repository.BookingReader, email string, slot model.TimeSlot) error {
	if err := l.checkGlobal(ctx, reader, email); err != nil {
		return err
	}
	return l.checkDuration(ctx, reader, email, slot.StartTime(), slot.Duration(), nil)
}

// CheckRescheduleWithin правило для длительности при переносе, без учёта самого бронирования
func (l *FrequencyLimiter) CheckRescheduleWithin(ctx context.Context, reader repository.BookingReader, email string, slot model.TimeSlot, bookingID uuid.UUID) error {
	return l.checkDuration(ctx, reader, email, slot.StartTime(), slot.Duration(), &bookingID)
}

// CheckTransferWithin проверяет оба правила для email, на который переносится существующее бронирование
func (l *FrequencyLimiter) CheckTransferWithin(ctx context.Context, reader repository.BookingReader, email string, slot model.TimeSlot, bookingID uuid.UUID) error {
	if err := l.checkGlobal(ctx, reader, email); err != nil {
		return err
	}
	return l.checkDuration(ctx, reader, email, slot.StartTime(), slot.Duration(), &bookingID)
}

func (l *FrequencyLimiter) checkGlobal(ctx context.Context, reader repository.BookingReader, email string) error {
	rule := l.rules.FrequencyLimit

	count, err := reader.CountBookings(ctx, model.BookingFilter{
		Email:        email,
		Statuses:     model.CountedStatuses,
		CreatedSince: l.now().Add(-rule.Window()),
	})
	if err != nil {
		return fmt.Errorf("count bookings for frequency limit: %w", err)
	}

	if count >= rule.MaxBookings {
		l.logger.Info("Frequency limit exceeded",
			zap.String("email", email),
			zap.Int("count", count),
			zap.Int("limit", rule.MaxBookings),
			zap.Int("window_days", rule.WindowDays),
		)
		return &FrequencyLimitError{Limit: rule.MaxBookings, Window: rule.Window()}
	}
	return nil
}

func (l *FrequencyLimiter) checkDuration(
	ctx context.Context,
	reader repository.BookingReader,
	email string,
	start time.Time,
	duration int,
	exclude *uuid.UUID,
) error {
	rule, ok := l.rules.DurationLimit(duration)
	if !ok {
		return nil
	}
	window := rule.Window()

	count, err := reader.CountBookings(ctx, model.BookingFilter{
		Email:     email,
		Duration:  duration,
		Statuses:  model.OccupyingStatuses,
		StartFrom: start.Add(-window),
		StartTo:   start.Add(window),
		ExcludeID: exclude,
	})
	if err != nil {
		return fmt.Errorf("count bookings for duration limit: %w", err)
	}

	if count >= rule.MaxBookings {
		l.logger.Info("Duration frequency limit exceeded",
			zap.String("email", email),
			zap.Int("duration", duration),
			zap.Int("count", count),
			zap.Int("limit", rule.MaxBookings),
			zap.Int("window_minutes", rule.WindowMinutes),
		)
		return &FrequencyLimitError{Limit: rule.MaxBookings, Window: window, Duration: duration}
	}
	return nil
}
