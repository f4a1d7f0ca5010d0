package app

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"go.uber.org/zap"
)

const digestLimit = 50

// BookingLifecycle операции, которые планировщик выполняет по расписанию
type BookingLifecycle interface {
	CompletePastBookings(ctx context.Context) (int64, error)
	ListManualSync(ctx context.Context, limit int) ([]*model.Booking, error)
}

// DigestNotifier получатель сводки бронирований, ждущих ручной синхронизации
type DigestNotifier interface {
	NotifyDigest(ctx context.Context, bookings []*model.Booking) error
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	bookings         BookingLifecycle
	notifier         DigestNotifier
	completeInterval time.Duration
	digestInterval   time.Duration
	logger           *zap.Logger
	stopChan         chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
}

// NewScheduler создаёт новый планировщик. notifier может быть nil, тогда сводка не отправляется
func NewScheduler(bookings BookingLifecycle, notifier DigestNotifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		bookings:         bookings,
		notifier:         notifier,
		completeInterval: time.Hour,
		digestInterval:   24 * time.Hour,
		logger:           logger,
		stopChan:         make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")

	s.run(ctx, "complete_past_bookings", s.completeInterval, s.completePastBookings)
	if s.notifier != nil {
		s.run(ctx, "manual_sync_digest", s.digestInterval, s.sendManualSyncDigest)
	}
}

// Stop останавливает фоновые задачи и ждёт их завершения
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

// run выполняет job сразу при старте и затем каждые interval
func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, job func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		job(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				job(ctx)
			case <-s.stopChan:
				s.logger.Info("Background task stopped", zap.String("task", name))
				return
			case <-ctx.Done():
				s.logger.Info("Background task cancelled", zap.String("task", name))
				return
			}
		}
	}()
}

// completePastBookings закрывает прошедшие консультации
func (s *Scheduler) completePastBookings(ctx context.Context) {
	n, err := s.bookings.CompletePastBookings(ctx)
	if err != nil {
		s.logger.Error("Failed to complete past bookings", zap.Error(err))
		return
	}
	s.logger.Debug("Past bookings processed", zap.Int64("completed", n))
}

// sendManualSyncDigest отправляет администратору список бронирований с ручной синхронизацией
func (s *Scheduler) sendManualSyncDigest(ctx context.Context) {
	bookings, err := s.bookings.ListManualSync(ctx, digestLimit)
	if err != nil {
		s.logger.Error("Failed to list manual sync bookings", zap.Error(err))
		return
	}
	if len(bookings) == 0 {
		return
	}

	if err := s.notifier.NotifyDigest(ctx, bookings); err != nil {
		s.logger.Error("Failed to send manual sync digest", zap.Error(err))
		return
	}
	s.logger.Info("Manual sync digest sent", zap.Int("bookings", len(bookings)))
}
