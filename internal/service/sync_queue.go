package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("sync queue is full")
	ErrQueueClosed = errors.New("sync queue is closed")
)

type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionCancel SyncAction = "cancel"
	SyncActionRetry  SyncAction = "retry"
)

// SyncTask синхронизация одного бронирования с календарём и CRM после коммита
type SyncTask struct {
	ID         uuid.UUID
	Action     SyncAction
	BookingID  uuid.UUID
	EnqueuedAt time.Time
}

func NewSyncTask(action SyncAction, bookingID uuid.UUID) SyncTask {
	return SyncTask{
		ID:         uuid.New(),
		Action:     action,
		BookingID:  bookingID,
		EnqueuedAt: time.Now(),
	}
}

// SyncHandler выполняет задачу. Abandon вызывается для задачи, которая не будет выполнена
type SyncHandler interface {
	Handle(ctx context.Context, task SyncTask)
	Abandon(ctx context.Context, task SyncTask, reason error)
}

// SyncQueue ограниченная очередь задач синхронизации с пулом воркеров.
// Переполнение не блокирует запрос: задача сразу уходит в Abandon.
type SyncQueue struct {
	tasks       chan SyncTask
	handler     SyncHandler
	workers     int
	taskTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

func NewSyncQueue(handler SyncHandler, workers, size int, taskTimeout time.Duration, logger *zap.Logger) *SyncQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}
	return &SyncQueue{
		tasks:       make(chan SyncTask, size),
		handler:     handler,
		workers:     workers,
		taskTimeout: taskTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start запускает воркеров. Отмена ctx не прерывает уже взятые задачи, их ограничивает taskTimeout
func (q *SyncQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.logger.Info("Starting sync workers", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.tasks)))

	base := context.WithoutCancel(ctx)
	p := pool.New().WithMaxGoroutines(q.workers)

	go func() {
		defer close(q.done)
		for task := range q.tasks {
			p.Go(func() {
				q.run(base, task)
			})
		}
		p.Wait()
	}()
}

// Enqueue ставит задачу в очередь не блокируясь
func (q *SyncQueue) Enqueue(ctx context.Context, task SyncTask) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.handler.Abandon(ctx, task, ErrQueueClosed)
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		q.mu.Unlock()
		return nil
	default:
	}
	q.mu.Unlock()

	q.logger.Error("Sync queue is full, booking requires manual sync",
		zap.String("task_id", task.ID.String()),
		zap.String("booking_id", task.BookingID.String()),
		zap.String("action", string(task.Action)),
	)
	q.handler.Abandon(ctx, task, ErrQueueFull)
	return ErrQueueFull
}

// Len количество задач, ожидающих воркера
func (q *SyncQueue) Len() int {
	return len(q.tasks)
}

// Stop закрывает очередь и ждёт выполнения всех принятых задач
func (q *SyncQueue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return
	}
	<-q.done
	q.logger.Info("Sync workers stopped")
}

func (q *SyncQueue) run(base context.Context, task SyncTask) {
	ctx, cancel := context.WithTimeout(base, q.taskTimeout)
	defer cancel()

	var pc panics.Catcher
	pc.Try(func() {
		q.handler.Handle(ctx, task)
	})

	if r := pc.Recovered(); r != nil {
		err := fmt.Errorf("sync task panicked: %w", r.AsError())
		q.logger.Error("Sync task failed",
			zap.String("task_id", task.ID.String()),
			zap.String("booking_id", task.BookingID.String()),
			zap.Error(err),
		)
		q.handler.Abandon(base, task, err)
	}
}
