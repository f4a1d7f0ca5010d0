package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/google/uuid"
)

// ErrSlotOverlap вставка или перенос нарушили ограничение на пересечение активных бронирований
var ErrSlotOverlap = errors.New("slot overlaps an active booking")

// BookingReader чтение бронирований
type BookingReader interface {
	FindBookings(ctx context.Context, filter model.BookingFilter) ([]*model.Booking, error)
	CountBookings(ctx context.Context, filter model.BookingFilter) (int, error)
}

// BookingTx операции внутри одной транзакции
type BookingTx interface {
	BookingReader
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	InsertBooking(ctx context.Context, booking *model.Booking) error
	UpdateBooking(ctx context.Context, booking *model.Booking) error
}

// BookingStore хранилище бронирований
type BookingStore interface {
	BookingReader
	GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	UpdateSync(ctx context.Context, id uuid.UUID, patch model.SyncPatch) (*model.Booking, error)
	CompletePast(ctx context.Context, before time.Time) (int64, error)
	// WithinTx выполняет fn в транзакции, предварительно взяв блокировки locks.
	// Ошибка fn откатывает транзакцию.
	WithinTx(ctx context.Context, locks []LockKey, fn func(ctx context.Context, tx BookingTx) error) error
}
