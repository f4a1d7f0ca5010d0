package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
)

// CalendarGateway внешний календарь
type CalendarGateway interface {
	GetBusyPeriods(ctx context.Context, start, end time.Time) ([]model.BusyPeriod, error)
	CreateEvent(ctx context.Context, event model.CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, eventID string, event model.CalendarEvent) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// CRMGateway внешняя CRM
type CRMGateway interface {
	UpsertContact(ctx context.Context, email string, props model.ContactProperties) (string, error)
}

// Notifier уведомления администратору
type Notifier interface {
	NotifyManualSync(ctx context.Context, booking *model.Booking, reason string) error
	NotifyDigest(ctx context.Context, bookings []*model.Booking) error
}
