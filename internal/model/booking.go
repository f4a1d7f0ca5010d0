package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Создано, ещё не закоммичено
	BookingStatusConfirmed BookingStatus = "confirmed" // Подтверждено
	BookingStatusCancelled BookingStatus = "cancelled" // Отменено
	BookingStatusCompleted BookingStatus = "completed" // Завершено
	BookingStatusNoShow    BookingStatus = "no_show"   // Клиент не пришёл
)

// Active возвращает true для статусов, которые занимают слот
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// Valid проверяет что статус известен
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusCompleted, BookingStatusNoShow:
		return true
	}
	return false
}

// ContactDetails данные клиента из формы записи
type ContactDetails struct {
	Name    string  `json:"name"`
	Company string  `json:"company"`
	Email   string  `json:"email"`
	Phone   *string `json:"phone,omitempty"`
	Inquiry string  `json:"inquiry"`
}

type Booking struct {
	ID uuid.UUID `json:"id"`
	ContactDetails
	Slot   TimeSlot      `json:"slot"`
	Status BookingStatus `json:"status"`

	// Состояние синхронизации с календарём
	CalendarEventID            *string `json:"calendar_event_id"`
	CalendarSynced             bool    `json:"calendar_synced"`
	RequiresManualCalendarSync bool    `json:"requires_manual_calendar_sync"`

	// Состояние синхронизации с CRM
	CRMContactID          *string `json:"crm_contact_id"`
	CRMSynced             bool    `json:"crm_synced"`
	RequiresManualCRMSync bool    `json:"requires_manual_crm_sync"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Interval возвращает занятый бронированием интервал
func (b *Booking) Interval() Interval {
	return b.Slot.Interval()
}

// NeedsManualSync показывает, требует ли бронирование ручной синхронизации
func (b *Booking) NeedsManualSync() bool {
	return b.RequiresManualCalendarSync || b.RequiresManualCRMSync
}

// OccupyingStatuses статусы, при которых бронирование занимает время в расписании
var OccupyingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusCompleted,
	BookingStatusNoShow,
}

// CountedStatuses статусы, которые учитываются глобальным ограничением частоты
var CountedStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusCompleted,
}

// BookingFilter условия выборки бронирований.
// Нулевые значения полей не ограничивают выборку.
type BookingFilter struct {
	// Бронирования, пересекающиеся с [OverlapStart, OverlapEnd)
	OverlapStart time.Time
	OverlapEnd   time.Time
	// Начало бронирования в [StartFrom, StartTo], границы включительно
	StartFrom    time.Time
	StartTo      time.Time
	CreatedSince time.Time
	Statuses     []BookingStatus
	Email        string
	Duration     int
	ExcludeID    *uuid.UUID
	ManualSync   bool
	Limit        int
}

// SyncPatch изменение флагов синхронизации.
// Nil означает "не менять".
type SyncPatch struct {
	CalendarEventID            *string
	ClearCalendarEventID       bool
	CalendarSynced             *bool
	RequiresManualCalendarSync *bool
	CRMContactID               *string
	CRMSynced                  *bool
	RequiresManualCRMSync      *bool
}

// CalendarSyncedPatch отмечает успешную синхронизацию с календарём
func CalendarSyncedPatch(eventID string) SyncPatch {
	return SyncPatch{
		CalendarEventID:            &eventID,
		CalendarSynced:             boolPtr(true),
		RequiresManualCalendarSync: boolPtr(false),
	}
}

// CalendarManualPatch отмечает что календарь нужно синхронизировать вручную
func CalendarManualPatch() SyncPatch {
	return SyncPatch{
		CalendarSynced:             boolPtr(false),
		RequiresManualCalendarSync: boolPtr(true),
	}
}

// CalendarRemovedPatch отмечает удаление события из календаря
func CalendarRemovedPatch() SyncPatch {
	return SyncPatch{
		ClearCalendarEventID:       true,
		CalendarSynced:             boolPtr(true),
		RequiresManualCalendarSync: boolPtr(false),
	}
}

// CRMSyncedPatch отмечает успешную синхронизацию с CRM
func CRMSyncedPatch(contactID string) SyncPatch {
	return SyncPatch{
		CRMContactID:          &contactID,
		CRMSynced:             boolPtr(true),
		RequiresManualCRMSync: boolPtr(false),
	}
}

// CRMManualPatch отмечает что CRM нужно синхронизировать вручную
func CRMManualPatch() SyncPatch {
	return SyncPatch{
		CRMSynced:             boolPtr(false),
		RequiresManualCRMSync: boolPtr(true),
	}
}

// Apply применяет изменение к бронированию в памяти
func (p SyncPatch) Apply(b *Booking) {
	if p.ClearCalendarEventID {
		b.CalendarEventID = nil
	}
	if p.CalendarEventID != nil {
		id := *p.CalendarEventID
		b.CalendarEventID = &id
	}
	if p.CalendarSynced != nil {
		b.CalendarSynced = *p.CalendarSynced
	}
	if p.RequiresManualCalendarSync != nil {
		b.RequiresManualCalendarSync = *p.RequiresManualCalendarSync
	}
	if p.CRMContactID != nil {
		id := *p.CRMContactID
		b.CRMContactID = &id
	}
	if p.CRMSynced != nil {
		b.CRMSynced = *p.CRMSynced
	}
	if p.RequiresManualCRMSync != nil {
		b.RequiresManualCRMSync = *p.RequiresManualCRMSync
	}
}

func boolPtr(v bool) *bool {
	return &v
}
