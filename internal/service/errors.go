package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrBookingNotFound = errors.New("booking not found")
	ErrBookingClosed   = errors.New("booking can no longer be changed")
	ErrFrequencyLimit  = errors.New("booking frequency limit exceeded")
	ErrSlotConflict    = errors.New("slot is not available")
)

// ValidationError некорректные входные данные
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FrequencyLimitError превышен лимит бронирований для email.
// Duration == 0 означает глобальное правило.
type FrequencyLimitError struct {
	Limit    int
	Window   time.Duration
	Duration int
}

func (e *FrequencyLimitError) Error() string {
	if e.Duration > 0 {
		return fmt.Sprintf("limit of %d booking(s) of %d minutes within %s of the requested time reached",
			e.Limit, e.Duration, formatWindow(e.Window))
	}
	return fmt.Sprintf("limit of %d booking(s) per %s reached", e.Limit, formatWindow(e.Window))
}

func (e *FrequencyLimitError) Unwrap() error {
	return ErrFrequencyLimit
}

func formatWindow(d time.Duration) string {
	switch {
	case d > 0 && d%(24*time.Hour) == 0:
		return pluralize(int(d/(24*time.Hour)), "day")
	case d > 0 && d%time.Hour == 0:
		return pluralize(int(d/time.Hour), "hour")
	default:
		return pluralize(int(d/time.Minute), "minute")
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Источник конфликта слота
const (
	ConflictSourceBooking  = "booking"
	ConflictSourceCalendar = "calendar"
)

// SlotConflictError слот пересекается с существующим бронированием или событием календаря
type SlotConflictError struct {
	Conflicting model.Interval
	Source      string
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot conflicts with %s %s", e.Source, e.Conflicting)
}

func (e *SlotConflictError) Unwrap() error {
	return ErrSlotConflict
}
