package model

import "time"

// FrequencyRule ограничение частоты бронирований для одного email.
// Глобальное правило использует WindowDays, правило для длительности - WindowMinutes и Duration.
type FrequencyRule struct {
	MaxBookings   int `json:"max_bookings"`
	WindowDays    int `json:"window_days,omitempty"`
	WindowMinutes int `json:"window_minutes,omitempty"`
	Duration      int `json:"duration,omitempty"`
}

// Window возвращает длину окна правила
func (r FrequencyRule) Window() time.Duration {
	if r.WindowDays > 0 {
		return time.Duration(r.WindowDays) * 24 * time.Hour
	}
	return time.Duration(r.WindowMinutes) * time.Minute
}
