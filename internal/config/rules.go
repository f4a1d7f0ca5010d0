package config

import (
	"fmt"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
)

// BusinessRules параметры расписания и ограничений на запись
type BusinessRules struct {
	Location       *time.Location
	StartHour      int
	EndHour        int
	Days           map[time.Weekday]bool
	Buffer         time.Duration
	MinAdvance     time.Duration
	MaxRangeDays   int
	FrequencyLimit model.FrequencyRule
	DurationLimits map[int]model.FrequencyRule
	AdminEmail     string
}

// DefaultBusinessRules Пн-Пт 09:00-17:00 UTC, буфер 15 минут, запись минимум за сутки
func DefaultBusinessRules() *BusinessRules {
	return &BusinessRules{
		Location:  time.UTC,
		StartHour: 9,
		EndHour:   17,
		Days: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		Buffer:         15 * time.Minute,
		MinAdvance:     24 * time.Hour,
		MaxRangeDays:   30,
		FrequencyLimit: model.FrequencyRule{MaxBookings: 2, WindowDays: 30},
		DurationLimits: map[int]model.FrequencyRule{
			15: {Duration: 15, MaxBookings: 1, WindowMinutes: 1440},
		},
	}
}

func (r *BusinessRules) Validate() error {
	if r.Location == nil {
		return fmt.Errorf("timezone is required")
	}
	if r.StartHour < 0 || r.EndHour > 24 || r.StartHour >= r.EndHour {
		return fmt.Errorf("invalid business hours %d-%d", r.StartHour, r.EndHour)
	}
	if r.Buffer < 0 || r.MinAdvance < 0 {
		return fmt.Errorf("buffer and minimum advance must not be negative")
	}
	if r.MaxRangeDays <= 0 {
		return fmt.Errorf("max range days must be positive")
	}
	if r.FrequencyLimit.MaxBookings <= 0 || r.FrequencyLimit.WindowDays <= 0 {
		return fmt.Errorf("invalid frequency limit %d per %d days", r.FrequencyLimit.MaxBookings, r.FrequencyLimit.WindowDays)
	}
	return nil
}

// DayWindow возвращает рабочие часы дня, в который попадает day, и false для нерабочего дня
func (r *BusinessRules) DayWindow(day time.Time) (model.Interval, bool) {
	local := day.In(r.Location)
	if !r.Days[local.Weekday()] {
		return model.Interval{}, false
	}
	y, m, d := local.Date()
	return model.Interval{
		Start: time.Date(y, m, d, r.StartHour, 0, 0, 0, r.Location),
		End:   time.Date(y, m, d, r.EndHour, 0, 0, 0, r.Location),
	}, true
}

// WithinBusinessHours проверяет что слот целиком лежит в рабочих часах своего дня
func (r *BusinessRules) WithinBusinessHours(slot model.TimeSlot) bool {
	window, ok := r.DayWindow(slot.StartTime())
	if !ok {
		return false
	}
	return !slot.StartTime().Before(window.Start) && !slot.EndTime().After(window.End)
}

// DurationLimit возвращает правило частоты для длительности
func (r *BusinessRules) DurationLimit(duration int) (model.FrequencyRule, bool) {
	rule, ok := r.DurationLimits[duration]
	return rule, ok
}
