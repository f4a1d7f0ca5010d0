package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Допустимые длительности консультации в минутах
var AllowedDurations = []int{15, 30, 45, 60}

// ValidDuration проверяет длительность слота
func ValidDuration(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

// Interval полуоткрытый интервал [Start, End)
type Interval struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// Expand расширяет интервал на buffer в обе стороны
func (i Interval) Expand(buffer time.Duration) Interval {
	return Interval{Start: i.Start.Add(-buffer), End: i.End.Add(buffer)}
}

// Overlaps проверяет пересечение интервалов после расширения other на buffer.
// Касание концами пересечением не считается.
func Overlaps(candidate, other Interval, buffer time.Duration) bool {
	o := other.Expand(buffer)
	return candidate.Start.Before(o.End) && candidate.End.After(o.Start)
}

// FirstOverlap возвращает первый занятый интервал, пересекающийся с candidate
func FirstOverlap(candidate Interval, occupied []Interval, buffer time.Duration) (Interval, bool) {
	for _, o := range occupied {
		if Overlaps(candidate, o, buffer) {
			return o, true
		}
	}
	return Interval{}, false
}

func (i Interval) String() string {
	return fmt.Sprintf("%s–%s", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// TimeSlot время начала и длительность консультации
type TimeSlot struct {
	startTime time.Time
	duration  int
}

// NewTimeSlot создаёт слот, длительность в минутах
func NewTimeSlot(start time.Time, durationMinutes int) (TimeSlot, error) {
	if !ValidDuration(durationMinutes) {
		return TimeSlot{}, fmt.Errorf("invalid duration %d: allowed %v", durationMinutes, AllowedDurations)
	}
	if start.IsZero() {
		return TimeSlot{}, fmt.Errorf("start time is required")
	}
	return TimeSlot{startTime: start, duration: durationMinutes}, nil
}

func (t TimeSlot) StartTime() time.Time {
	return t.startTime
}

func (t TimeSlot) Duration() int {
	return t.duration
}

func (t TimeSlot) EndTime() time.Time {
	return t.startTime.Add(time.Duration(t.duration) * time.Minute)
}

func (t TimeSlot) Interval() Interval {
	return Interval{Start: t.startTime, End: t.EndTime()}
}

// In возвращает тот же слот в другой временной зоне
func (t TimeSlot) In(loc *time.Location) TimeSlot {
	return TimeSlot{startTime: t.startTime.In(loc), duration: t.duration}
}

type timeSlotJSON struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  int       `json:"duration"`
}

func (t TimeSlot) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeSlotJSON{StartTime: t.startTime, EndTime: t.EndTime(), Duration: t.duration})
}

func (t *TimeSlot) UnmarshalJSON(data []byte) error {
	var raw timeSlotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	slot, err := NewTimeSlot(raw.StartTime, raw.Duration)
	if err != nil {
		return err
	}
	*t = slot
	return nil
}

// BusyPeriod занятый интервал из внешнего календаря
type BusyPeriod struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

func (b BusyPeriod) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}
