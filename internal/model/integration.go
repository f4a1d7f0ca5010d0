package model

import "time"

// CalendarEvent данные события во внешнем календаре
type CalendarEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

// ContactProperties свойства контакта в CRM
type ContactProperties map[string]string
