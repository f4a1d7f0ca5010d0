package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/resilience"
)

type statusDisplay struct {
	Emoji string
	Text  string
}

// bookingStatusDisplay возвращает emoji и текст для статуса бронирования
func bookingStatusDisplay(status model.BookingStatus) statusDisplay {
	displays := map[model.BookingStatus]statusDisplay{
		model.BookingStatusPending:   {"⏳", "Создаётся"},
		model.BookingStatusConfirmed: {"✅", "Подтверждена"},
		model.BookingStatusCompleted: {"✔️", "Завершена"},
		model.BookingStatusCancelled: {"❌", "Отменена"},
		model.BookingStatusNoShow:    {"🚫", "Клиент не пришёл"},
	}

	if display, ok := displays[status]; ok {
		return display
	}
	return statusDisplay{"❓", "Неизвестно"}
}

func circuitStateEmoji(state resilience.State) string {
	switch state {
	case resilience.StateClosed:
		return "🟢"
	case resilience.StateHalfOpen:
		return "🟡"
	default:
		return "🔴"
	}
}

// pluralizeBookings возвращает правильное склонение слова "запись"
func pluralizeBookings(count int) string {
	if count%10 == 1 && count%100 != 11 {
		return "запись"
	}
	if count%10 >= 2 && count%10 <= 4 && (count%100 < 10 || count%100 >= 20) {
		return "записи"
	}
	return "записей"
}

// formatDuration форматирует длительность в минутах
func formatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d мин", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d ч", hours)
	}
	return fmt.Sprintf("%d ч %d мин", hours, mins)
}

func formatSlot(slot model.TimeSlot, loc *time.Location) string {
	start := slot.StartTime().In(loc)
	return fmt.Sprintf("%s (%s, %s)", start.Format("02.01.2006 15:04"), formatDuration(slot.Duration()), loc)
}

// pendingParts перечисляет интеграции, которые нужно синхронизировать вручную
func pendingParts(b *model.Booking) string {
	var parts []string
	if b.RequiresManualCalendarSync {
		parts = append(parts, "календарь")
	}
	if b.RequiresManualCRMSync {
		parts = append(parts, "CRM")
	}
	if len(parts) == 0 {
		return "нет"
	}
	return strings.Join(parts, ", ")
}

// formatBooking карточка бронирования в HTML разметке
func formatBooking(b *model.Booking, loc *time.Location) string {
	status := bookingStatusDisplay(b.Status)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b>", status.Emoji, html.EscapeString(b.Name))
	if b.Company != "" {
		fmt.Fprintf(&sb, " (%s)", html.EscapeString(b.Company))
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "📧 %s\n", html.EscapeString(b.Email))
	if b.Phone != nil && *b.Phone != "" {
		fmt.Fprintf(&sb, "📞 %s\n", html.EscapeString(*b.Phone))
	}
	fmt.Fprintf(&sb, "🗓 %s\n", formatSlot(b.Slot, loc))
	fmt.Fprintf(&sb, "Статус: %s\n", status.Text)
	fmt.Fprintf(&sb, "Ручная синхронизация: %s\n", pendingParts(b))
	fmt.Fprintf(&sb, "ID: <code>%s</code>", b.ID)
	return sb.String()
}

// formatHealth состояние шлюзов интеграций
func formatHealth(states []resilience.CircuitState, loc *time.Location) string {
	if len(states) == 0 {
		return "ℹ️ Интеграции не настроены"
	}

	var sb strings.Builder
	sb.WriteString("🩺 <b>Состояние интеграций</b>\n")
	for _, s := range states {
		fmt.Fprintf(&sb, "\n%s <b>%s</b>: %s", circuitStateEmoji(s.State), html.EscapeString(s.Gateway), s.State)
		if s.FailureCount > 0 {
			fmt.Fprintf(&sb, "\nОшибок подряд: %d", s.FailureCount)
		}
		if s.LastFailureTime != nil {
			fmt.Fprintf(&sb, "\nПоследняя ошибка: %s", s.LastFailureTime.In(loc).Format("02.01.2006 15:04:05"))
		}
		if s.NextRetryTime != nil {
			fmt.Fprintf(&sb, "\nСледующая попытка: %s", s.NextRetryTime.In(loc).Format("02.01.2006 15:04:05"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatManualSyncList список бронирований, ждущих ручной синхронизации
func formatManualSyncList(title string, bookings []*model.Booking, loc *time.Location) string {
	if len(bookings) == 0 {
		return "✅ Нет записей, требующих ручной синхронизации"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d %s\n", title, len(bookings), pluralizeBookings(len(bookings)))
	for _, b := range bookings {
		sb.WriteString("\n")
		sb.WriteString(formatBooking(b, loc))
		sb.WriteString("\n")
	}
	sb.WriteString("\nПовторить синхронизацию: /retry &lt;id&gt;")
	return sb.String()
}
