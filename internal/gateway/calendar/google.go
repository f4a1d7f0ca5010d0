package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const DefaultCalendarID = "primary"

// GoogleGateway шлюз к Google Calendar API v3.
// Все вызовы идут через resilience.Client.
type GoogleGateway struct {
	svc        *gcal.Service
	calendarID string
	client     *resilience.Client
	logger     *zap.Logger
}

// NewGoogleGateway создаёт шлюз. opts передаются в клиент Google API
// (например option.WithCredentialsFile или option.WithHTTPClient в тестах).
func NewGoogleGateway(
	ctx context.Context,
	calendarID string,
	client *resilience.Client,
	logger *zap.Logger,
	opts ...option.ClientOption,
) (*GoogleGateway, error) {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}

	opts = append([]option.ClientOption{option.WithScopes(gcal.CalendarScope)}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	return &GoogleGateway{
		svc:        svc,
		calendarID: calendarID,
		client:     client,
		logger:     logger,
	}, nil
}

// VerifyCredentials проверяет доступ к календарю запросом занятости на ближайший час
func (g *GoogleGateway) VerifyCredentials(ctx context.Context) error {
	now := time.Now()
	_, err := g.GetBusyPeriods(ctx, now, now.Add(time.Hour))
	return err
}

// GetBusyPeriods возвращает занятые интервалы календаря за [start, end) одним запросом freeBusy
func (g *GoogleGateway) GetBusyPeriods(ctx context.Context, start, end time.Time) ([]model.BusyPeriod, error) {
	return resilience.Call(ctx, g.client, "get_busy_periods", func(ctx context.Context) ([]model.BusyPeriod, error) {
		resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
			TimeMin: start.UTC().Format(time.RFC3339),
			TimeMax: end.UTC().Format(time.RFC3339),
			Items:   []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
		}).Context(ctx).Do()
		if err != nil {
			return nil, classify(err)
		}

		cal, ok := resp.Calendars[g.calendarID]
		if !ok {
			return nil, resilience.Permanent(fmt.Errorf("calendar %s missing from freeBusy response", g.calendarID))
		}
		if len(cal.Errors) > 0 {
			return nil, calendarError(cal.Errors[0])
		}

		periods := make([]model.BusyPeriod, 0, len(cal.Busy))
		for _, p := range cal.Busy {
			bp, err := parsePeriod(p)
			if err != nil {
				return nil, resilience.Permanent(err)
			}
			periods = append(periods, bp)
		}

		sort.Slice(periods, func(i, j int) bool {
			return periods[i].Start.Before(periods[j].Start)
		})

		return periods, nil
	})
}

// CreateEvent создаёт событие и рассылает приглашения участникам
func (g *GoogleGateway) CreateEvent(ctx context.Context, event model.CalendarEvent) (string, error) {
	return resilience.Call(ctx, g.client, "create_event", func(ctx context.Context) (string, error) {
		created, err := g.svc.Events.Insert(g.calendarID, toGoogleEvent(event)).
			SendUpdates("all").
			Context(ctx).
			Do()
		if err != nil {
			return "", classify(err)
		}
		return created.Id, nil
	})
}

// UpdateEvent обновляет время и описание события
func (g *GoogleGateway) UpdateEvent(ctx context.Context, eventID string, event model.CalendarEvent) error {
	return g.client.Do(ctx, "update_event", func(ctx context.Context) error {
		_, err := g.svc.Events.Patch(g.calendarID, eventID, toGoogleEvent(event)).
			SendUpdates("all").
			Context(ctx).
			Do()
		return classify(err)
	})
}

// DeleteEvent удаляет событие. Уже удалённое событие не считается ошибкой
func (g *GoogleGateway) DeleteEvent(ctx context.Context, eventID string) error {
	return g.client.Do(ctx, "delete_event", func(ctx context.Context) error {
		err := g.svc.Events.Delete(g.calendarID, eventID).
			SendUpdates("all").
			Context(ctx).
			Do()
		if isStatus(err, http.StatusNotFound) || isStatus(err, http.StatusGone) {
			g.logger.Info("Calendar event already removed", zap.String("event_id", eventID))
			return nil
		}
		return classify(err)
	})
}

func toGoogleEvent(event model.CalendarEvent) *gcal.Event {
	attendees := make([]*gcal.EventAttendee, 0, len(event.Attendees))
	for _, email := range event.Attendees {
		if email == "" {
			continue
		}
		attendees = append(attendees, &gcal.EventAttendee{Email: email})
	}

	return &gcal.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start: &gcal.EventDateTime{
			DateTime: event.Start.Format(time.RFC3339),
			TimeZone: event.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: event.End.Format(time.RFC3339),
			TimeZone: event.TimeZone,
		},
		Attendees: attendees,
	}
}

func parsePeriod(p *gcal.TimePeriod) (model.BusyPeriod, error) {
	start, err := time.Parse(time.RFC3339, p.Start)
	if err != nil {
		return model.BusyPeriod{}, fmt.Errorf("parse busy start %q: %w", p.Start, err)
	}
	end, err := time.Parse(time.RFC3339, p.End)
	if err != nil {
		return model.BusyPeriod{}, fmt.Errorf("parse busy end %q: %w", p.End, err)
	}
	return model.BusyPeriod{Start: start, End: end}, nil
}

func calendarError(e *gcal.Error) error {
	err := fmt.Errorf("freeBusy %s: %s", e.Domain, e.Reason)
	if e.Reason == "backendError" || e.Reason == "internalError" {
		return resilience.Transient(err)
	}
	return resilience.Permanent(err)
}

// classify помечает ошибку Google API как временную, постоянную или ошибку авторизации
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		// Сетевые ошибки и таймауты resilience распознаёт сам
		return err
	}

	switch {
	case gerr.Code == http.StatusUnauthorized:
		return resilience.Auth(err)
	case gerr.Code == http.StatusForbidden && rateLimited(gerr):
		return resilience.Transient(err)
	case gerr.Code == http.StatusForbidden:
		return resilience.Auth(err)
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return resilience.Transient(err)
	default:
		return resilience.Permanent(err)
	}
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
