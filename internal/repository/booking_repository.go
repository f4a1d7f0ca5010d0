package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, name, company, email, phone, inquiry, start_time, duration, status,
	calendar_event_id, calendar_synced, requires_manual_calendar_sync,
	crm_contact_id, crm_synced, requires_manual_crm_sync,
	created_at, updated_at`

type BookingRepository struct {
	bookingQueries
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{
		bookingQueries: bookingQueries{base.NewRepository(pool)},
		pool:           pool,
	}
}

// WithinTx открывает транзакцию, берёт advisory-блокировки в отсортированном порядке и выполняет fn
func (r *BookingRepository) WithinTx(ctx context.Context, locks []LockKey, fn func(ctx context.Context, tx BookingTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, l := range SortLocks(locks) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, l.Namespace, l.Key); err != nil {
			return fmt.Errorf("acquire lock %d:%d: %w", l.Namespace, l.Key, err)
		}
	}

	if err := fn(ctx, &bookingQueries{base.NewRepository(tx)}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if base.IsExclusionViolation(err) {
			return ErrSlotOverlap
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateSync обновляет флаги синхронизации и возвращает бронирование после изменения
func (r *BookingRepository) UpdateSync(ctx context.Context, id uuid.UUID, patch model.SyncPatch) (*model.Booking, error) {
	sets, args := syncAssignments(patch)
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE bookings SET %s, updated_at = NOW()
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), len(args), bookingColumns)

	booking, err := scanBooking(r.QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("update booking sync: %w", err)
	}
	return booking, nil
}

// CompletePast переводит подтверждённые бронирования, закончившиеся до before, в completed
func (r *BookingRepository) CompletePast(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE status = $2 AND end_time <= $3
	`
	n, err := r.ExecAffected(ctx, query, model.BookingStatusCompleted, model.BookingStatusConfirmed, before)
	if err != nil {
		return 0, fmt.Errorf("complete past bookings: %w", err)
	}
	return n, nil
}

// bookingQueries запросы, общие для пула и транзакции
type bookingQueries struct {
	*base.Repository
}

// GetByID получает бронирование по ID, nil если не найдено
func (q *bookingQueries) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(q.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return booking, nil
}

// GetBookingForUpdate получает бронирование и блокирует строку до конца транзакции
func (q *bookingQueries) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

	booking, err := scanBooking(q.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking for update: %w", err)
	}
	return booking, nil
}

// FindBookings возвращает бронирования по фильтру, по возрастанию времени начала
func (q *bookingQueries) FindBookings(ctx context.Context, filter model.BookingFilter) ([]*model.Booking, error) {
	where, args := buildFilter(filter)
	query := `SELECT ` + bookingColumns + ` FROM bookings` + where + ` ORDER BY start_time ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}

	return bookings, nil
}

// CountBookings считает бронирования по фильтру
func (q *bookingQueries) CountBookings(ctx context.Context, filter model.BookingFilter) (int, error) {
	where, args := buildFilter(filter)

	var count int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return count, nil
}

// InsertBooking сохраняет новое бронирование
func (q *bookingQueries) InsertBooking(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (
			id, name, company, email, phone, inquiry, start_time, end_time, duration, status,
			calendar_event_id, calendar_synced, requires_manual_calendar_sync,
			crm_contact_id, crm_synced, requires_manual_crm_sync
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`

	err := q.QueryRow(
		ctx, query,
		booking.ID,
		booking.Name,
		booking.Company,
		booking.Email,
		booking.Phone,
		booking.Inquiry,
		booking.Slot.StartTime(),
		booking.Slot.EndTime(),
		booking.Slot.Duration(),
		booking.Status,
		booking.CalendarEventID,
		booking.CalendarSynced,
		booking.RequiresManualCalendarSync,
		booking.CRMContactID,
		booking.CRMSynced,
		booking.RequiresManualCRMSync,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)

	if err != nil {
		if base.IsExclusionViolation(err) {
			return ErrSlotOverlap
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// UpdateBooking сохраняет данные клиента, слот и статус. Флаги синхронизации меняет только UpdateSync
func (q *bookingQueries) UpdateBooking(ctx context.Context, booking *model.Booking) error {
	query := `
		UPDATE bookings
		SET name = $2, company = $3, email = $4, phone = $5, inquiry = $6,
			start_time = $7, end_time = $8, duration = $9, status = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := q.QueryRow(
		ctx, query,
		booking.ID,
		booking.Name,
		booking.Company,
		booking.Email,
		booking.Phone,
		booking.Inquiry,
		booking.Slot.StartTime(),
		booking.Slot.EndTime(),
		booking.Slot.Duration(),
		booking.Status,
	).Scan(&booking.UpdatedAt)

	if err != nil {
		if base.IsExclusionViolation(err) {
			return ErrSlotOverlap
		}
		if base.IsNotFound(err) {
			return fmt.Errorf("update booking %s: %w", booking.ID, err)
		}
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b        model.Booking
		start    time.Time
		duration int
	)

	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Company,
		&b.Email,
		&b.Phone,
		&b.Inquiry,
		&start,
		&duration,
		&b.Status,
		&b.CalendarEventID,
		&b.CalendarSynced,
		&b.RequiresManualCalendarSync,
		&b.CRMContactID,
		&b.CRMSynced,
		&b.RequiresManualCRMSync,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	slot, err := model.NewTimeSlot(start, duration)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	b.Slot = slot

	return &b, nil
}

// buildFilter собирает WHERE по непустым полям фильтра
func buildFilter(f model.BookingFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !f.OverlapStart.IsZero() {
		add("end_time > $%d", f.OverlapStart)
	}
	if !f.OverlapEnd.IsZero() {
		add("start_time < $%d", f.OverlapEnd)
	}
	if !f.StartFrom.IsZero() {
		add("start_time >= $%d", f.StartFrom)
	}
	if !f.StartTo.IsZero() {
		add("start_time <= $%d", f.StartTo)
	}
	if !f.CreatedSince.IsZero() {
		add("created_at >= $%d", f.CreatedSince)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.Email != "" {
		add("email = $%d", strings.ToLower(strings.TrimSpace(f.Email)))
	}
	if f.Duration > 0 {
		add("duration = $%d", f.Duration)
	}
	if f.ExcludeID != nil {
		add("id <> $%d", *f.ExcludeID)
	}
	if f.ManualSync {
		conds = append(conds, "(requires_manual_calendar_sync OR requires_manual_crm_sync)")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// syncAssignments SET-выражения для ненулевых полей патча
func syncAssignments(p model.SyncPatch) ([]string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	switch {
	case p.CalendarEventID != nil:
		set("calendar_event_id", *p.CalendarEventID)
	case p.ClearCalendarEventID:
		sets = append(sets, "calendar_event_id = NULL")
	}
	if p.CalendarSynced != nil {
		set("calendar_synced", *p.CalendarSynced)
	}
	if p.RequiresManualCalendarSync != nil {
		set("requires_manual_calendar_sync", *p.RequiresManualCalendarSync)
	}
	if p.CRMContactID != nil {
		set("crm_contact_id", *p.CRMContactID)
	}
	if p.CRMSynced != nil {
		set("crm_synced", *p.CRMSynced)
	}
	if p.RequiresManualCRMSync != nil {
		set("requires_manual_crm_sync", *p.RequiresManualCRMSync)
	}

	return sets, args
}
