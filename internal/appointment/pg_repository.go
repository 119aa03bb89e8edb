package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
)

// pgxIface is the subset of *pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type pgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool pgxIface
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithPool(pool pgxIface) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `id, practitioner_id, client_id, booking_date, start_minute, end_minute, status, created_at, updated_at`

// Helpers

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b          Booking
		day        time.Time
		start, end int
		status     string
	)
	err := row.Scan(
		&b.ID,
		&b.PractitionerID,
		&b.ClientID,
		&day,
		&start,
		&end,
		&status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapPgError(err)
	}
	b.Date = civil.DateOf(day)
	b.Start = availability.TimeFromMinutes(start)
	b.End = availability.TimeFromMinutes(end)
	b.Status = BookingStatus(status)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return result, nil
}

// mapPgError turns driver failures into ledger errors. Exclusion and
// serialization failures mean another writer won the interval.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01", "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrSlotConflict, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func calendarLockKey(practitionerID uuid.UUID, date civil.Date) string {
	return "calendar:" + practitionerID.String() + ":" + date.String()
}

func lockCalendarDay(ctx context.Context, tx pgx.Tx, practitionerID uuid.UUID, date civil.Date) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, calendarLockKey(practitionerID, date))
	if err != nil {
		return fmt.Errorf("advisory lock: %w", mapPgError(err))
	}
	return nil
}

// countOverlapping counts interval-holding bookings intersecting s, ignoring
// the booking with id exclude.
func countOverlapping(ctx context.Context, tx pgx.Tx, s Slot, exclude uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE practitioner_id = $1
		  AND booking_date = $2::date
		  AND status <> 'cancelled'
		  AND start_minute < $4
		  AND end_minute > $3
		  AND id <> $5
	`, s.PractitionerID, s.Date.String(), availability.Minutes(s.Start), availability.Minutes(s.End), exclude).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("overlap check: %w", mapPgError(err))
	}
	return n, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, e HistoryEntry) error {
	var from *string
	if e.FromStatus != "" {
		s := string(e.FromStatus)
		from = &s
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_history (booking_id, action, from_status, to_status, actor, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, bookingID, string(e.Action), from, string(e.ToStatus), e.Actor, e.Reason, e.At)
	if err != nil {
		return fmt.Errorf("insert history: %w", mapPgError(err))
	}
	return nil
}

// Interface methods

func (r *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT action, coalesce(from_status, ''), to_status, actor, reason, at
		FROM booking_history
		WHERE booking_id = $1
		ORDER BY at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", mapPgError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                      HistoryEntry
			action, from, toStatus string
		)
		if err := rows.Scan(&action, &from, &toStatus, &e.Actor, &e.Reason, &e.At); err != nil {
			return nil, mapPgError(err)
		}
		e.Action = Action(action)
		e.FromStatus = BookingStatus(from)
		e.ToStatus = BookingStatus(toStatus)
		b.History = append(b.History, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return b, nil
}

func (r *PgRepository) ListForPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE practitioner_id = $1
		  AND booking_date BETWEEN $2::date AND $3::date
		ORDER BY booking_date, start_minute
	`, practitionerID, from.String(), to.String())
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectBookings(rows)
}

func (r *PgRepository) InsertIfFree(ctx context.Context, b Booking, entry HistoryEntry) (_ *Booking, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", mapPgError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockCalendarDay(ctx, tx, b.PractitionerID, b.Date); err != nil {
		return nil, err
	}
	n, err := countOverlapping(ctx, tx, b.Slot(), uuid.Nil)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		err = ErrSlotConflict
		return nil, err
	}

	created, err := scanBooking(tx.QueryRow(ctx, `
		INSERT INTO bookings (id, practitioner_id, client_id, booking_date, start_minute, end_minute, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $8)
		RETURNING `+bookingColumns,
		b.ID, b.PractitionerID, b.ClientID, b.Date.String(),
		availability.Minutes(b.Start), availability.Minutes(b.End), string(b.Status), b.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	if err = insertHistory(ctx, tx, created.ID, entry); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", mapPgError(err))
	}

	created.History = []HistoryEntry{entry}
	return created, nil
}

// UpdateStatus is a compare-and-set on status: it only applies when the row
// is still in from.
func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, entry HistoryEntry) (_ *Booking, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", mapPgError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	updated, err := scanBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = $4
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, string(to), string(from), entry.At))
	if errors.Is(err, ErrNotFound) {
		err = r.missingOrStale(ctx, tx, id)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err = insertHistory(ctx, tx, id, entry); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", mapPgError(err))
	}
	return updated, nil
}

// MoveIfFree changes the interval of a booking still in status expect. The
// old and new calendar days are locked in a fixed order so two opposite
// moves cannot deadlock.
func (r *PgRepository) MoveIfFree(ctx context.Context, id uuid.UUID, expect BookingStatus, to Slot, entry HistoryEntry) (_ *Booking, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", mapPgError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if current.Status != expect {
		err = ErrStaleStatus
		return nil, err
	}

	days := []civil.Date{current.Date, to.Date}
	if to.Date.Before(current.Date) {
		days = []civil.Date{to.Date, current.Date}
	}
	for i, d := range days {
		if i > 0 && d == days[0] {
			break
		}
		if err = lockCalendarDay(ctx, tx, current.PractitionerID, d); err != nil {
			return nil, err
		}
	}

	n, err := countOverlapping(ctx, tx, to, id)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		err = ErrSlotConflict
		return nil, err
	}

	moved, err := scanBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET booking_date = $2::date,
		    start_minute = $3,
		    end_minute = $4,
		    updated_at = $5
		WHERE id = $1
		RETURNING `+bookingColumns,
		id, to.Date.String(), availability.Minutes(to.Start), availability.Minutes(to.End), entry.At))
	if err != nil {
		return nil, fmt.Errorf("move booking: %w", err)
	}
	if err = insertHistory(ctx, tx, id, entry); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", mapPgError(err))
	}
	return moved, nil
}

func (r *PgRepository) missingOrStale(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapPgError(err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleStatus
}
