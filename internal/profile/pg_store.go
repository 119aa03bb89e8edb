package profile

import (
	"context"
	"encoding/json"
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

type pgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore reads practitioners written by either generation of the profile
// service. Older rows keep availability in available_days/available_hours
// and the specialty in profession.
type PgStore struct {
	pool pgxIface
	now  func() time.Time
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, now: time.Now}
}

func newPgStoreWithPool(pool pgxIface, now func() time.Time) *PgStore {
	return &PgStore{pool: pool, now: now}
}

const practitionerColumns = `id, name, coalesce(specialty, profession, ''), time_zone, slot_minutes, lead_time_minutes,
	availability, available_days, available_hours, created_at, updated_at`

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var (
		p                      Practitioner
		leadMinutes            int
		canonical, days, hours []byte
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialty,
		&p.TimeZone,
		&p.SlotMinutes,
		&leadMinutes,
		&canonical,
		&days,
		&hours,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.LeadTime = time.Duration(leadMinutes) * time.Minute

	weekly, err := decodeAvailability(canonical, days, hours)
	if err != nil {
		return nil, fmt.Errorf("practitioner %s: %w", p.ID, err)
	}
	p.Weekly = weekly
	return &p, nil
}

// decodeAvailability prefers the canonical column and falls back to the
// legacy pair. A row with neither gets the all-closed default template.
func decodeAvailability(canonical, days, hours []byte) (availability.WeeklyAvailability, error) {
	if len(canonical) > 0 && string(canonical) != "null" {
		var w availability.WeeklyAvailability
		if err := json.Unmarshal(canonical, &w); err != nil {
			return w, fmt.Errorf("decode availability: %w", err)
		}
		return w, w.Validate()
	}
	if len(days) == 0 && len(hours) == 0 {
		return availability.NewWeeklyAvailability(), nil
	}

	var legacy availability.LegacyAvailability
	if len(days) > 0 {
		if err := json.Unmarshal(days, &legacy.AvailableDays); err != nil {
			return availability.WeeklyAvailability{}, fmt.Errorf("decode available_days: %w", err)
		}
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &legacy.AvailableHours); err != nil {
			return availability.WeeklyAvailability{}, fmt.Errorf("decode available_hours: %w", err)
		}
	}
	return availability.FromLegacy(legacy)
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	p, err := scanPractitioner(s.pool.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	overrides, err := s.listOverrides(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Overrides = overrides
	return p, nil
}

// List returns practitioners ordered by name. Overrides are not loaded.
func (s *PgStore) List(ctx context.Context) ([]Practitioner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PgStore) Create(ctx context.Context, p Practitioner) (_ *Practitioner, err error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	canonical, err := json.Marshal(p.Weekly)
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO practitioners (id, name, specialty, time_zone, slot_minutes, lead_time_minutes, availability, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, p.ID, p.Name, nullable(p.Specialty), p.TimeZone, p.SlotMinutes, int(p.LeadTime/time.Minute), canonical, now)
	if err != nil {
		return nil, fmt.Errorf("insert practitioner: %w", err)
	}
	for _, o := range p.Overrides {
		if err = upsertOverride(ctx, tx, p.ID, o); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	p.CreatedAt, p.UpdatedAt = now, now
	return &p, nil
}

// ImportLegacy stores a practitioner in the older row shape. Used by the
// seeder to keep both read paths populated.
func (s *PgStore) ImportLegacy(ctx context.Context, p Practitioner, profession string, legacy availability.LegacyAvailability) (uuid.UUID, error) {
	days, err := json.Marshal(legacy.AvailableDays)
	if err != nil {
		return uuid.Nil, err
	}
	hours, err := json.Marshal(legacy.AvailableHours)
	if err != nil {
		return uuid.Nil, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO practitioners (id, name, profession, time_zone, slot_minutes, lead_time_minutes, available_days, available_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, p.ID, p.Name, nullable(profession), p.TimeZone, p.SlotMinutes, int(p.LeadTime/time.Minute), days, hours, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert legacy practitioner: %w", err)
	}
	return p.ID, nil
}

// SaveAvailability writes the canonical shape and clears the legacy columns
// so the row has a single source of truth from then on.
func (s *PgStore) SaveAvailability(ctx context.Context, id uuid.UUID, weekly availability.WeeklyAvailability) error {
	if err := weekly.Validate(); err != nil {
		return err
	}
	canonical, err := json.Marshal(weekly)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE practitioners
		SET availability = $2,
		    available_days = NULL,
		    available_hours = NULL,
		    updated_at = $3
		WHERE id = $1
	`, id, canonical, s.now().UTC())
	if err != nil {
		return fmt.Errorf("save availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) PutOverride(ctx context.Context, id uuid.UUID, o availability.Override) error {
	if err := o.Validate(); err != nil {
		return err
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM practitioners WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return upsertOverride(ctx, s.pool, id, o)
}

func (s *PgStore) DeleteOverride(ctx context.Context, id uuid.UUID, date civil.Date) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM availability_overrides
		WHERE practitioner_id = $1 AND override_date = $2::date
	`, id, date.String())
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) listOverrides(ctx context.Context, id uuid.UUID) ([]availability.Override, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT override_date, start_minute, end_minute, is_available
		FROM availability_overrides
		WHERE practitioner_id = $1
		ORDER BY override_date
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	defer rows.Close()

	var out []availability.Override
	for rows.Next() {
		var (
			day        time.Time
			start, end *int
			o          availability.Override
		)
		if err := rows.Scan(&day, &start, &end, &o.IsAvailable); err != nil {
			return nil, err
		}
		o.Date = civil.DateOf(day)
		if start != nil {
			o.Start = availability.TimeFromMinutes(*start)
		}
		if end != nil {
			o.End = availability.TimeFromMinutes(*end)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertOverride(ctx context.Context, db execer, id uuid.UUID, o availability.Override) error {
	var start, end *int
	if o.IsAvailable {
		s, e := availability.Minutes(o.Start), availability.Minutes(o.End)
		start, end = &s, &e
	}
	_, err := db.Exec(ctx, `
		INSERT INTO availability_overrides (practitioner_id, override_date, start_minute, end_minute, is_available)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (practitioner_id, override_date)
		DO UPDATE SET start_minute = EXCLUDED.start_minute,
		              end_minute = EXCLUDED.end_minute,
		              is_available = EXCLUDED.is_available
	`, id, o.Date.String(), start, end, o.IsAvailable)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
