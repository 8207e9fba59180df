package history

// postgres.go persists refresh events so history survives restarts and can
// be shared by several instances pointed at the same database.
//
// The table is created on first use and trimmed to the configured capacity
// after every insert.

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS refresh_history (
	id           UUID PRIMARY KEY,
	trigger      TEXT        NOT NULL,
	outcome      TEXT        NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT      NOT NULL,
	record_count INTEGER     NOT NULL,
	etag         TEXT,
	warning      TEXT,
	error        TEXT
)`

const createIndexSQL = `
CREATE INDEX IF NOT EXISTS refresh_history_started_at_idx
	ON refresh_history (started_at DESC)`

// Postgres stores events in the refresh_history table.
type Postgres struct {
	pool     *pgxpool.Pool
	capacity int
}

// OpenPostgres connects to databaseURL, verifies the connection and makes
// sure the table exists.
func OpenPostgres(ctx context.Context, databaseURL string, capacity int) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := NewPostgres(pool, capacity)
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool. Call Migrate before first use.
func NewPostgres(pool *pgxpool.Pool, capacity int) *Postgres {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Postgres{pool: pool, capacity: capacity}
}

// Migrate creates the table and index if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create refresh_history: %w", err)
	}
	if _, err := p.pool.Exec(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("create refresh_history index: %w", err)
	}
	return nil
}

// Record inserts e and trims the table to capacity.
func (p *Postgres) Record(ctx context.Context, e Event) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		id = uuid.New()
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO refresh_history
			(id, trigger, outcome, started_at, duration_ms, record_count, etag, warning, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pgtype.UUID{Bytes: id, Valid: true},
		e.Trigger,
		e.Outcome,
		e.StartedAt,
		e.Duration.Milliseconds(),
		e.RecordCount,
		nullText(e.ETag),
		nullText(e.Warning),
		nullText(e.Error),
	)
	if err != nil {
		return fmt.Errorf("insert refresh event: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		DELETE FROM refresh_history
		WHERE id IN (
			SELECT id FROM refresh_history
			ORDER BY started_at DESC
			OFFSET $1
		)`, p.capacity)
	if err != nil {
		return fmt.Errorf("trim refresh history: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, trigger, outcome, started_at, duration_ms, record_count, etag, warning, error
		FROM refresh_history
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query refresh history: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func scanEvent(rows pgx.Rows) (Event, error) {
	var (
		id          pgtype.UUID
		trigger     string
		outcome     string
		startedAt   pgtype.Timestamptz
		durationMS  int64
		recordCount int32
		etag        pgtype.Text
		warning     pgtype.Text
		errText     pgtype.Text
	)

	if err := rows.Scan(&id, &trigger, &outcome, &startedAt, &durationMS, &recordCount, &etag, &warning, &errText); err != nil {
		return Event{}, err
	}

	e := Event{
		Trigger:     trigger,
		Outcome:     outcome,
		StartedAt:   startedAt.Time,
		Duration:    time.Duration(durationMS) * time.Millisecond,
		RecordCount: int(recordCount),
	}
	if id.Valid {
		e.ID = uuid.UUID(id.Bytes).String()
	}
	if etag.Valid {
		e.ETag = etag.String
	}
	if warning.Valid {
		e.Warning = warning.String
	}
	if errText.Valid {
		e.Error = errText.String
	}
	return e, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
