package conference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callbridge/pkg/types"
)

// Schema is the DDL for the conference_sessions table. Apply it with
// [PostgresStore.Migrate] or during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conference_sessions (
    conference_id   TEXT PRIMARY KEY,
    source_language TEXT NOT NULL,
    target_language TEXT NOT NULL,
    bot_call_id     TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    events          JSONB NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conference_sessions_bot ON conference_sessions(bot_call_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. The event log is kept in a
// JSONB array column.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. Call
// [PostgresStore.Migrate] before first use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pgx pool for dsn and verifies it with a ping. The caller
// owns the pool and must Close it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("conference: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("conference: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("conference: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("conference: migrate: %w", err)
	}
	return nil
}

// Put implements [Store].
func (s *PostgresStore) Put(ctx context.Context, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	events := sess.Events
	if events == nil {
		events = []Event{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("conference: marshal events: %w", err)
	}

	const query = `
		INSERT INTO conference_sessions (
			conference_id, source_language, target_language, bot_call_id, status, events
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (conference_id) DO UPDATE SET
			source_language = EXCLUDED.source_language,
			target_language = EXCLUDED.target_language,
			bot_call_id = EXCLUDED.bot_call_id,
			status = EXCLUDED.status,
			events = EXCLUDED.events,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		sess.ConferenceID, string(sess.SourceLanguage), string(sess.TargetLanguage),
		sess.BotCallID, string(sess.Status), eventsJSON,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("conference: put %q: %w", sess.ConferenceID, err)
	}
	return nil
}

const selectColumns = `
	SELECT conference_id, source_language, target_language, bot_call_id, status,
	       events, created_at, updated_at
	FROM conference_sessions`

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, conferenceID string) (*Session, error) {
	row := s.db.QueryRow(ctx, selectColumns+` WHERE conference_id = $1`, conferenceID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, conferenceID)
		}
		return nil, fmt.Errorf("conference: get %q: %w", conferenceID, err)
	}
	return sess, nil
}

// AppendEvent implements [Store].
func (s *PostgresStore) AppendEvent(ctx context.Context, conferenceID string, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	evJSON, err := json.Marshal([]Event{ev})
	if err != nil {
		return fmt.Errorf("conference: marshal event: %w", err)
	}

	const query = `
		UPDATE conference_sessions
		SET events = events || $2::jsonb, updated_at = $3
		WHERE conference_id = $1`
	tag, err := s.db.Exec(ctx, query, conferenceID, evJSON, ev.At)
	if err != nil {
		return fmt.Errorf("conference: append event %q: %w", conferenceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, conferenceID)
	}
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, conferenceID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM conference_sessions WHERE conference_id = $1`, conferenceID); err != nil {
		return fmt.Errorf("conference: delete %q: %w", conferenceID, err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.Query(ctx, selectColumns+` ORDER BY created_at, conference_id`)
	if err != nil {
		return nil, fmt.Errorf("conference: list: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("conference: list scan: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conference: list: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess               Session
		source, target, st string
		eventsJSON         []byte
	)
	if err := row.Scan(
		&sess.ConferenceID, &source, &target, &sess.BotCallID, &st,
		&eventsJSON, &sess.CreatedAt, &sess.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sess.SourceLanguage = types.Language(source)
	sess.TargetLanguage = types.Language(target)
	sess.Status = Status(st)
	if err := json.Unmarshal(eventsJSON, &sess.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return &sess, nil
}
