// Package archive mirrors committed session-log entries into PostgreSQL.
//
// The JSONL file remains the consistency boundary; the database copy exists
// for cross-session querying and is strictly best-effort. Insert failures are
// logged and never propagate into the session.
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hwittich/scrivener/internal/sessionlog"
)

// Archive stores session entries in a session_entries table. All methods are
// safe for concurrent use.
type Archive struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Archive{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS session_entries (
		    id           BIGSERIAL PRIMARY KEY,
		    session_name TEXT             NOT NULL,
		    user_id      TEXT             NOT NULL,
		    display_name TEXT             NOT NULL,
		    start_ts     DOUBLE PRECISION NOT NULL,
		    end_ts       DOUBLE PRECISION NOT NULL,
		    origin       TEXT             NOT NULL,
		    text         TEXT             NOT NULL
		);
		CREATE INDEX IF NOT EXISTS session_entries_session_start
		    ON session_entries (session_name, start_ts)`
	_, err := pool.Exec(ctx, ddl)
	return err
}

// WriteEntry appends one committed entry under sessionName.
func (a *Archive) WriteEntry(ctx context.Context, sessionName string, e sessionlog.Entry) error {
	const q = `
		INSERT INTO session_entries
		    (session_name, user_id, display_name, start_ts, end_ts, origin, text)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := a.pool.Exec(ctx, q,
		sessionName,
		e.UserID,
		e.DisplayName,
		e.StartTS,
		e.EndTS,
		e.Origin,
		e.Text,
	)
	if err != nil {
		return fmt.Errorf("archive: write entry: %w", err)
	}
	return nil
}

// Entries returns all entries for sessionName in capture order.
func (a *Archive) Entries(ctx context.Context, sessionName string) ([]sessionlog.Entry, error) {
	const q = `
		SELECT user_id, display_name, start_ts, end_ts, origin, text
		FROM   session_entries
		WHERE  session_name = $1
		ORDER  BY start_ts`

	rows, err := a.pool.Query(ctx, q, sessionName)
	if err != nil {
		return nil, fmt.Errorf("archive: query entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sessionlog.Entry, error) {
		var e sessionlog.Entry
		err := row.Scan(&e.UserID, &e.DisplayName, &e.StartTS, &e.EndTS, &e.Origin, &e.Text)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan rows: %w", err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}
