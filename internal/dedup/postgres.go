package dedup

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Migrate brings the processed_events schema up to date.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	drv, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Begin upserts the event row and bumps attempts. A row that is already done
// keeps its status and the caller skips processing.
func (s *Postgres) Begin(ctx context.Context, e Entry) (bool, error) {
	const q = `
INSERT INTO processed_events (event_id, detail_type, source, status, attempts, updated_at)
VALUES ($1,$2,$3,'processing',1,now())
ON CONFLICT (event_id) DO UPDATE
SET attempts = processed_events.attempts + 1,
    status = CASE WHEN processed_events.status = 'done' THEN 'done' ELSE 'processing' END,
    updated_at = now()
RETURNING status;
`
	var status string
	if err := s.db.QueryRowContext(ctx, q, e.EventID, e.DetailType, e.Source).Scan(&status); err != nil {
		return false, err
	}
	return status != statusDone, nil
}

func (s *Postgres) Done(ctx context.Context, eventID string) error {
	const q = `
UPDATE processed_events
SET status='done', processed_at=now(), last_error=NULL, updated_at=now()
WHERE event_id=$1;
`
	_, err := s.db.ExecContext(ctx, q, eventID)
	return err
}

func (s *Postgres) Failed(ctx context.Context, eventID string, cause error) error {
	const q = `
UPDATE processed_events
SET status='failed', last_error=$2, updated_at=now()
WHERE event_id=$1 AND status <> 'done';
`
	_, err := s.db.ExecContext(ctx, q, eventID, errText(cause))
	return err
}
