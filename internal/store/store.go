// Package store persists completed trips and driver points in Postgres or
// SQLite through database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"drive-ally/internal/nav"
)

type Driver string

const (
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
)

func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unknown history driver %q", s)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ride_history (
		id            TEXT PRIMARY KEY,
		destination   TEXT NOT NULL,
		date_text     TEXT NOT NULL,
		duration_text TEXT NOT NULL,
		distance_text TEXT NOT NULL,
		score         DOUBLE PRECISION NOT NULL,
		completed_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ride_history_completed_idx ON ride_history (completed_at)`,
	`CREATE TABLE IF NOT EXISTS driver_points (
		driver_id  TEXT PRIMARY KEY,
		points     BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL
	)`,
}

type Store struct {
	db     *sql.DB
	driver Driver
}

// Open opens the database without touching it; call Ping and EnsureSchema
// before use.
func Open(driver Driver, dsn string) (*Store, error) {
	switch driver {
	case Postgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
		return &Store{db: db, driver: driver}, nil
	case SQLite:
		db, err := sql.Open("sqlite", dsn+"?_journal=WAL&_fk=1&_busy_timeout=5000")
		if err != nil {
			return nil, err
		}
		// one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
		return &Store{db: db, driver: driver}, nil
	}
	return nil, fmt.Errorf("unknown history driver %q", driver)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() Driver { return s.driver }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	log.Printf("[store] %s schema ready", s.driver)
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.driver != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveTrip inserts a trip summary. Saving the same ID twice is a no-op.
func (s *Store) SaveTrip(ctx context.Context, t nav.TripSummary) error {
	if t.ID == "" {
		return errors.New("trip summary has no id")
	}
	q := s.rebind(`INSERT INTO ride_history (id, destination, date_text, duration_text, distance_text, score, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`)
	_, err := s.db.ExecContext(ctx, q, t.ID, t.DestinationLabel, t.DateText, t.DurationText, t.DistanceText, t.Score, t.CompletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save trip %s: %w", t.ID, err)
	}
	return nil
}

// AddPoints adds delta to the driver's balance and returns the new total.
func (s *Store) AddPoints(ctx context.Context, driverID string, delta int) (int, error) {
	q := s.rebind(`INSERT INTO driver_points (driver_id, points, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (driver_id) DO UPDATE SET points = driver_points.points + excluded.points, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, q, driverID, delta, time.Now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("add points for %s: %w", driverID, err)
	}
	return s.Points(ctx, driverID)
}

// Points returns the driver's balance, 0 for unknown drivers.
func (s *Store) Points(ctx context.Context, driverID string) (int, error) {
	var pts int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT points FROM driver_points WHERE driver_id = ?`), driverID).Scan(&pts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("points for %s: %w", driverID, err)
	}
	return int(pts), nil
}

// ListHistory returns up to limit trips, newest first.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]nav.TripSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, destination, date_text, duration_text, distance_text, score, completed_at
		FROM ride_history ORDER BY completed_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []nav.TripSummary
	for rows.Next() {
		var (
			t  nav.TripSummary
			ms int64
		)
		if err := rows.Scan(&t.ID, &t.DestinationLabel, &t.DateText, &t.DurationText, &t.DistanceText, &t.Score, &ms); err != nil {
			return nil, err
		}
		t.CompletedAt = time.UnixMilli(ms).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
