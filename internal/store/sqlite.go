package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	location_key        TEXT    NOT NULL,
	location            TEXT    NOT NULL,
	temperature_f       REAL    NOT NULL,
	humidity_pct        REAL    NOT NULL,
	pressure_in         REAL    NOT NULL,
	wind_direction_deg  REAL    NOT NULL,
	wind_speed_mph      REAL    NOT NULL,
	rain_rate_in_hr     REAL    NOT NULL,
	chance_of_rain_pct  REAL    NOT NULL,
	condition_text      TEXT    NOT NULL,
	condition_code      INTEGER NOT NULL,
	observed_at         INTEGER NOT NULL,
	fetched_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_location_fetched ON readings (location_key, fetched_at);
`

// SQLiteStore persists readings so the last values survive a node server restart.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	maxAge     time.Duration
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, maxHistory int, maxAge time.Duration) (*SQLiteStore, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	return &SQLiteStore{db: db, maxHistory: maxHistory, maxAge: maxAge}, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return "file::memory:?cache=shared", nil
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// SaveReading inserts the reading and prunes rows past the retention limits.
func (s *SQLiteStore) SaveReading(ctx context.Context, loc weather.Location, r weather.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	key := loc.Key()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO readings (
			location_key, location, temperature_f, humidity_pct, pressure_in,
			wind_direction_deg, wind_speed_mph, rain_rate_in_hr, chance_of_rain_pct,
			condition_text, condition_code, observed_at, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, r.Location, r.TemperatureF, r.HumidityPct, r.PressureIn,
		r.WindDirectionDeg, r.WindSpeedMph, r.RainRateInHr, r.ChanceOfRainPct,
		r.ConditionText, r.ConditionCode, r.ObservedAt.UnixMilli(), r.FetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	if s.maxHistory > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM readings WHERE location_key = ? AND id NOT IN (
				SELECT id FROM readings WHERE location_key = ? ORDER BY fetched_at DESC, id DESC LIMIT ?
			)`, key, key, s.maxHistory)
		if err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
	}
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge).UnixMilli()
		_, err = tx.ExecContext(ctx, `
			DELETE FROM readings WHERE location_key = ? AND fetched_at < ? AND id <> (
				SELECT id FROM readings WHERE location_key = ? ORDER BY fetched_at DESC, id DESC LIMIT 1
			)`, key, cutoff, key)
		if err != nil {
			return fmt.Errorf("prune by age: %w", err)
		}
	}

	return tx.Commit()
}

const selectColumns = `location, temperature_f, humidity_pct, pressure_in, wind_direction_deg,
	wind_speed_mph, rain_rate_in_hr, chance_of_rain_pct, condition_text, condition_code,
	observed_at, fetched_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (weather.Reading, error) {
	var (
		r                   weather.Reading
		observedMs, fetchMs int64
	)
	err := row.Scan(&r.Location, &r.TemperatureF, &r.HumidityPct, &r.PressureIn, &r.WindDirectionDeg,
		&r.WindSpeedMph, &r.RainRateInHr, &r.ChanceOfRainPct, &r.ConditionText, &r.ConditionCode,
		&observedMs, &fetchMs)
	if err != nil {
		return weather.Reading{}, err
	}
	r.ObservedAt = time.UnixMilli(observedMs).UTC()
	r.FetchedAt = time.UnixMilli(fetchMs).UTC()
	return r, nil
}

// GetLatest returns the most recent reading for a location.
func (s *SQLiteStore) GetLatest(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM readings WHERE location_key = ? ORDER BY fetched_at DESC, id DESC LIMIT 1`,
		loc.Key())
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.Reading{}, ErrNotFound
	}
	if err != nil {
		return weather.Reading{}, fmt.Errorf("select latest: %w", err)
	}
	return r, nil
}

// GetRange returns all readings for a location fetched between from and to (inclusive).
func (s *SQLiteStore) GetRange(ctx context.Context, loc weather.Location, from, to time.Time) ([]weather.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM readings
		 WHERE location_key = ? AND fetched_at >= ? AND fetched_at <= ?
		 ORDER BY fetched_at ASC, id ASC`,
		loc.Key(), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("select range: %w", err)
	}
	defer rows.Close()

	var result []weather.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
