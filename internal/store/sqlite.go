package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/models"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}
}

// Open opens a SQLite database at path with the pragmas the service expects.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// SetSnowOverride persists an array's override. SnowAuto removes it.
func (s *Store) SetSnowOverride(arrayName string, o models.SnowOverride) error {
	if o == models.SnowAuto {
		_, err := s.db.Exec(`DELETE FROM snow_overrides WHERE array_name = ?`, arrayName)
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO snow_overrides (array_name, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(array_name) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, arrayName, o.String(), time.Now().UTC())
	return err
}

// GetSnowOverrides returns every stored override.
func (s *Store) GetSnowOverrides() (map[string]models.SnowOverride, error) {
	rows, err := s.db.Query(`SELECT array_name, state FROM snow_overrides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[string]models.SnowOverride)
	for rows.Next() {
		var name, state string
		if err := rows.Scan(&name, &state); err != nil {
			return nil, err
		}
		o, err := models.ParseSnowOverride(state)
		if err != nil {
			s.logger.Warn("ignoring stored snow override", zap.String("array", name), zap.Error(err))
			continue
		}
		overrides[name] = o
	}
	return overrides, rows.Err()
}

// SaveForecast replaces the warm-restart record.
func (s *Store) SaveForecast(p forecast.Persisted) error {
	hours, err := json.Marshal(p.WhHours)
	if err != nil {
		return fmt.Errorf("encode wh_hours: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO forecast_state (id, captured_at, wh_hours, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			captured_at = excluded.captured_at,
			wh_hours = excluded.wh_hours,
			saved_at = excluded.saved_at
	`, p.Timestamp.UTC(), string(hours), time.Now().UTC())
	return err
}

// LoadForecast returns the warm-restart record, or nil when none was saved.
func (s *Store) LoadForecast() (*forecast.Persisted, error) {
	var p forecast.Persisted
	var hours string
	err := s.db.QueryRow(`SELECT captured_at, wh_hours FROM forecast_state WHERE id = 1`).
		Scan(&p.Timestamp, &hours)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(hours), &p.WhHours); err != nil {
		return nil, fmt.Errorf("decode wh_hours: %w", err)
	}
	return &p, nil
}
