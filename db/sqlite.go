package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marcus-crane/marquee/migrations"
	"github.com/marcus-crane/marquee/models"

	_ "modernc.org/sqlite"
)

type SqliteStore struct {
	DB *sqlx.DB
}

func NewSqliteStore(dsn string) (*SqliteStore, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite only tolerates one writer and the heartbeat, cache and session
	// goroutines all write
	db.SetMaxOpenConns(1)
	slog.Debug("Initialised DB connection", slog.String("dsn", dsn))
	return &SqliteStore{
		DB: db,
	}, nil
}

func (s *SqliteStore) ApplyMigrations() error {
	return migrations.Apply(s.DB.DB)
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) GetPreference(key string) (string, error) {
	var value string
	err := s.DB.Get(&value, "SELECT value FROM preferences WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SqliteStore) SetPreference(key, value string) error {
	query := `
	INSERT INTO preferences (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
	value = excluded.value,
	updated_at = excluded.updated_at
	`
	_, err := s.DB.Exec(query, key, value, time.Now().UTC())
	return err
}

func (s *SqliteStore) DeletePreference(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM preferences WHERE key IN (?)", keys)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(s.DB.Rebind(query), args...)
	return err
}

func (s *SqliteStore) LoadCacheEntries() ([]models.CacheEntry, error) {
	entries := []models.CacheEntry{}
	if err := s.DB.Select(&entries, "SELECT url, file_name, size, last_access, seq FROM cache_entries ORDER BY last_access ASC, seq ASC"); err != nil {
		return entries, err
	}
	return entries, nil
}

func (s *SqliteStore) UpsertCacheEntry(entry models.CacheEntry) error {
	query := `
	INSERT INTO cache_entries (url, file_name, size, last_access, seq)
	VALUES (:url, :file_name, :size, :last_access, :seq)
	ON CONFLICT (url) DO UPDATE SET
	file_name = excluded.file_name,
	size = excluded.size,
	last_access = excluded.last_access,
	seq = excluded.seq
	`
	_, err := s.DB.NamedExec(query, entry)
	return err
}

func (s *SqliteStore) DeleteCacheEntry(url string) error {
	_, err := s.DB.Exec("DELETE FROM cache_entries WHERE url = ?", url)
	return err
}
