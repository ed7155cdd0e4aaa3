// Package store provides user record storage backends for StudyRelay.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists user records in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetOrCreateUser returns the record for phone, inserting a fresh one on
// first contact.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, phone string) (*models.UserRecord, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}

	u, err := s.getUser(ctx, phone)
	if err == nil {
		return u, nil
	}
	if err != sql.ErrNoRows {
		slog.Error("SQLiteStore GetOrCreateUser query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query user %s: %w", phone, err)
	}

	u = newUserRecord(phone, time.Now())
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (phone, name, account_tier, quota_remaining, quota_reset_at, last_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Phone, u.Name, u.Tier, u.QuotaRemaining, u.QuotaResetAt, u.LastPrompt, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		// A concurrent first contact may have inserted the row already.
		if existing, getErr := s.getUser(ctx, phone); getErr == nil {
			return existing, nil
		}
		slog.Error("SQLiteStore GetOrCreateUser insert failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to insert user %s: %w", phone, err)
	}
	slog.Debug("SQLiteStore created user on first contact", "phone", phone)
	return u, nil
}

// UpdateUser applies a partial update to an existing record.
func (s *SQLiteStore) UpdateUser(ctx context.Context, phone string, update models.UserUpdate) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if update.IsEmpty() {
		return models.ErrNoUpdateFields
	}

	u, err := s.getUser(ctx, phone)
	if err == sql.ErrNoRows {
		return models.ErrUserNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore UpdateUser query failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to query user %s: %w", phone, err)
	}

	applyUpdate(u, update, time.Now())
	_, err = s.db.ExecContext(ctx, `UPDATE users SET name = ?, account_tier = ?, quota_remaining = ?, quota_reset_at = ?, last_prompt = ?, updated_at = ? WHERE phone = ?`,
		u.Name, u.Tier, u.QuotaRemaining, u.QuotaResetAt, u.LastPrompt, u.UpdatedAt, u.Phone)
	if err != nil {
		slog.Error("SQLiteStore UpdateUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to update user %s: %w", phone, err)
	}
	slog.Debug("SQLiteStore UpdateUser succeeded", "phone", phone)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func (s *SQLiteStore) getUser(ctx context.Context, phone string) (*models.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT phone, name, account_tier, quota_remaining, quota_reset_at, last_prompt, created_at, updated_at FROM users WHERE phone = ?`, phone)
	return scanUserRow(row)
}
