// Package store provides user record storage backends for StudyRelay.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/studymate-ai/studyrelay/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists user records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// GetOrCreateUser returns the record for phone, inserting a fresh one on
// first contact. The insert uses ON CONFLICT DO NOTHING so concurrent first
// contacts converge on a single row.
func (s *PostgresStore) GetOrCreateUser(ctx context.Context, phone string) (*models.UserRecord, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}

	u := newUserRecord(phone, time.Now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (phone, name, account_tier, quota_remaining, quota_reset_at, last_prompt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (phone) DO NOTHING`,
		u.Phone, u.Name, u.Tier, u.QuotaRemaining, u.QuotaResetAt, u.LastPrompt, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore GetOrCreateUser insert failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to upsert user %s: %w", phone, err)
	}

	existing, err := s.getUser(ctx, phone)
	if err != nil {
		slog.Error("PostgresStore GetOrCreateUser query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query user %s: %w", phone, err)
	}
	return existing, nil
}

// UpdateUser applies a partial update to an existing record.
func (s *PostgresStore) UpdateUser(ctx context.Context, phone string, update models.UserUpdate) error {
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
		slog.Error("PostgresStore UpdateUser query failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to query user %s: %w", phone, err)
	}

	applyUpdate(u, update, time.Now())
	_, err = s.db.ExecContext(ctx, `UPDATE users SET name = $1, account_tier = $2, quota_remaining = $3, quota_reset_at = $4, last_prompt = $5, updated_at = $6 WHERE phone = $7`,
		u.Name, u.Tier, u.QuotaRemaining, u.QuotaResetAt, u.LastPrompt, u.UpdatedAt, u.Phone)
	if err != nil {
		slog.Error("PostgresStore UpdateUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to update user %s: %w", phone, err)
	}
	slog.Debug("PostgresStore UpdateUser succeeded", "phone", phone)
	return nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres connection pool")
	return s.db.Close()
}

func (s *PostgresStore) getUser(ctx context.Context, phone string) (*models.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT phone, name, account_tier, quota_remaining, quota_reset_at, last_prompt, created_at, updated_at FROM users WHERE phone = $1`, phone)
	return scanUserRow(row)
}
