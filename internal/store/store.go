// Package store provides user record storage backends for StudyRelay.
//
// It defines the Store interface consumed by the dispatcher and includes
// SQLite, PostgreSQL and in-memory implementations.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// Store is the user record persistence contract.
//
// GetOrCreateUser lazily provisions a record on first contact. UpdateUser
// applies a partial update; nil fields in the update are left untouched.
// Backends provide atomic per-record updates; concurrent read-then-write
// races resolve last-write-wins.
type Store interface {
	GetOrCreateUser(ctx context.Context, phone string) (*models.UserRecord, error)
	UpdateUser(ctx context.Context, phone string, update models.UserUpdate) error
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or SQLite.
// Postgres DSNs use URL or key=value forms; everything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NormalizeTime converts a timestamp from any storage driver to UTC.
// Drivers return timezone-aware values with inconsistent locations; quota
// comparisons require a single convention or reset loops can occur.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC()
}

// newUserRecord builds the initial record created on first contact.
func newUserRecord(phone string, now time.Time) *models.UserRecord {
	now = NormalizeTime(now)
	return &models.UserRecord{
		Phone:          phone,
		Tier:           models.TierFree,
		QuotaRemaining: models.FreeTierQuota,
		QuotaResetAt:   now.Add(models.QuotaPeriod),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// applyUpdate copies non-nil update fields onto a record.
func applyUpdate(u *models.UserRecord, update models.UserUpdate, now time.Time) {
	if update.Name != nil {
		u.Name = *update.Name
	}
	if update.Tier != nil {
		u.Tier = *update.Tier
	}
	if update.QuotaRemaining != nil {
		u.QuotaRemaining = *update.QuotaRemaining
	}
	if update.QuotaResetAt != nil {
		u.QuotaResetAt = NormalizeTime(*update.QuotaResetAt)
	}
	if update.LastPrompt != nil {
		u.LastPrompt = *update.LastPrompt
	}
	u.UpdatedAt = NormalizeTime(now)
}

// InMemoryStore is a map-backed store used in tests and local development.
type InMemoryStore struct {
	mu    sync.Mutex
	users map[string]*models.UserRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*models.UserRecord)}
}

// GetOrCreateUser returns the record for phone, creating it on first contact.
func (s *InMemoryStore) GetOrCreateUser(ctx context.Context, phone string) (*models.UserRecord, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[phone]; ok {
		cp := *u
		return &cp, nil
	}
	u := newUserRecord(phone, time.Now())
	s.users[phone] = u
	cp := *u
	return &cp, nil
}

// UpdateUser applies a partial update to an existing record.
func (s *InMemoryStore) UpdateUser(ctx context.Context, phone string, update models.UserUpdate) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if update.IsEmpty() {
		return models.ErrNoUpdateFields
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[phone]
	if !ok {
		return models.ErrUserNotFound
	}
	applyUpdate(u, update, time.Now())
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
