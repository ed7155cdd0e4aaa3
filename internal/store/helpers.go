package store

import (
	"database/sql"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// scanUserRow scans a UserRecord from a single sql.Row and normalizes its
// timestamps to UTC at the storage boundary.
func scanUserRow(row *sql.Row) (*models.UserRecord, error) {
	var u models.UserRecord
	var tier string
	err := row.Scan(
		&u.Phone, &u.Name, &tier, &u.QuotaRemaining,
		&u.QuotaResetAt, &u.LastPrompt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Tier = models.AccountTier(tier)
	u.QuotaResetAt = NormalizeTime(u.QuotaResetAt)
	u.CreatedAt = NormalizeTime(u.CreatedAt)
	u.UpdatedAt = NormalizeTime(u.UpdatedAt)
	return &u, nil
}
