// Package quota implements the usage quota decision logic for StudyRelay.
//
// Evaluation is pure: it inspects a user record and the current time and
// returns the decision plus the post-turn counter values. Persisting the
// outcome is the caller's responsibility.
package quota

import (
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// Decision is the per-turn quota outcome.
type Decision string

const (
	// DecisionAllow permits the turn; free-tier counters were decremented.
	DecisionAllow Decision = "allow"
	// DecisionReject denies the turn; the caller sends a limit notice and
	// stops all further processing.
	DecisionReject Decision = "reject"
)

// Outcome describes the result of evaluating a user's quota for one turn.
// Remaining and ResetAt are the values the store should hold after the turn;
// Mutated reports whether they differ from the record's current values.
type Outcome struct {
	Decision  Decision
	Reset     bool // the period rolled over during this evaluation
	Mutated   bool
	Remaining int
	ResetAt   time.Time
}

// Evaluate decides whether the user may consume a content turn at now.
//
// Premium accounts are always allowed with no mutation. Free accounts reset
// to the ceiling when the period has elapsed (reset and decrement can land
// in the same turn), are rejected at zero remaining, and otherwise consume
// one unit. Quota is consumed on allow, before the model call.
func Evaluate(user *models.UserRecord, now time.Time) Outcome {
	if user.Tier != models.TierFree {
		return Outcome{
			Decision:  DecisionAllow,
			Remaining: user.QuotaRemaining,
			ResetAt:   user.QuotaResetAt,
		}
	}

	// Compare in a single timezone; store timestamps may arrive tz-aware.
	now = now.UTC()
	remaining := user.QuotaRemaining
	resetAt := user.QuotaResetAt.UTC()
	reset := false

	if !now.Before(resetAt) {
		remaining = models.FreeTierQuota
		resetAt = now.Add(models.QuotaPeriod)
		reset = true
	}

	// A reset raises remaining to the ceiling, so rejection only happens
	// when the period has not rolled over.
	if remaining <= 0 {
		return Outcome{
			Decision:  DecisionReject,
			Remaining: remaining,
			ResetAt:   resetAt,
		}
	}

	return Outcome{
		Decision:  DecisionAllow,
		Reset:     reset,
		Mutated:   true,
		Remaining: remaining - 1,
		ResetAt:   resetAt,
	}
}
