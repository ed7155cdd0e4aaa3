package quota

import (
	"testing"
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
)

func freeUser(remaining int, resetAt time.Time) *models.UserRecord {
	return &models.UserRecord{
		Phone:          "15551234567",
		Name:           "Jane Doe",
		Tier:           models.TierFree,
		QuotaRemaining: remaining,
		QuotaResetAt:   resetAt,
	}
}

func TestPremiumAlwaysAllowedWithoutMutation(t *testing.T) {
	now := time.Now().UTC()
	u := freeUser(0, now.Add(-time.Hour))
	u.Tier = models.TierPremium

	out := Evaluate(u, now)
	if out.Decision != DecisionAllow {
		t.Fatalf("premium decision = %q, want allow", out.Decision)
	}
	if out.Mutated {
		t.Errorf("premium evaluation must not mutate counters")
	}
}

func TestFreeAllowDecrementsByOne(t *testing.T) {
	now := time.Now().UTC()
	out := Evaluate(freeUser(5, now.Add(time.Hour)), now)

	if out.Decision != DecisionAllow {
		t.Fatalf("decision = %q, want allow", out.Decision)
	}
	if out.Remaining != 4 {
		t.Errorf("remaining = %d, want 4", out.Remaining)
	}
	if out.Reset {
		t.Errorf("unexpected reset before the period elapsed")
	}
	if !out.Mutated {
		t.Errorf("allow must report mutation")
	}
}

func TestFreeExhaustedRejectsBeforeReset(t *testing.T) {
	now := time.Now().UTC()
	out := Evaluate(freeUser(0, now.Add(time.Hour)), now)

	if out.Decision != DecisionReject {
		t.Fatalf("decision = %q, want reject", out.Decision)
	}
	if out.Mutated {
		t.Errorf("reject must not mutate counters")
	}
}

func TestResetAndDecrementInSameTurn(t *testing.T) {
	now := time.Now().UTC()
	out := Evaluate(freeUser(0, now.Add(-time.Minute)), now)

	if out.Decision != DecisionAllow {
		t.Fatalf("decision = %q, want allow after reset", out.Decision)
	}
	if !out.Reset {
		t.Errorf("expected reset to be reported")
	}
	if out.Remaining != models.FreeTierQuota-1 {
		t.Errorf("remaining = %d, want ceiling-1 = %d", out.Remaining, models.FreeTierQuota-1)
	}
	if got := out.ResetAt; !got.Equal(now.Add(models.QuotaPeriod)) {
		t.Errorf("reset advanced to %v, want %v", got, now.Add(models.QuotaPeriod))
	}
}

func TestResetBoundaryIsInclusive(t *testing.T) {
	now := time.Now().UTC()
	out := Evaluate(freeUser(0, now), now)
	if out.Decision != DecisionAllow || !out.Reset {
		t.Errorf("now == resetAt should trigger a reset, got %+v", out)
	}
}

func TestTimezoneAwareResetTimestamp(t *testing.T) {
	// A tz-aware reset timestamp in the future must not trigger a spurious
	// reset once normalized; the instant is what matters.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	loc := time.FixedZone("UTC-7", -7*3600)
	resetAt := now.Add(2 * time.Hour).In(loc)

	out := Evaluate(freeUser(3, resetAt), now)
	if out.Reset {
		t.Errorf("tz-aware future reset time caused a spurious reset")
	}
	if out.Decision != DecisionAllow || out.Remaining != 2 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestNegativeRemainingNeverGoesLower(t *testing.T) {
	now := time.Now().UTC()
	out := Evaluate(freeUser(-1, now.Add(time.Hour)), now)
	if out.Decision != DecisionReject {
		t.Fatalf("decision = %q, want reject", out.Decision)
	}
	if out.Remaining < -1 {
		t.Errorf("remaining decreased on reject: %d", out.Remaining)
	}
}
