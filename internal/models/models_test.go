package models

import (
	"testing"
	"time"
)

func TestIsValidTier(t *testing.T) {
	if !IsValidTier(TierFree) || !IsValidTier(TierPremium) {
		t.Errorf("expected free and premium to be valid tiers")
	}
	if IsValidTier("gold") {
		t.Errorf("expected unknown tier to be invalid")
	}
}

func TestUserRecordOnboarded(t *testing.T) {
	u := UserRecord{Phone: "15551234567"}
	if u.Onboarded() {
		t.Errorf("user without name should not be onboarded")
	}
	u.Name = "Jane Doe"
	if !u.Onboarded() {
		t.Errorf("user with name should be onboarded")
	}
}

func TestUserUpdateIsEmpty(t *testing.T) {
	var upd UserUpdate
	if !upd.IsEmpty() {
		t.Errorf("zero update should be empty")
	}
	name := "Jane Doe"
	upd.Name = &name
	if upd.IsEmpty() {
		t.Errorf("update with name should not be empty")
	}

	when := time.Now()
	upd = UserUpdate{QuotaResetAt: &when}
	if upd.IsEmpty() {
		t.Errorf("update with reset time should not be empty")
	}
}

func TestFollowUpButtons(t *testing.T) {
	buttons := FollowUpButtons()
	if len(buttons) != 2 {
		t.Fatalf("expected 2 follow-up buttons, got %d", len(buttons))
	}
	if buttons[0].ID != ButtonUnderstood || buttons[1].ID != ButtonExplainMore {
		t.Errorf("unexpected button ids: %q, %q", buttons[0].ID, buttons[1].ID)
	}
	for _, b := range buttons {
		if len([]rune(b.Title)) > MaxButtonTitleLength {
			t.Errorf("button title %q exceeds WhatsApp limit", b.Title)
		}
	}
}
