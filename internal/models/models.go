// Package models defines the core data structures for StudyRelay.
//
// It includes the user record, the normalized inbound message event, and the
// quick-reply button types shared across modules.
package models

import (
	"errors"
	"time"
)

// AccountTier describes the billing tier of a user account.
type AccountTier string

const (
	// TierFree is the default tier with a daily message quota.
	TierFree AccountTier = "free"
	// TierPremium has no message quota.
	TierPremium AccountTier = "premium"
)

// Quota constants for free-tier accounts.
const (
	// FreeTierQuota is the number of content turns a free account gets per period.
	FreeTierQuota = 20
	// QuotaPeriod is the interval after which the free-tier quota resets.
	QuotaPeriod = 24 * time.Hour
)

// HistoryWindow is the number of recent user inputs kept as conversation context.
const HistoryWindow = 5

// Error variables for better error handling and testability
var (
	ErrEmptyPhone       = errors.New("phone cannot be empty")
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrInvalidTier      = errors.New("invalid account tier")
	ErrUserNotFound     = errors.New("user not found")
	ErrNoUpdateFields   = errors.New("update contains no fields")
	ErrUnknownMediaKind = errors.New("unknown media kind")
)

// IsValidTier checks if the given account tier is supported.
func IsValidTier(t AccountTier) bool {
	switch t {
	case TierFree, TierPremium:
		return true
	default:
		return false
	}
}

// UserRecord holds identity and quota state for a single phone number.
type UserRecord struct {
	Phone          string      `json:"phone"`
	Name           string      `json:"name,omitempty"` // empty until onboarding completes
	Tier           AccountTier `json:"account_tier"`
	QuotaRemaining int         `json:"quota_remaining"`
	QuotaResetAt   time.Time   `json:"quota_reset_at"` // always UTC
	LastPrompt     string      `json:"last_prompt,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Onboarded reports whether the user has completed the naming step.
func (u *UserRecord) Onboarded() bool {
	return u.Name != ""
}

// UserUpdate represents a partial update to a user record. Nil fields are
// left untouched by the store.
type UserUpdate struct {
	Name           *string      `json:"name,omitempty"`
	Tier           *AccountTier `json:"account_tier,omitempty"`
	QuotaRemaining *int         `json:"quota_remaining,omitempty"`
	QuotaResetAt   *time.Time   `json:"quota_reset_at,omitempty"`
	LastPrompt     *string      `json:"last_prompt,omitempty"`
}

// IsEmpty reports whether the update carries no fields.
func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.Tier == nil && u.QuotaRemaining == nil &&
		u.QuotaResetAt == nil && u.LastPrompt == nil
}

// MessageKind identifies the shape of an inbound message event.
type MessageKind string

const (
	// MessageText carries a plain text body.
	MessageText MessageKind = "text"
	// MessageInteractive carries a quick-reply button selection.
	MessageInteractive MessageKind = "interactive"
	// MessageMedia carries a media reference to be converted to text.
	MessageMedia MessageKind = "media"
)

// MediaKind identifies the media payload type for extraction routing.
type MediaKind string

const (
	// MediaImage is routed to OCR extraction.
	MediaImage MediaKind = "image"
	// MediaAudio is routed to speech transcription.
	MediaAudio MediaKind = "audio"
	// MediaDocument is routed to PDF text extraction.
	MediaDocument MediaKind = "document"
)

// IncomingMessage is the normalized inbound event consumed by the dispatcher.
// Transport backends produce it from their provider-specific envelopes.
type IncomingMessage struct {
	From      string      `json:"from"` // canonical phone number
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body,omitempty"`       // text body, for Kind == text
	ButtonID  string      `json:"button_id,omitempty"`  // for Kind == interactive
	MediaID   string      `json:"media_id,omitempty"`   // for Kind == media
	MediaKind MediaKind   `json:"media_kind,omitempty"` // for Kind == media
	Time      time.Time   `json:"time"`
}

// Button identifiers understood by the dispatcher's button-reply handler.
const (
	// ButtonUnderstood acknowledges an answer and invites the next topic.
	ButtonUnderstood = "understood"
	// ButtonExplainMore re-asks the model for a more detailed explanation.
	ButtonExplainMore = "explain_more"
)

// MaxButtonTitleLength is the WhatsApp limit for quick-reply button titles.
const MaxButtonTitleLength = 20

// ButtonOption represents a single quick-reply button offered to the user.
type ButtonOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FollowUpButtons returns the quick-reply controls attached to answer replies.
func FollowUpButtons() []ButtonOption {
	return []ButtonOption{
		{ID: ButtonUnderstood, Title: "Understood ✅"},
		{ID: ButtonExplainMore, Title: "Explain more 📖"},
	}
}

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
