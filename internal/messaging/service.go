// Package messaging defines the pluggable message transport abstraction and
// its WhatsApp, Cloud API and Twilio implementations.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// Sender sends outbound messages to a recipient.
type Sender interface {
	// SendMessage sends a plain text message.
	SendMessage(ctx context.Context, to string, body string) error

	// SendQuickReplyButtons sends a message with tappable quick-reply buttons.
	// Transports without button support render a text fallback.
	SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error
}

// Service defines a pluggable message delivery abstraction. It supports
// sending messages and provides a channel of inbound messages.
type Service interface {
	Sender

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Messages returns a channel of inbound messages.
	Messages() <-chan models.IncomingMessage
}

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// canonicalizePhone strips non-digit characters and validates the result.
// All services share the same recipient rules.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if recipient != canonical {
		slog.Debug("canonicalizePhone: recipient canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
