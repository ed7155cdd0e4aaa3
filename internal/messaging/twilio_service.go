package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
	"github.com/studymate-ai/studyrelay/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Buttons are rendered as a numbered text list; a bare numeric reply from a
// recipient who was just shown buttons is translated back into a button tap.
type TwilioService struct {
	client   twiliowhatsapp.TwilioWhatsAppSender
	messages chan models.IncomingMessage
	done     chan struct{}

	mu          sync.RWMutex
	stopped     bool
	lastButtons map[string][]models.ButtonOption
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:      client,
		messages:    make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:        make(chan struct{}),
		lastButtons: make(map[string][]models.ButtonOption),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio; inbound messages arrive via the webhook handler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
	}()

	return nil
}

// SendMessage sends a text message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.lastButtons, canonicalTo)
	s.mu.Unlock()
	return nil
}

// SendQuickReplyButtons sends the numbered-list fallback and remembers the
// options so a numeric reply can be mapped back to a button ID.
func (s *TwilioService) SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendQuickReplyButtons: validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendQuickReplyButtons(ctx, canonicalTo, body, buttons); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastButtons[canonicalTo] = buttons
	s.mu.Unlock()
	return nil
}

// Messages returns the channel of inbound messages.
func (s *TwilioService) Messages() <-chan models.IncomingMessage {
	return s.messages
}

// WebhookHandler handles inbound Twilio webhook requests. It parses incoming
// form-encoded messages and emits them into the Messages channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from_set", from != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	// Twilio prefixes WhatsApp senders with "whatsapp:"
	from = strings.TrimPrefix(from, "whatsapp:")
	canonicalFrom, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("TwilioService.WebhookHandler: invalid sender", "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	msg := s.buildInbound(canonicalFrom, body)
	s.safeEmit(msg)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// buildInbound maps a raw Twilio body onto the inbound message shape,
// translating a bare numeric reply into a button tap when the recipient was
// last shown buttons.
func (s *TwilioService) buildInbound(from, body string) models.IncomingMessage {
	msg := models.IncomingMessage{
		From: from,
		Kind: models.MessageText,
		Body: body,
		Time: time.Now(),
	}

	s.mu.Lock()
	buttons, ok := s.lastButtons[from]
	if ok {
		delete(s.lastButtons, from)
	}
	s.mu.Unlock()
	if !ok {
		return msg
	}

	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || n < 1 || n > len(buttons) {
		return msg
	}

	chosen := buttons[n-1]
	slog.Debug("TwilioService.buildInbound: numeric reply mapped to button", "from", from, "buttonID", chosen.ID)
	return models.IncomingMessage{
		From:     from,
		Kind:     models.MessageInteractive,
		ButtonID: chosen.ID,
		Body:     chosen.Title,
		Time:     msg.Time,
	}
}

func (s *TwilioService) safeEmit(msg models.IncomingMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService.safeEmit: dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("TwilioService.safeEmit: inbound message forwarded", "from", msg.From, "kind", msg.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService.safeEmit: messages channel blocked, dropping message", "from", msg.From)
	}
}
