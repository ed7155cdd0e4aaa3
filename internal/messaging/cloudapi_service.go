package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// DefaultGraphBaseURL is the WhatsApp Cloud API base used for outbound sends.
const DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// CloudAPIService implements Service using the hosted WhatsApp Cloud API.
// Outbound messages go through the Graph messages endpoint; inbound messages
// are delivered by the webhook server via Deliver.
type CloudAPIService struct {
	token         string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client

	messages chan models.IncomingMessage
	mu       sync.RWMutex
	stopped  bool
}

// CloudAPIOpts holds configuration for the Cloud API service.
type CloudAPIOpts struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
}

// CloudAPIOption configures CloudAPIOpts.
type CloudAPIOption func(*CloudAPIOpts)

// WithCloudAPIToken sets the Cloud API access token.
func WithCloudAPIToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.Token = token }
}

// WithPhoneNumberID sets the sending phone number ID.
func WithPhoneNumberID(id string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PhoneNumberID = id }
}

// WithGraphBaseURL overrides the Graph API base URL (used in tests).
func WithGraphBaseURL(url string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = url }
}

// NewCloudAPIService creates a Cloud API backed messaging service.
func NewCloudAPIService(opts ...CloudAPIOption) (*CloudAPIService, error) {
	var cfg CloudAPIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("cloud API access token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("cloud API phone number ID must be provided")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	slog.Debug("NewCloudAPIService: created", "phoneNumberID", cfg.PhoneNumberID)
	return &CloudAPIService{
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       cfg.BaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		messages:      make(chan models.IncomingMessage, DefaultChannelBufferSize),
	}, nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op; inbound messages arrive via the webhook server.
func (s *CloudAPIService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel and stops the service.
func (s *CloudAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	// Grace period so in-flight Deliver calls observe the stopped flag first
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
	}()

	slog.Info("CloudAPIService stopped")
	return nil
}

// Messages returns a channel of inbound messages.
func (s *CloudAPIService) Messages() <-chan models.IncomingMessage {
	return s.messages
}

// Cloud API message payload shapes, outbound only.
type cloudTextPayload struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Text             cloudText `json:"text"`
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudInteractivePayload struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Interactive      cloudInteractive `json:"interactive"`
}

type cloudInteractive struct {
	Type   string      `json:"type"`
	Body   cloudText   `json:"body"`
	Action cloudAction `json:"action"`
}

type cloudAction struct {
	Buttons []cloudButton `json:"buttons"`
}

type cloudButton struct {
	Type  string           `json:"type"`
	Reply cloudButtonReply `json:"reply"`
}

type cloudButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SendMessage sends a plain text message via the Graph messages endpoint.
func (s *CloudAPIService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	payload := cloudTextPayload{
		MessagingProduct: "whatsapp",
		To:               canonicalTo,
		Type:             "text",
		Text:             cloudText{Body: body},
	}
	if err := s.post(ctx, payload); err != nil {
		slog.Error("CloudAPIService.SendMessage: send error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("CloudAPIService.SendMessage: message sent", "to", canonicalTo)
	return nil
}

// SendQuickReplyButtons sends an interactive button message.
func (s *CloudAPIService) SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error {
	if len(buttons) == 0 {
		return s.SendMessage(ctx, to, body)
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService.SendQuickReplyButtons: validation error", "error", err, "to", to)
		return err
	}
	cloudButtons := make([]cloudButton, 0, len(buttons))
	for _, b := range buttons {
		cloudButtons = append(cloudButtons, cloudButton{
			Type:  "reply",
			Reply: cloudButtonReply{ID: b.ID, Title: b.Title},
		})
	}
	payload := cloudInteractivePayload{
		MessagingProduct: "whatsapp",
		To:               canonicalTo,
		Type:             "interactive",
		Interactive: cloudInteractive{
			Type:   "button",
			Body:   cloudText{Body: body},
			Action: cloudAction{Buttons: cloudButtons},
		},
	}
	if err := s.post(ctx, payload); err != nil {
		slog.Error("CloudAPIService.SendQuickReplyButtons: send error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("CloudAPIService.SendQuickReplyButtons: message sent", "to", canonicalTo, "buttons", len(buttons))
	return nil
}

func (s *CloudAPIService) post(ctx context.Context, payload any) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	url := s.baseURL + "/" + s.phoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send request returned status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// Deliver emits an inbound message parsed by the webhook server. It is
// non-blocking; a full channel drops the message with a warning.
func (s *CloudAPIService) Deliver(msg models.IncomingMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("CloudAPIService.Deliver: dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("CloudAPIService.Deliver: inbound message forwarded", "from", msg.From, "kind", msg.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("CloudAPIService.Deliver: messages channel blocked, dropping message", "from", msg.From)
	}
}
