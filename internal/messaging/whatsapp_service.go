package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/studymate-ai/studyrelay/internal/models"
	"github.com/studymate-ai/studyrelay/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // access to underlying client for event handling
	messages chan models.IncomingMessage
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		messages: make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService.Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService.Start: event handler started")
	} else {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService.Stop invoked")
	close(s.done)
	close(s.messages)
	return nil
}

// SendMessage sends a plain text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService.SendMessage: message sent", "to", canonicalTo)
	return nil
}

// SendQuickReplyButtons sends a message with quick-reply buttons.
func (s *WhatsAppService) SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendQuickReplyButtons: validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendQuickReplyButtons(ctx, canonicalTo, body, buttons); err != nil {
		slog.Error("WhatsAppService.SendQuickReplyButtons: send error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService.SendQuickReplyButtons: message sent", "to", canonicalTo, "buttons", len(buttons))
	return nil
}

// Messages returns a channel of inbound messages.
func (s *WhatsAppService) Messages() <-chan models.IncomingMessage {
	return s.messages
}

// handleEvents registers an event handler and feeds inbound messages into the channel.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService.handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore receipts, presence and connection events
		}
	})

	slog.Debug("WhatsAppService.handleEvents: event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService.handleEvents: stopping due to context cancellation")
}

// handleIncomingMessage maps a whatsmeow message event onto the transport-neutral
// inbound message shape. Unsupported message types are dropped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	from := jidToPhone(evt.Info.Sender.User)
	msg := models.IncomingMessage{
		From: from,
		Time: evt.Info.Timestamp,
	}

	content := evt.Message
	// Button taps arrive inside a ViewOnceMessage wrapper on some clients
	if content.ViewOnceMessage != nil && content.ViewOnceMessage.Message != nil {
		content = content.ViewOnceMessage.Message
	}

	switch {
	case content.Conversation != nil:
		msg.Kind = models.MessageText
		msg.Body = *content.Conversation
	case content.ExtendedTextMessage != nil && content.ExtendedTextMessage.Text != nil:
		msg.Kind = models.MessageText
		msg.Body = *content.ExtendedTextMessage.Text
	case content.ButtonsResponseMessage != nil:
		msg.Kind = models.MessageInteractive
		msg.ButtonID = content.ButtonsResponseMessage.GetSelectedButtonID()
		msg.Body = content.ButtonsResponseMessage.GetSelectedDisplayText()
	case content.ImageMessage != nil:
		msg.Kind = models.MessageMedia
		msg.MediaKind = models.MediaImage
		msg.MediaID = evt.Info.ID
		msg.Body = content.ImageMessage.GetCaption()
		s.waClient.RememberMedia(evt.Info.ID, content.ImageMessage, content.ImageMessage.GetMimetype())
	case content.AudioMessage != nil:
		msg.Kind = models.MessageMedia
		msg.MediaKind = models.MediaAudio
		msg.MediaID = evt.Info.ID
		s.waClient.RememberMedia(evt.Info.ID, content.AudioMessage, content.AudioMessage.GetMimetype())
	case content.DocumentMessage != nil:
		msg.Kind = models.MessageMedia
		msg.MediaKind = models.MediaDocument
		msg.MediaID = evt.Info.ID
		msg.Body = content.DocumentMessage.GetCaption()
		s.waClient.RememberMedia(evt.Info.ID, content.DocumentMessage, content.DocumentMessage.GetMimetype())
	default:
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring unsupported message type", "from", from)
		return
	}

	select {
	case s.messages <- msg:
		slog.Info("WhatsAppService.handleIncomingMessage: inbound message forwarded", "from", msg.From, "kind", msg.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.handleIncomingMessage: messages channel blocked, dropping message", "from", msg.From)
	}
}

// jidToPhone converts a WhatsApp JID user part to a bare phone number.
func jidToPhone(user string) string {
	return strings.TrimPrefix(user, "+")
}
