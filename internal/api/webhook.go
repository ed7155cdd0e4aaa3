package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// Cloud API webhook envelope shapes, inbound only. Fields not needed for
// message normalization are omitted.
type webhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *webhookText        `json:"text"`
	Interactive *webhookInteractive `json:"interactive"`
	Button      *webhookButton      `json:"button"`
	Image       *webhookMedia       `json:"image"`
	Audio       *webhookMedia       `json:"audio"`
	Document    *webhookMedia       `json:"document"`
}

type webhookText struct {
	Body string `json:"body"`
}

type webhookInteractive struct {
	Type        string              `json:"type"`
	ButtonReply *webhookButtonReply `json:"button_reply"`
}

type webhookButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type webhookButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type webhookMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// inboundHandler parses a Cloud API webhook delivery and forwards each
// recognizable message to the sink. Malformed payloads are acknowledged with
// 200 so the provider does not retry them.
func (s *Server) inboundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		slog.Warn("Server.inboundHandler: failed to decode webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	delivered := 0
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			for _, raw := range change.Value.Messages {
				msg, ok := normalizeWebhookMessage(raw)
				if !ok {
					slog.Debug("Server.inboundHandler: dropping unrecognized message", "type", raw.Type)
					continue
				}
				s.sink.Deliver(msg)
				delivered++
			}
		}
	}

	slog.Debug("Server.inboundHandler: webhook processed", "delivered", delivered)
	w.WriteHeader(http.StatusOK)
}

// normalizeWebhookMessage maps a Cloud API message onto the transport-neutral
// inbound shape. It returns false for messages the relay cannot handle.
func normalizeWebhookMessage(raw webhookMessage) (models.IncomingMessage, bool) {
	if raw.From == "" {
		return models.IncomingMessage{}, false
	}

	msg := models.IncomingMessage{
		From: raw.From,
		Time: parseWebhookTimestamp(raw.Timestamp),
	}

	switch raw.Type {
	case "text":
		if raw.Text == nil || raw.Text.Body == "" {
			return models.IncomingMessage{}, false
		}
		msg.Kind = models.MessageText
		msg.Body = raw.Text.Body
	case "interactive":
		if raw.Interactive == nil || raw.Interactive.ButtonReply == nil {
			return models.IncomingMessage{}, false
		}
		msg.Kind = models.MessageInteractive
		msg.ButtonID = raw.Interactive.ButtonReply.ID
		msg.Body = raw.Interactive.ButtonReply.Title
	case "button":
		// Template quick replies arrive as a separate "button" type
		if raw.Button == nil || raw.Button.Payload == "" {
			return models.IncomingMessage{}, false
		}
		msg.Kind = models.MessageInteractive
		msg.ButtonID = raw.Button.Payload
		msg.Body = raw.Button.Text
	case "image":
		if raw.Image == nil || raw.Image.ID == "" {
			return models.IncomingMessage{}, false
		}
		msg.Kind = models.MessageMedia
		msg.MediaKind = models.MediaImage
		msg.MediaID = raw.Image.ID
		msg.Body = raw.Image.Caption
	case "audio":
		if raw.Audio == nil || raw.Audio.ID == "" {
			return models.IncomingMessage{}, false
		}
		msg.Kind = models.MessageMedia
		msg.MediaKind = models.MediaAudio
		msg.MediaID = raw.Audio.ID
	case "document":
		if raw.Document == nil || raw.Document.ID == "" {
			return models.IncomingMessage{}, false
		}
		msg.Kind = models.MessageMedia
		msg.MediaKind = models.MediaDocument
		msg.MediaID = raw.Document.ID
		msg.Body = raw.Document.Caption
	default:
		return models.IncomingMessage{}, false
	}

	return msg, true
}

// parseWebhookTimestamp converts the Cloud API epoch-seconds string, falling
// back to the current time when absent or malformed.
func parseWebhookTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Now().UTC()
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
