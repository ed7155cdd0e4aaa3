// Package extract converts inbound media into text for the dispatcher.
//
// Each extractor is a drop-in substitute for a text body: images go through
// OCR, voice notes through speech transcription, and documents through PDF
// text extraction. All three are implemented over the OpenAI API; the
// registry routes by media kind.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// Extractor converts a provider media reference into plain text.
type Extractor interface {
	Extract(ctx context.Context, mediaID string) (string, error)
}

// Registry routes media references to the extractor for their kind.
type Registry struct {
	extractors map[models.MediaKind]Extractor
}

// NewRegistry creates an empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[models.MediaKind]Extractor)}
}

// Register associates a media kind with an extractor.
func (r *Registry) Register(kind models.MediaKind, e Extractor) {
	r.extractors[kind] = e
	slog.Debug("extract.Registry: extractor registered", "kind", kind)
}

// Extract routes the media reference to the registered extractor.
func (r *Registry) Extract(ctx context.Context, kind models.MediaKind, mediaID string) (string, error) {
	e, ok := r.extractors[kind]
	if !ok {
		slog.Warn("extract.Registry: no extractor for media kind", "kind", kind)
		return "", fmt.Errorf("media kind %q: %w", kind, models.ErrUnknownMediaKind)
	}
	text, err := e.Extract(ctx, mediaID)
	if err != nil {
		slog.Error("extract.Registry: extraction failed", "error", err, "kind", kind, "mediaID", mediaID)
		return "", err
	}
	slog.Debug("extract.Registry: extraction succeeded", "kind", kind, "textLength", len(text))
	return text, nil
}
