package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	visionInstruction = "Transcribe all text visible in this image. If the image contains a question or problem, write it out fully. Reply with the transcription only."
	pdfInstruction    = "Extract the text content from this document. Reply with the extracted text only."
)

// chatService abstracts the OpenAI chat completion API for testing.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// transcriptionService abstracts the OpenAI audio transcription API for testing.
type transcriptionService interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// Opts holds configuration for the OpenAI-backed extractors.
type Opts struct {
	APIKey      string
	VisionModel openai.ChatModel
	SpeechModel openai.AudioModel
}

// Option configures Opts.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithVisionModel overrides the chat model used for image and document extraction.
func WithVisionModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.VisionModel = model }
}

// WithSpeechModel overrides the transcription model used for audio extraction.
func WithSpeechModel(model openai.AudioModel) Option {
	return func(o *Opts) { o.SpeechModel = model }
}

func buildOpts(options ...Option) (*Opts, error) {
	opts := &Opts{}
	for _, opt := range options {
		opt(opts)
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key must be provided via options or OPENAI_API_KEY environment variable")
	}
	if opts.VisionModel == "" {
		opts.VisionModel = openai.ChatModelGPT4oMini
	}
	if opts.SpeechModel == "" {
		opts.SpeechModel = openai.AudioModelWhisper1
	}
	return opts, nil
}

// VisionExtractor recovers text from images via a multimodal chat completion.
type VisionExtractor struct {
	fetcher Fetcher
	chat    chatService
	model   openai.ChatModel
}

// NewVisionExtractor creates an image extractor backed by OpenAI vision.
func NewVisionExtractor(fetcher Fetcher, options ...Option) (*VisionExtractor, error) {
	opts, err := buildOpts(options...)
	if err != nil {
		return nil, err
	}
	cli := openai.NewClient(option.WithAPIKey(opts.APIKey))
	slog.Debug("NewVisionExtractor: created", "model", opts.VisionModel)
	return &VisionExtractor{fetcher: fetcher, chat: &cli.Chat.Completions, model: opts.VisionModel}, nil
}

// Extract downloads the image and asks the vision model to transcribe it.
func (v *VisionExtractor) Extract(ctx context.Context, mediaID string) (string, error) {
	data, mimeType, err := v.fetcher.Fetch(ctx, mediaID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image media: %w", err)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	resp, err := v.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: v.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(visionInstruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		slog.Error("VisionExtractor.Extract: completion failed", "error", err, "mediaID", mediaID)
		return "", fmt.Errorf("vision completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("VisionExtractor.Extract: image transcribed", "mediaID", mediaID, "chars", len(text))
	return text, nil
}

// SpeechExtractor transcribes voice notes via the OpenAI audio API.
type SpeechExtractor struct {
	fetcher        Fetcher
	transcriptions transcriptionService
	model          openai.AudioModel
}

// NewSpeechExtractor creates an audio extractor backed by Whisper.
func NewSpeechExtractor(fetcher Fetcher, options ...Option) (*SpeechExtractor, error) {
	opts, err := buildOpts(options...)
	if err != nil {
		return nil, err
	}
	cli := openai.NewClient(option.WithAPIKey(opts.APIKey))
	slog.Debug("NewSpeechExtractor: created", "model", opts.SpeechModel)
	return &SpeechExtractor{fetcher: fetcher, transcriptions: &cli.Audio.Transcriptions, model: opts.SpeechModel}, nil
}

// Extract downloads the audio and transcribes it.
func (s *SpeechExtractor) Extract(ctx context.Context, mediaID string) (string, error) {
	data, mimeType, err := s.fetcher.Fetch(ctx, mediaID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch audio media: %w", err)
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	resp, err := s.transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: s.model,
		File:  openai.File(bytes.NewReader(data), audioFileName(mimeType), mimeType),
	})
	if err != nil {
		slog.Error("SpeechExtractor.Extract: transcription failed", "error", err, "mediaID", mediaID)
		return "", fmt.Errorf("audio transcription failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	slog.Debug("SpeechExtractor.Extract: audio transcribed", "mediaID", mediaID, "chars", len(text))
	return text, nil
}

// audioFileName derives an upload filename whose extension matches the fetched
// mime type. The transcription endpoint infers the audio format from the file
// extension, so an extensionless upload is rejected.
func audioFileName(mimeType string) string {
	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	ext := "ogg"
	switch strings.TrimSpace(base) {
	case "audio/mpeg", "audio/mp3":
		ext = "mp3"
	case "audio/mp4":
		ext = "m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		ext = "wav"
	case "audio/webm":
		ext = "webm"
	case "audio/flac", "audio/x-flac":
		ext = "flac"
	}
	return "voice-note." + ext
}

// PDFExtractor recovers text from documents by attaching them to a chat completion.
type PDFExtractor struct {
	fetcher Fetcher
	chat    chatService
	model   openai.ChatModel
}

// NewPDFExtractor creates a document extractor backed by OpenAI file inputs.
func NewPDFExtractor(fetcher Fetcher, options ...Option) (*PDFExtractor, error) {
	opts, err := buildOpts(options...)
	if err != nil {
		return nil, err
	}
	cli := openai.NewClient(option.WithAPIKey(opts.APIKey))
	slog.Debug("NewPDFExtractor: created", "model", opts.VisionModel)
	return &PDFExtractor{fetcher: fetcher, chat: &cli.Chat.Completions, model: opts.VisionModel}, nil
}

// Extract downloads the document and asks the model to return its text.
func (p *PDFExtractor) Extract(ctx context.Context, mediaID string) (string, error) {
	data, mimeType, err := p.fetcher.Fetch(ctx, mediaID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document media: %w", err)
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	resp, err := p.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(pdfInstruction),
				openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
					FileData: openai.String(dataURL),
					Filename: openai.String(mediaID + ".pdf"),
				}),
			}),
		},
	})
	if err != nil {
		slog.Error("PDFExtractor.Extract: completion failed", "error", err, "mediaID", mediaID)
		return "", fmt.Errorf("document completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("document completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("PDFExtractor.Extract: document extracted", "mediaID", mediaID, "chars", len(text))
	return text, nil
}
