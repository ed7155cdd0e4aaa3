package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/studymate-ai/studyrelay/internal/models"
)

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) Extract(ctx context.Context, mediaID string) (string, error) {
	return s.text, s.err
}

func TestRegistryRoutesByKind(t *testing.T) {
	reg := NewRegistry()
	reg.Register(models.MediaImage, &stubExtractor{text: "image text"})
	reg.Register(models.MediaAudio, &stubExtractor{text: "audio text"})

	got, err := reg.Extract(context.Background(), models.MediaImage, "m1")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got != "image text" {
		t.Errorf("expected image text, got %q", got)
	}

	got, err = reg.Extract(context.Background(), models.MediaAudio, "m2")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got != "audio text" {
		t.Errorf("expected audio text, got %q", got)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Extract(context.Background(), models.MediaDocument, "m1")
	if !errors.Is(err, models.ErrUnknownMediaKind) {
		t.Errorf("expected ErrUnknownMediaKind, got %v", err)
	}
}

func TestRegistryPropagatesExtractorError(t *testing.T) {
	reg := NewRegistry()
	wantErr := errors.New("extractor failed")
	reg.Register(models.MediaImage, &stubExtractor{err: wantErr})

	_, err := reg.Extract(context.Background(), models.MediaImage, "m1")
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped extractor error, got %v", err)
	}
}

func TestGraphFetcherFetch(t *testing.T) {
	const mediaBody = "binary-media-bytes"
	var downloadAuth string

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/media123", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("lookup auth header = %q", got)
		}
		json.NewEncoder(w).Encode(mediaInfo{URL: srv.URL + "/download", MimeType: "image/png"})
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		downloadAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, mediaBody)
	})

	f := NewGraphFetcher("tok", srv.URL)
	data, mimeType, err := f.Fetch(context.Background(), "media123")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if string(data) != mediaBody {
		t.Errorf("data = %q, want %q", data, mediaBody)
	}
	if mimeType != "image/png" {
		t.Errorf("mimeType = %q, want image/png", mimeType)
	}
	if downloadAuth != "Bearer tok" {
		t.Errorf("download auth header = %q", downloadAuth)
	}
}

func TestGraphFetcherLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewGraphFetcher("tok", srv.URL)
	if _, _, err := f.Fetch(context.Background(), "missing"); err == nil {
		t.Error("expected error for 404 lookup")
	}
}

type stubFetcher struct {
	data     []byte
	mimeType string
	err      error
}

func (s *stubFetcher) Fetch(ctx context.Context, mediaID string) ([]byte, string, error) {
	return s.data, s.mimeType, s.err
}

type mockChatService struct {
	lastParams openai.ChatCompletionNewParams
	response   *openai.ChatCompletion
	err        error
}

func (m *mockChatService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.lastParams = body
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func chatResponse(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
	}
}

func TestVisionExtractorExtract(t *testing.T) {
	chat := &mockChatService{response: chatResponse("  2x + 3 = 7  ")}
	v := &VisionExtractor{
		fetcher: &stubFetcher{data: []byte("png-bytes"), mimeType: "image/png"},
		chat:    chat,
		model:   openai.ChatModelGPT4oMini,
	}

	got, err := v.Extract(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got != "2x + 3 = 7" {
		t.Errorf("text = %q, want trimmed transcription", got)
	}
	if chat.lastParams.Model != openai.ChatModelGPT4oMini {
		t.Errorf("model = %q", chat.lastParams.Model)
	}
	if len(chat.lastParams.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(chat.lastParams.Messages))
	}
}

func TestVisionExtractorFetchError(t *testing.T) {
	v := &VisionExtractor{
		fetcher: &stubFetcher{err: errors.New("download failed")},
		chat:    &mockChatService{},
		model:   openai.ChatModelGPT4oMini,
	}
	if _, err := v.Extract(context.Background(), "m1"); err == nil {
		t.Error("expected error when fetch fails")
	}
}

func TestVisionExtractorNoChoices(t *testing.T) {
	v := &VisionExtractor{
		fetcher: &stubFetcher{data: []byte("x")},
		chat:    &mockChatService{response: &openai.ChatCompletion{}},
		model:   openai.ChatModelGPT4oMini,
	}
	if _, err := v.Extract(context.Background(), "m1"); err == nil {
		t.Error("expected error when completion has no choices")
	}
}

type mockTranscriptionService struct {
	lastParams openai.AudioTranscriptionNewParams
	response   *openai.Transcription
	err        error
}

func (m *mockTranscriptionService) New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error) {
	m.lastParams = body
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func TestSpeechExtractorExtract(t *testing.T) {
	tr := &mockTranscriptionService{response: &openai.Transcription{Text: " what is photosynthesis "}}
	s := &SpeechExtractor{
		fetcher:        &stubFetcher{data: []byte("ogg-bytes"), mimeType: "audio/ogg"},
		transcriptions: tr,
		model:          openai.AudioModelWhisper1,
	}

	got, err := s.Extract(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got != "what is photosynthesis" {
		t.Errorf("text = %q", got)
	}
	if tr.lastParams.Model != openai.AudioModelWhisper1 {
		t.Errorf("model = %q", tr.lastParams.Model)
	}
}

func TestSpeechExtractorUploadsNamedFile(t *testing.T) {
	tr := &mockTranscriptionService{response: &openai.Transcription{Text: "hi"}}
	s := &SpeechExtractor{
		fetcher:        &stubFetcher{data: []byte("ogg-bytes"), mimeType: "audio/ogg; codecs=opus"},
		transcriptions: tr,
		model:          openai.AudioModelWhisper1,
	}

	if _, err := s.Extract(context.Background(), "m1"); err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	named, ok := tr.lastParams.File.(interface{ Filename() string })
	if !ok {
		t.Fatal("uploaded file does not carry a filename")
	}
	name := named.Filename()
	dot := strings.LastIndex(name, ".")
	if dot < 0 || dot == len(name)-1 {
		t.Fatalf("filename %q has no extension", name)
	}
	if !strings.HasSuffix(name, ".ogg") {
		t.Errorf("filename = %q, want .ogg extension for audio/ogg", name)
	}
}

func TestAudioFileName(t *testing.T) {
	cases := []struct {
		mimeType string
		want     string
	}{
		{"audio/ogg", "voice-note.ogg"},
		{"audio/ogg; codecs=opus", "voice-note.ogg"},
		{"audio/mpeg", "voice-note.mp3"},
		{"audio/mp4", "voice-note.m4a"},
		{"audio/wav", "voice-note.wav"},
		{"audio/webm", "voice-note.webm"},
		{"audio/flac", "voice-note.flac"},
		{"application/octet-stream", "voice-note.ogg"},
	}
	for _, tc := range cases {
		if got := audioFileName(tc.mimeType); got != tc.want {
			t.Errorf("audioFileName(%q) = %q, want %q", tc.mimeType, got, tc.want)
		}
	}
}

func TestSpeechExtractorTranscriptionError(t *testing.T) {
	s := &SpeechExtractor{
		fetcher:        &stubFetcher{data: []byte("ogg-bytes")},
		transcriptions: &mockTranscriptionService{err: errors.New("whisper down")},
		model:          openai.AudioModelWhisper1,
	}
	if _, err := s.Extract(context.Background(), "m1"); err == nil {
		t.Error("expected error when transcription fails")
	}
}

func TestPDFExtractorExtract(t *testing.T) {
	chat := &mockChatService{response: chatResponse("chapter text")}
	p := &PDFExtractor{
		fetcher: &stubFetcher{data: []byte("%PDF-1.4"), mimeType: "application/pdf"},
		chat:    chat,
		model:   openai.ChatModelGPT4oMini,
	}

	got, err := p.Extract(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got != "chapter text" {
		t.Errorf("text = %q", got)
	}
}

func TestBuildOptsRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := buildOpts(); err == nil {
		t.Error("expected error when no API key is available")
	}
	opts, err := buildOpts(WithAPIKey("k"))
	if err != nil {
		t.Fatalf("buildOpts with key returned error: %v", err)
	}
	if opts.VisionModel == "" || opts.SpeechModel == "" {
		t.Error("expected default models to be set")
	}
	if !strings.HasPrefix(string(opts.SpeechModel), "whisper") {
		t.Errorf("default speech model = %q", opts.SpeechModel)
	}
}
