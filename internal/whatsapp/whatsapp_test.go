package whatsapp

import (
	"context"
	"fmt"
	"testing"

	"github.com/studymate-ai/studyrelay/internal/models"
)

func TestMockClientRecordsSends(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	if err := m.SendMessage(ctx, "15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if err := m.SendQuickReplyButtons(ctx, "15551234567", "pick one", models.FollowUpButtons()); err != nil {
		t.Fatalf("SendQuickReplyButtons returned error: %v", err)
	}

	if len(m.SentMessages) != 1 || m.SentMessages[0].Body != "hello" {
		t.Errorf("unexpected sent messages: %+v", m.SentMessages)
	}
	if len(m.ButtonMessages) != 1 {
		t.Fatalf("expected 1 button message, got %d", len(m.ButtonMessages))
	}
	if len(m.ButtonMessages[0].Buttons) != 2 {
		t.Errorf("expected 2 buttons, got %d", len(m.ButtonMessages[0].Buttons))
	}
}

func TestClientSendMessageValidation(t *testing.T) {
	c := &Client{}
	if err := c.SendMessage(context.Background(), "15551234567", "hi"); err == nil {
		t.Error("expected error for uninitialized client")
	}
}

type fakeDownloadable struct{}

func (fakeDownloadable) GetDirectPath() string    { return "" }
func (fakeDownloadable) GetMediaKey() []byte      { return nil }
func (fakeDownloadable) GetFileSHA256() []byte    { return nil }
func (fakeDownloadable) GetFileEncSHA256() []byte { return nil }

func TestRememberMediaEviction(t *testing.T) {
	c := &Client{media: make(map[string]cachedMedia)}
	for i := 0; i < mediaCacheSize+10; i++ {
		c.RememberMedia(fmt.Sprintf("id-%d", i), fakeDownloadable{}, "image/jpeg")
	}
	if len(c.media) != mediaCacheSize {
		t.Fatalf("cache size = %d, want %d", len(c.media), mediaCacheSize)
	}
	if _, ok := c.media["id-0"]; ok {
		t.Error("expected oldest entry to be evicted")
	}
	if _, ok := c.media[fmt.Sprintf("id-%d", mediaCacheSize+9)]; !ok {
		t.Error("expected newest entry to be present")
	}
}

func TestRememberMediaIgnoresNil(t *testing.T) {
	c := &Client{media: make(map[string]cachedMedia)}
	c.RememberMedia("id-1", nil, "image/jpeg")
	if len(c.media) != 0 {
		t.Fatalf("expected nil media to be ignored, cache size %d", len(c.media))
	}
}

func TestFetchUnknownMedia(t *testing.T) {
	c := &Client{media: make(map[string]cachedMedia)}
	if _, _, err := c.Fetch(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown media id")
	}
}
