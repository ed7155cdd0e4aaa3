package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultGraphBaseURL is the WhatsApp Cloud API base used for media lookup.
const DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// maxMediaBytes caps media downloads; WhatsApp media tops out well below this.
const maxMediaBytes = 32 << 20

// Fetcher downloads media bytes for a provider media reference.
type Fetcher interface {
	Fetch(ctx context.Context, mediaID string) (data []byte, mimeType string, err error)
}

// GraphFetcher resolves media IDs against the WhatsApp Cloud API: a lookup
// call returns a short-lived download URL, which is then fetched with the
// same bearer token.
type GraphFetcher struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewGraphFetcher creates a fetcher using the given WhatsApp access token.
func NewGraphFetcher(token, baseURL string) *GraphFetcher {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &GraphFetcher{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// Fetch downloads the media content for mediaID.
func (f *GraphFetcher) Fetch(ctx context.Context, mediaID string) ([]byte, string, error) {
	info, err := f.lookup(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}
	if info.URL == "" {
		slog.Error("GraphFetcher.Fetch: no media URL in lookup response", "mediaID", mediaID)
		return nil, "", fmt.Errorf("no media URL for %s", mediaID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		slog.Error("GraphFetcher.Fetch: media download failed", "error", err, "mediaID", mediaID)
		return nil, "", fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("GraphFetcher.Fetch: media download status", "status", resp.StatusCode, "mediaID", mediaID)
		return nil, "", fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	slog.Debug("GraphFetcher.Fetch: media downloaded", "mediaID", mediaID, "bytes", len(data), "mimeType", info.MimeType)
	return data, info.MimeType, nil
}

func (f *GraphFetcher) lookup(ctx context.Context, mediaID string) (*mediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+mediaID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		slog.Error("GraphFetcher.lookup: media lookup failed", "error", err, "mediaID", mediaID)
		return nil, fmt.Errorf("media lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("GraphFetcher.lookup: media lookup status", "status", resp.StatusCode, "mediaID", mediaID)
		return nil, fmt.Errorf("media lookup returned status %d", resp.StatusCode)
	}

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode media lookup response: %w", err)
	}
	return &info, nil
}
