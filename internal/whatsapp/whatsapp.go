// Package whatsapp wraps the Whatsmeow client for direct WhatsApp integration.
//
// It provides methods for sending text and quick-reply button messages and
// exposes the underlying client for event handling.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/studymate-ai/studyrelay/internal/models"
	"github.com/studymate-ai/studyrelay/internal/store"
)

const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database.
	DefaultSQLitePath = "/var/lib/studyrelay/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
	// mediaCacheSize bounds how many recent media messages are kept downloadable.
	mediaCacheSize = 128
)

// Sender is an interface for sending WhatsApp messages (for production and testing).
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

type cachedMedia struct {
	msg      whatsmeow.DownloadableMessage
	mimeType string
}

// Client wraps the Whatsmeow client for modular use.
type Client struct {
	waClient *whatsmeow.Client

	mediaMu    sync.Mutex
	media      map[string]cachedMedia
	mediaOrder []string
}

// NewClient creates a new WhatsApp client, applying any provided options for customization.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	// Auto-detect database driver based on DSN
	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
		slog.Debug("WhatsApp client auto-detected PostgreSQL driver")
	} else {
		dbDriver = "sqlite3"
		slog.Debug("WhatsApp client auto-detected SQLite driver")

		// whatsmeow strongly recommends enabling foreign keys for SQLite
		if !strings.Contains(dbDSN, "_foreign_keys") && !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
				"Consider adding '?_foreign_keys=on' to your connection string.",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	logger := waLog.Stdout("Database", "INFO", true)
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	waClient := whatsmeow.NewClient(deviceStore, clientLog)

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		err = waClient.Connect()
		if err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				slog.Debug("WhatsApp login event code received")
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
				fmt.Println("Login event:", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient, media: make(map[string]cachedMedia)}, nil
}

// SendMessage sends a WhatsApp text message to the specified recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	slog.Debug("Client.SendMessage: sending WhatsApp message", "to", to, "body_length", len(body))
	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}

	_, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Client.SendMessage: failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Client.SendMessage: WhatsApp message sent", "to", to)
	return nil
}

// SendQuickReplyButtons sends a message with tappable quick-reply buttons.
func (c *Client) SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	if len(buttons) == 0 {
		return c.SendMessage(ctx, to, body)
	}

	waButtons := make([]*waE2E.ButtonsMessage_Button, 0, len(buttons))
	for _, b := range buttons {
		waButtons = append(waButtons, &waE2E.ButtonsMessage_Button{
			ButtonID:   proto.String(b.ID),
			ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(b.Title)},
			Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}

	// ButtonsMessage must be wrapped in ViewOnceMessage to render on current clients
	msg := &waE2E.Message{
		ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{
				ButtonsMessage: &waE2E.ButtonsMessage{
					ContentText: proto.String(body),
					HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
					Buttons:     waButtons,
				},
			},
		},
	}

	jid := types.NewJID(to, JIDSuffix)
	_, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Client.SendQuickReplyButtons: failed to send buttons message", "error", err, "to", to, "buttons", len(buttons))
		return fmt.Errorf("failed to send buttons message to %s: %w", to, err)
	}

	slog.Debug("Client.SendQuickReplyButtons: buttons message sent", "to", to, "buttons", len(buttons))
	return nil
}

// RememberMedia records a downloadable media message under the given ID so it
// can later be fetched by Fetch. The cache keeps only the most recent entries.
func (c *Client) RememberMedia(id string, msg whatsmeow.DownloadableMessage, mimeType string) {
	if id == "" || msg == nil {
		return
	}
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()
	if _, exists := c.media[id]; !exists {
		c.mediaOrder = append(c.mediaOrder, id)
	}
	c.media[id] = cachedMedia{msg: msg, mimeType: mimeType}
	for len(c.mediaOrder) > mediaCacheSize {
		oldest := c.mediaOrder[0]
		c.mediaOrder = c.mediaOrder[1:]
		delete(c.media, oldest)
	}
}

// Fetch downloads the remembered media message with the given ID. It satisfies
// the extract package's Fetcher interface.
func (c *Client) Fetch(ctx context.Context, mediaID string) ([]byte, string, error) {
	c.mediaMu.Lock()
	entry, ok := c.media[mediaID]
	c.mediaMu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("no cached media for id %s", mediaID)
	}

	data, err := c.waClient.Download(ctx, entry.msg)
	if err != nil {
		slog.Error("Client.Fetch: media download failed", "error", err, "mediaID", mediaID)
		return nil, "", fmt.Errorf("failed to download media %s: %w", mediaID, err)
	}
	slog.Debug("Client.Fetch: media downloaded", "mediaID", mediaID, "bytes", len(data))
	return data, entry.mimeType, nil
}

// GetClient returns the underlying whatsmeow client for event handling.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockClient implements Sender but records sends instead of hitting WhatsApp.
type MockClient struct {
	SentMessages   []MockSentMessage
	ButtonMessages []MockButtonMessage
}

type MockSentMessage struct {
	To   string
	Body string
}

type MockButtonMessage struct {
	To      string
	Body    string
	Buttons []models.ButtonOption
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.SentMessages = append(m.SentMessages, MockSentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error {
	m.ButtonMessages = append(m.ButtonMessages, MockButtonMessage{To: to, Body: body, Buttons: buttons})
	return nil
}
