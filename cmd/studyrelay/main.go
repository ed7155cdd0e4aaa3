package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/studymate-ai/studyrelay/internal/api"
	"github.com/studymate-ai/studyrelay/internal/extract"
	"github.com/studymate-ai/studyrelay/internal/genai"
	"github.com/studymate-ai/studyrelay/internal/messaging"
	"github.com/studymate-ai/studyrelay/internal/models"
	"github.com/studymate-ai/studyrelay/internal/relay"
	"github.com/studymate-ai/studyrelay/internal/session"
	"github.com/studymate-ai/studyrelay/internal/store"
	"github.com/studymate-ai/studyrelay/internal/twiliowhatsapp"
	"github.com/studymate-ai/studyrelay/internal/util"
	"github.com/studymate-ai/studyrelay/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for StudyRelay state data
	DefaultStateDir = "/var/lib/studyrelay"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "studyrelay.db"
	// DefaultWhatsmeowDBFileName is the default whatsmeow session database filename
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
)

// Supported transport values
const (
	TransportWhatsmeow = "whatsmeow"
	TransportCloudAPI  = "cloudapi"
	TransportTwilio    = "twilio"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping StudyRelay", "transport", *flags.transport)
	if err := run(flags); err != nil {
		slog.Error("StudyRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("StudyRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	WhatsAppDSN   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	Transport     string
	VerifyToken   string
	CloudToken    string
	PhoneNumberID string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	waDSN         *string
	openaiKey     *string
	apiAddr       *string
	transport     *string
	verifyToken   *string
	cloudToken    *string
	phoneNumberID *string
}

// initializeLogger sets up structured logging; STUDYRELAY_DEBUG enables debug level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("STUDYRELAY_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:      os.Getenv("STUDYRELAY_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		Transport:     os.Getenv("TRANSPORT"),
		VerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		CloudToken:    os.Getenv("WHATSAPP_CLOUD_TOKEN"),
		PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No STUDYRELAY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName)
	}
	if config.Transport == "" {
		config.Transport = TransportWhatsmeow
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"STUDYRELAY_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TRANSPORT", config.Transport)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for StudyRelay data (overrides $STUDYRELAY_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the user record store (overrides $DATABASE_URL)"),
		waDSN:         flag.String("wa-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "webhook server address (overrides $API_ADDR)"),
		transport:     flag.String("transport", config.Transport, "message transport: whatsmeow, cloudapi or twilio (overrides $TRANSPORT)"),
		verifyToken:   flag.String("verify-token", config.VerifyToken, "webhook verification token (overrides $WHATSAPP_VERIFY_TOKEN)"),
		cloudToken:    flag.String("cloud-token", config.CloudToken, "Cloud API access token (overrides $WHATSAPP_CLOUD_TOKEN)"),
		phoneNumberID: flag.String("phone-number-id", config.PhoneNumberID, "Cloud API phone number ID (overrides $WHATSAPP_PHONE_NUMBER_ID)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
		}
		slog.Debug("State directory ensured", "state_dir", stateDir)
	}
	return nil
}

// buildStore selects a store backend based on the DSN shape
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildMessaging constructs the transport-specific messaging service and, for
// whatsmeow, the media fetcher backed by the live client.
func buildMessaging(flags Flags) (messaging.Service, extract.Fetcher, error) {
	switch *flags.transport {
	case TransportWhatsmeow:
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		if *flags.waDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), client, nil

	case TransportCloudAPI:
		svc, err := messaging.NewCloudAPIService(
			messaging.WithCloudAPIToken(*flags.cloudToken),
			messaging.WithPhoneNumberID(*flags.phoneNumberID),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Cloud API service: %w", err)
		}
		return svc, extract.NewGraphFetcher(*flags.cloudToken, ""), nil

	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		// Twilio exposes no media download path here; media turns degrade
		return messaging.NewTwilioService(client), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", *flags.transport)
	}
}

// buildExtractor wires the OpenAI-backed media extractors over the fetcher.
func buildExtractor(flags Flags, fetcher extract.Fetcher) (*extract.Registry, error) {
	if fetcher == nil {
		return nil, nil
	}

	var extractOpts []extract.Option
	if *flags.openaiKey != "" {
		extractOpts = append(extractOpts, extract.WithAPIKey(*flags.openaiKey))
	}

	vision, err := extract.NewVisionExtractor(fetcher, extractOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision extractor: %w", err)
	}
	speech, err := extract.NewSpeechExtractor(fetcher, extractOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech extractor: %w", err)
	}
	pdf, err := extract.NewPDFExtractor(fetcher, extractOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF extractor: %w", err)
	}

	registry := extract.NewRegistry()
	registry.Register(models.MediaImage, vision)
	registry.Register(models.MediaAudio, speech)
	registry.Register(models.MediaDocument, pdf)
	return registry, nil
}

// dropSink discards webhook messages; used when inbound delivery happens
// through a live client instead of the webhook.
type dropSink struct{}

func (dropSink) Deliver(msg models.IncomingMessage) {
	slog.Debug("dropSink.Deliver: ignoring webhook message", "from", msg.From)
}

func run(flags Flags) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	gateway, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize model gateway: %w", err)
	}

	msgService, fetcher, err := buildMessaging(flags)
	if err != nil {
		return err
	}

	registry, err := buildExtractor(flags, fetcher)
	if err != nil {
		return err
	}

	sessions := session.NewCache(models.HistoryWindow)
	relayOpts := []relay.Option{}
	if registry != nil {
		relayOpts = append(relayOpts, relay.WithExtractor(registry))
	}
	dispatcher := relay.NewDispatcher(st, sessions, gateway, msgService, relayOpts...)

	// The webhook server feeds the Cloud API service; other transports keep
	// it for the health endpoint.
	var sink api.MessageSink = dropSink{}
	if cloudSvc, ok := msgService.(*messaging.CloudAPIService); ok {
		sink = cloudSvc
	}
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	server := api.NewServer(sink, apiOpts...)
	if twilioSvc, ok := msgService.(*messaging.TwilioService); ok {
		server.RegisterHandler("/twilio/webhook", twilioSvc.WebhookHandler)
	}

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start webhook server: %w", err)
	}
	go dispatcher.Run(ctx, msgService.Messages())

	// Block until shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("Shutdown signal received", "signal", s.String())

	cancel()
	if err := server.Stop(context.Background()); err != nil {
		slog.Error("Failed to stop webhook server", "error", err)
	}
	if err := msgService.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
	return nil
}
