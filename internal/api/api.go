// Package api provides the HTTP surface for StudyRelay.
//
// It exposes the WhatsApp Cloud API webhook endpoints (verification challenge
// and inbound message delivery) and a health check.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/studymate-ai/studyrelay/internal/models"
)

// DefaultAddr is the default listen address for the webhook server.
const DefaultAddr = ":8080"

// MessageSink receives inbound messages parsed from webhook payloads.
type MessageSink interface {
	Deliver(msg models.IncomingMessage)
}

// Opts holds configuration options for the webhook server.
type Opts struct {
	Addr        string // listen address
	VerifyToken string // webhook verification token
}

// Option defines a configuration option for the webhook server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// Server hosts the webhook endpoints and forwards parsed messages to the sink.
type Server struct {
	addr        string
	verifyToken string
	sink        MessageSink
	mux         *http.ServeMux
	httpServer  *http.Server
}

// NewServer creates a webhook server delivering inbound messages to sink.
func NewServer(sink MessageSink, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		addr:        cfg.Addr,
		verifyToken: cfg.VerifyToken,
		sink:        sink,
		mux:         http.NewServeMux(),
	}
	s.mux.HandleFunc("/webhook", s.webhookHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	return s
}

// RegisterHandler mounts an additional handler, e.g. a Twilio webhook.
func (s *Server) RegisterHandler(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server.Start: webhook server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server.Start: webhook server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server.Stop: shutting down webhook server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down webhook server: %w", err)
	}
	return nil
}

// Handler returns the server's HTTP handler, used in tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyHandler(w, r)
	case http.MethodPost:
		s.inboundHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyHandler answers the Cloud API webhook verification challenge.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != s.verifyToken {
		slog.Warn("Server.verifyHandler: verification failed", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	slog.Info("Server.verifyHandler: webhook verified")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, challenge)
}
