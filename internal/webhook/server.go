// Package webhook receives GitHub App deliveries and dispatches them to
// registered handlers.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// MaxPayloadSize is the largest body GitHub sends for a delivery.
	MaxPayloadSize = 25 << 20

	DefaultRunTimeout      = 10 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
)

// Options configures the webhook server.
type Options struct {
	ListenAddr      string
	Secret          []byte
	HomepageURL     string
	RunTimeout      time.Duration
	ShutdownTimeout time.Duration
}

// Server verifies deliveries and runs their handlers in the background. A
// delivery is acknowledged as soon as its handler has been started.
type Server struct {
	opts   Options
	router *Router
	runs   sync.WaitGroup
}

// NewServer creates a server dispatching verified deliveries through router.
func NewServer(router *Router, opts Options) *Server {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{opts: opts, router: router}
}

// Handler returns the HTTP handler serving / and /webhook.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	return mux
}

// Start serves until ctx is cancelled, then shuts down and waits for every
// dispatched run to finish.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.ListenAddr).Strs("routes", s.router.Routes()).Msg("webhook server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		s.Wait()
		return err
	case err := <-errCh:
		return fmt.Errorf("webhook server failed: %w", err)
	}
}

// Wait blocks until all dispatched runs have returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "I don't imagine this is what you are looking for. Try %s\n", s.opts.HomepageURL)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	eventName := r.Header.Get("X-GitHub-Event")

	logger := zerolog.Ctx(r.Context()).With().
		Str("delivery", deliveryID).
		Str("event", eventName).
		Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", tooLarge.Limit).Msg("rejecting oversized payload")
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Error().Err(err).Msg("failed to read request body")
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		logger.Warn().Msg("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	if eventName == "" {
		logger.Warn().Msg("rejecting request without event header")
		http.Error(w, "Missing event", http.StatusBadRequest)
		return
	}

	if eventName == "ping" {
		logger.Info().Msg("received ping")
		_, _ = fmt.Fprintln(w, "pong")
		return
	}

	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		logger.Warn().Err(err).Msg("rejecting malformed payload")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	logger = logger.With().Str("action", envelope.Action).Logger()

	handler, ok := s.router.Lookup(eventName, envelope.Action)
	if !ok {
		logger.Debug().Msg("no handler registered, ignoring")
		_, _ = fmt.Fprintln(w, "ignored")
		return
	}

	event := Event{
		Name:       eventName,
		Action:     envelope.Action,
		DeliveryID: deliveryID,
		Payload:    body,
	}
	s.dispatch(logger, handler, event)

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintln(w, "accepted")
}

func (s *Server) dispatch(logger zerolog.Logger, handler HandlerFunc, event Event) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()

		ctx, cancel := context.WithTimeout(logger.WithContext(context.Background()), s.opts.RunTimeout)
		defer cancel()

		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error().Interface("panic", recovered).Msg("webhook handler panicked")
			}
		}()

		started := time.Now()
		if err := handler(ctx, event); err != nil {
			logger.Error().Err(err).Dur("duration", time.Since(started)).Msg("webhook handler failed")
			return
		}
		logger.Info().Dur("duration", time.Since(started)).Msg("webhook handled")
	}()
}

// verifySignature checks the sha256=<hex> HMAC GitHub computes with the app's
// webhook secret.
func (s *Server) verifySignature(body []byte, signature string) bool {
	if len(s.opts.Secret) == 0 || !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	mac := hmac.New(sha256.New, s.opts.Secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.TrimPrefix(signature, "sha256=")), []byte(expected))
}
