// Package api exposes the bot's HTTP surface: the Telegram webhook, a
// webhook registration endpoint, and a liveness check.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pbaille/togglbot/internal/telegram"
)

// UpdateHandler consumes one inbound Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update)
}

// WebhookRegistrar registers the webhook URL with the messaging platform.
type WebhookRegistrar interface {
	SetWebhook(ctx context.Context, url string) error
}

// Server handles HTTP requests for the bot.
type Server struct {
	handler    UpdateHandler
	registrar  WebhookRegistrar
	webhookURL string
	addr       string
	log        *slog.Logger
}

// New creates a new API server.
func New(handler UpdateHandler, registrar WebhookRegistrar, webhookURL, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		handler:    handler,
		registrar:  registrar,
		webhookURL: webhookURL,
		addr:       addr,
		log:        log,
	}
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	s.log.Info("starting server", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/", s.home)
	r.Post("/webhook", s.webhook)
	r.Get("/set_webhook", s.setWebhook)
	r.Post("/set_webhook", s.setWebhook)

	return r
}

// requestLogger tags each request with a correlation id and logs it.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), requestID)))
		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type ctxKey int

const requestIDKey ctxKey = 0

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the correlation id attached by the logging middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Personal Assistant Bot is running!")
}

// webhook accepts one Telegram update per call. The response is always
// 200 {"status":"success"}: failures surface to the user as chat replies,
// never as an HTTP status Telegram would retry on.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("webhook handler panicked", "request_id", RequestID(r.Context()), "panic", rec)
			writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		}
	}()

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.log.Warn("undecodable update", "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	s.handler.HandleUpdate(r.Context(), upd)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) setWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookURL == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "WEBHOOK_URL not set",
		})
		return
	}

	if err := s.registrar.SetWebhook(r.Context(), s.webhookURL); err != nil {
		s.log.Error("webhook registration failed", "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "Webhook setup failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Webhook set to %s", s.webhookURL),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
