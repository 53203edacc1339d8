// Package api provides the webhook HTTP server.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kissr/kissr-sync/internal/logging"
	"github.com/kissr/kissr-sync/internal/metrics"
)

// maxNotificationSize caps the webhook body read from Dropbox.
const maxNotificationSize = 1 << 20

// Dispatcher starts synchronization passes for notified accounts.
type Dispatcher interface {
	Dispatch(ctx context.Context, accountIDs []string)
}

// Notification is the body of a Dropbox change webhook.
type Notification struct {
	ListFolder struct {
		Accounts []string `json:"accounts"`
	} `json:"list_folder"`
}

// Server is the HTTP server.
type Server struct {
	dispatcher Dispatcher
}

// NewServer creates a webhook server.
func NewServer(dispatcher Dispatcher) *Server {
	return &Server{dispatcher: dispatcher}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleChallenge)
	mux.HandleFunc("POST /{$}", s.handleNotification)

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChallenge echoes the verification challenge Dropbox sends when
// the webhook is registered.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	io.WriteString(w, r.URL.Query().Get("challenge"))
}

// handleNotification fans the notified accounts out to the dispatcher and
// always answers 200 with an empty body. Failures are only logged.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context())

	var n Notification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxNotificationSize)).Decode(&n); err != nil {
		logger.Warn("invalid notification body", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	accounts := n.ListFolder.Accounts
	metrics.RecordNotification(len(accounts))
	logger.Info("notification received", zap.Int("accounts", len(accounts)))

	if len(accounts) > 0 {
		// Passes outlive the request.
		s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), accounts)
	}
	w.WriteHeader(http.StatusOK)
}
