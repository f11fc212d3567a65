// ABOUTME: HTTP handlers for the webhook surface and the admin read API
// ABOUTME: Maps pipeline outcomes and storage errors onto webhook-safe status codes

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"wagateway/internal/store"
	"wagateway/internal/webhook"
)

// maxWebhookBody caps how much of an inbound request we are willing to read.
const maxWebhookBody = 1 << 20

// MessageResponse is the JSON shape for one message in history responses.
type MessageResponse struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	ExternalID string `json:"external_id,omitempty"`
}

// ConversationHistoryResponse is the JSON response for GET /api/conversations/{user_id}.
type ConversationHistoryResponse struct {
	UserID   string            `json:"user_id"`
	Messages []MessageResponse `json:"messages"`
}

// CleanupRequest is the JSON request body for POST /api/cleanup.
type CleanupRequest struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// CleanupResponse is the JSON response for POST /api/cleanup.
type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWebhookVerify answers the platform's subscription handshake:
// echo hub.challenge when hub.verify_token matches the configured token.
func (g *Gateway) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if token != g.config.Webhook.VerifyToken {
		g.logger.Warn("webhook verification failed", "remote", r.RemoteAddr)
		http.Error(w, "invalid verify token", http.StatusForbidden)
		return
	}

	g.logger.Info("webhook verified")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// handleWebhook runs one inbound event through the pipeline.
//
// Status codes follow the platform's retry semantics: ignored and
// delivery-failed events still return 200 so the platform does not retry
// them; only storage failures return a 5xx, because those events can be
// retried safely.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Correlation ID for tracing one event across the pipeline's log lines
	logger := g.logger.With("event_id", uuid.NewString())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	// Signature covers the raw bytes exactly as received
	if !webhook.VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), g.config.Webhook.AppSecret) {
		logger.Warn("invalid webhook signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	msg, ok := webhook.ExtractMessage(body)
	if !ok {
		logger.Debug("ignoring webhook payload", "bytes", len(body))
		w.WriteHeader(http.StatusOK)
		return
	}

	// Redelivered events are acknowledged without reprocessing
	if msg.MessageID != "" && g.dedupe.Seen(msg.MessageID) {
		logger.Info("duplicate event delivery", "message_id", msg.MessageID, "user_id", msg.From)
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome, err := g.pipeline.Handle(r.Context(), msg)
	if err != nil {
		if errors.Is(err, store.ErrStorage) {
			// The platform will retry this event; let the retry through
			g.dedupe.Forget(msg.MessageID)
			logger.Error("storage failure handling webhook", "error", err, "user_id", msg.From)
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
			return
		}
		logger.Error("pipeline failure", "error", err, "user_id", msg.From)
	}

	if outcome == webhook.OutcomeDeliveryFailed {
		logger.Warn("reply delivery failed", "user_id", msg.From)
	}

	w.WriteHeader(http.StatusOK)
}

// handleConversationHistory serves the unbounded audit read path.
func (g *Gateway) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	messages, err := g.store.GetFullHistory(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
			return
		}
		g.logger.Error("history read failed", "error", err, "user_id", userID)
		http.Error(w, `{"error":"storage unavailable"}`, http.StatusInternalServerError)
		return
	}

	resp := ConversationHistoryResponse{
		UserID:   userID,
		Messages: make([]MessageResponse, 0, len(messages)),
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, MessageResponse{
			Role:       m.Role,
			Content:    m.Content,
			Timestamp:  m.Timestamp.UTC().Format(time.RFC3339),
			ExternalID: m.ExternalID,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := g.store.Stats(r.Context())
	if err != nil {
		g.logger.Error("stats read failed", "error", err)
		http.Error(w, `{"error":"storage unavailable"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleCleanup triggers a retention cycle on demand, with an optional
// retention-hours override in the request body.
func (g *Gateway) handleCleanup(w http.ResponseWriter, r *http.Request) {
	retentionOverride := g.config.Retention.Timeout

	var req CleanupRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
	}
	if req.RetentionHours > 0 {
		retentionOverride = time.Duration(req.RetentionHours) * time.Hour
	}

	deleted, err := g.scheduler.CleanupWithRetention(r.Context(), retentionOverride)
	if err != nil {
		g.logger.Error("manual cleanup failed", "error", err)
		http.Error(w, `{"error":"cleanup failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, CleanupResponse{Deleted: deleted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
