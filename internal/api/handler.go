package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/db"
	"github.com/smsrelay/smsrelay/internal/metrics"
	"github.com/smsrelay/smsrelay/internal/redis"
	"github.com/smsrelay/smsrelay/internal/relay"
)

// MessageService runs the delivery pipeline for inbound events.
type MessageService interface {
	HandleInbound(ctx context.Context, msg relay.InboundMessage) relay.DeliveryResult
	FlushQueue(ctx context.Context) relay.FlushResult
	TestConnection(ctx context.Context) error
}

// QueueInspector exposes the retry queue to the API.
type QueueInspector interface {
	Size(ctx context.Context) (int, error)
	List(ctx context.Context) ([]*db.QueuedMessage, error)
	Clear(ctx context.Context) error
}

// HistoryReader exposes the sent history to the API.
type HistoryReader interface {
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*db.HistoryRecord, error)
	Search(ctx context.Context, keyword string, limit int) ([]*db.HistoryRecord, error)
	DeleteByID(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
}

// MessageRequest is the inbound SMS event body.
type MessageRequest struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageResponse is returned after accepting a message event.
type MessageResponse struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
	Kind    string `json:"kind,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	service     MessageService
	settings    *relay.SettingsStore
	queue       QueueInspector
	history     HistoryReader
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, service MessageService, settings *relay.SettingsStore, queue QueueInspector, history HistoryReader) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		settings: settings,
		queue:    queue,
		history:  history,
	}
}

// NewHandlerWithIdempotency creates a handler with duplicate suppression.
func NewHandlerWithIdempotency(logger *zap.Logger, service MessageService, settings *relay.SettingsStore, queue QueueInspector, history HistoryReader, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, service, settings, queue, history)
	h.idempotency = idempotency
	return h
}

// CreateMessage handles POST /v1/messages. The caller is a phone-side
// agent or SMS gateway webhook delivering one received SMS. Supports
// deduplication via the Idempotency-Key header; without the header a key
// is derived from the message content.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	msg := relay.InboundMessage{
		Sender:     req.Sender,
		Body:       req.Body,
		ReceivedAt: req.ReceivedAt,
	}
	if !msg.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message event",
			"sender, body, and a positive received_at are required")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	ttl := redis.ClientKeyTTL
	if idempotencyKey == "" {
		idempotencyKey = redis.ContentKey(req.Sender, req.Body, req.ReceivedAt)
		ttl = redis.ContentKeyTTL
	}

	if h.idempotency != nil {
		receipt, err := h.idempotency.CheckOrReserve(ctx, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateEvent) {
				h.writeError(w, http.StatusConflict, "duplicate_event",
					"Event is already being processed",
					"Another delivery of this message event is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
			)
		} else if receipt != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(MessageResponse{
				EventID: receipt.EventID,
				Outcome: receipt.Outcome,
			})
			return
		}
	}

	eventID := uuid.NewString()
	result := h.service.HandleInbound(ctx, msg)

	h.logger.Info("message event processed",
		zap.String("event_id", eventID),
		zap.String("sender", req.Sender),
		zap.String("outcome", result.Outcome.String()),
	)

	if h.idempotency != nil {
		receipt := &redis.EventReceipt{
			EventID: eventID,
			Outcome: result.Outcome.String(),
		}
		if err := h.idempotency.Complete(ctx, idempotencyKey, receipt, ttl); err != nil {
			h.logger.Warn("failed to store idempotency receipt",
				zap.Error(err),
			)
		}
	}

	resp := MessageResponse{
		EventID: eventID,
		Outcome: result.Outcome.String(),
	}
	if result.Kind != relay.KindNone {
		resp.Kind = result.Kind.String()
	}

	// 202 regardless of delivery outcome: the event was accepted and is
	// either delivered, queued, or filtered. Ingest errors are the only
	// non-2xx responses.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetFilter handles GET /v1/filter
func (h *Handler) GetFilter(w http.ResponseWriter, r *http.Request) {
	st := h.settings.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(st.Filter)
}

// UpdateFilter handles PUT /v1/filter. Takes effect immediately for new
// events and for queued messages on their next flush.
func (h *Handler) UpdateFilter(w http.ResponseWriter, r *http.Request) {
	var rule relay.FilterRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	h.settings.SetFilter(rule)
	h.logger.Info("filter updated",
		zap.String("sender_contains", rule.SenderContains),
		zap.String("body_contains", rule.BodyContains),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rule)
}

// TestSMTP handles POST /v1/smtp/test
func (h *Handler) TestSMTP(w http.ResponseWriter, r *http.Request) {
	if err := h.service.TestConnection(r.Context()); err != nil {
		var se *relay.SendError
		kind := relay.KindUnknown
		if errors.As(err, &se) {
			kind = se.Kind
		}
		h.logger.Warn("smtp connection test failed",
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "failed",
			"kind":   kind.String(),
			"detail": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// GetQueue handles GET /v1/queue
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	size, err := h.queue.Size(ctx)
	if err != nil {
		h.logger.Error("failed to read queue size", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to read queue", "")
		return
	}
	items, err := h.queue.List(ctx)
	if err != nil {
		h.logger.Error("failed to list queue", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to read queue", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"size": size,
		"data": items,
	})
}

// FlushQueue handles POST /v1/queue/flush
func (h *Handler) FlushQueue(w http.ResponseWriter, r *http.Request) {
	result := h.service.FlushQueue(r.Context())

	h.logger.Info("manual queue flush",
		zap.String("status", result.Status.String()),
		zap.Int("processed", result.Processed),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// ClearQueue handles DELETE /v1/queue
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear queue", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to clear queue", "")
		return
	}
	h.logger.Info("queue cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ListHistory handles GET /v1/history?keyword=&limit=&since=
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	var (
		records []*db.HistoryRecord
		err     error
	)
	if keyword := r.URL.Query().Get("keyword"); keyword != "" {
		records, err = h.history.Search(ctx, keyword, limit)
	} else {
		since := time.Time{}
		if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
			since, err = time.Parse(time.RFC3339, sinceStr)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid since parameter",
					"since must be an RFC 3339 timestamp")
				return
			}
		}
		records, err = h.history.ListRecent(ctx, since, limit)
	}
	if err != nil {
		h.logger.Error("failed to read history", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to read history", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  records,
		"count": len(records),
	})
}

// DeleteHistoryRecord handles DELETE /v1/history/{id}
func (h *Handler) DeleteHistoryRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid history ID", "ID must be an integer")
		return
	}

	if err := h.history.DeleteByID(r.Context(), id); err != nil {
		h.logger.Error("failed to delete history record",
			zap.Int64("id", id),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete history record", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory handles DELETE /v1/history
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.history.DeleteAll(r.Context()); err != nil {
		h.logger.Error("failed to clear history", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to clear history", "")
		return
	}
	h.logger.Info("history cleared")
	w.WriteHeader(http.StatusNoContent)
}

// writeError writes a problem+json error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
