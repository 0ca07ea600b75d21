package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hublink/internal/ledger"
)

// DeliveryResponse is the JSON form of a ledger delivery.
type DeliveryResponse struct {
	MessageID     string     `json:"message_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Retries       int        `json:"retries"`
	LastError     string     `json:"last_error,omitempty"`
	QueuedAt      time.Time  `json:"queued_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ConnectionEventResponse is the JSON form of a connection event.
type ConnectionEventResponse struct {
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	Cause      string    `json:"cause,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func toDeliveryResponse(d ledger.Delivery) DeliveryResponse {
	resp := DeliveryResponse{
		MessageID:     d.MessageID,
		CorrelationID: d.CorrelationID,
		Type:          d.Type,
		Status:        d.Status,
		Retries:       d.Retries,
		LastError:     d.LastError,
		QueuedAt:      d.QueuedAt,
	}
	if !d.CompletedAt.IsZero() {
		completed := d.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// handleListDeliveries returns ledger deliveries, most recent first.
//
// Query parameters:
//   - status: QUEUED, RETRYING or a final status such as OK or MESSAGE_EXPIRED
//   - since: RFC 3339 timestamp; only deliveries queued at or after it
//   - limit: max results (default 50, max 500)
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeUnavailable(w, "delivery ledger not configured")
		return
	}

	q := r.URL.Query()
	filter := ledger.Filter{Status: q.Get("status")}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	deliveries, err := s.ledger.Deliveries(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list deliveries", "error", err)
		writeInternalError(w, "failed to list deliveries")
		return
	}

	resp := make([]DeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		resp = append(resp, toDeliveryResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deliveries": resp,
		"count":      len(resp),
	})
}

func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeUnavailable(w, "delivery ledger not configured")
		return
	}

	id := chi.URLParam(r, "id")
	d, err := s.ledger.Delivery(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeNotFound(w, "delivery not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get delivery", "message_id", id, "error", err)
		writeInternalError(w, "failed to get delivery")
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryResponse(*d))
}

// handleDeliveryStats returns the number of deliveries per status.
func (s *Server) handleDeliveryStats(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeUnavailable(w, "delivery ledger not configured")
		return
	}

	counts, err := s.ledger.StatusCounts(r.Context())
	if err != nil {
		s.logger.Error("failed to count deliveries", "error", err)
		writeInternalError(w, "failed to count deliveries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": counts})
}

// handleConnectionEvents returns the most recent connection events, oldest
// first.
func (s *Server) handleConnectionEvents(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeUnavailable(w, "delivery ledger not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := s.ledger.ConnectionEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list connection events", "error", err)
		writeInternalError(w, "failed to list connection events")
		return
	}

	resp := make([]ConnectionEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, ConnectionEventResponse{
			Status:     e.Status,
			Reason:     e.Reason,
			Cause:      e.Cause,
			OccurredAt: e.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}
