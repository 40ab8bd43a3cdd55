package notificationsapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/models"
)

type Dispatcher interface {
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
}

// NotificationsAPI is the inbound surface for the SMS provider: delivery
// receipts arrive here after the handset confirms the message.
type NotificationsAPI struct {
	dispatcher Dispatcher
}

func New(d Dispatcher) *NotificationsAPI {
	return &NotificationsAPI{dispatcher: d}
}

func (a *NotificationsAPI) Routes(r chi.Router) {
	r.Post("/v1/notifications/{id}/delivered", a.handleDelivered)
}

type deliveredRequest struct {
	DeliveredAt *string `json:"deliveredAt,omitempty"`
}

func (a *NotificationsAPI) handleDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	// El proveedor puede mandar el cuerpo vacío; la hora del recibo es opcional.
	var req deliveredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var at time.Time
	if req.DeliveredAt != nil {
		at, err = time.Parse(time.RFC3339, *req.DeliveredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid deliveredAt")
			return
		}
	}

	if err := a.dispatcher.MarkDelivered(r.Context(), id, at); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		slog.Error("delivery receipt failed", "notification_id", id, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
