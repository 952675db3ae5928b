package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/middleware"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/service"
	"github.com/supportdesk/internal/storage"
	"github.com/supportdesk/internal/supportapi"
)

const maxBodyBytes = 64 * 1024

// SupportHandler serves /support/*. Admin routes are wrapped in
// middleware.AdminAuth by the router; status changes check the role here.
type SupportHandler struct {
	svc             *service.Support
	limits          storage.PresenceStore
	registerPerHour int
}

func NewSupportHandler(svc *service.Support, limits storage.PresenceStore, registerPerHour int) *SupportHandler {
	return &SupportHandler{svc: svc, limits: limits, registerPerHour: registerPerHour}
}

// writeServiceError maps service sentinels to HTTP codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrEmptyText), errors.Is(err, service.ErrTextTooLong), errors.Is(err, service.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "customer not found")
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// ListCustomers — GET /support/customers (admin).
func (h *SupportHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.Customers(r.Context())
	if err != nil {
		writeServiceError(w, "support.ListCustomers", err)
		return
	}
	if customers == nil {
		customers = []model.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

// SendMessage — POST /support/messages (admin). Persists the reply; the admin
// client relays it over the websocket itself.
func (h *SupportHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req supportapi.SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customerId required")
		return
	}
	msg, err := h.svc.AdminMessage(r.Context(), req.CustomerID, req.Text)
	if err != nil {
		writeServiceError(w, "support.SendMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead — PUT /support/customers/{id}/read (admin).
func (h *SupportHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.MarkReadByAdmin(r.Context(), id)
	if err != nil {
		writeServiceError(w, "support.MarkRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// SetStatus — PUT /support/customers/{id}/status. Admins may set any status;
// the customer page may only resolve its own conversation.
func (h *SupportHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req supportapi.StatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, service.ErrInvalidStatus.Error())
		return
	}
	if !middleware.IsAdmin(r.Context()) && req.Status != model.StatusResolved {
		writeError(w, http.StatusForbidden, "only resolving is allowed without the admin token")
		return
	}
	if err := h.svc.SetStatus(r.Context(), id, req.Status); err != nil {
		writeServiceError(w, "support.SetStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

// Register — POST /support/register (public, limited per IP and hour).
func (h *SupportHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.allowRegister(r) {
		w.Header().Set("Retry-After", "3600")
		writeError(w, http.StatusTooManyRequests, "too many registrations, try again later")
		return
	}
	var reg model.Registration
	if err := decodeBody(w, r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	c, err := h.svc.Register(r.Context(), reg)
	if err != nil {
		writeServiceError(w, "support.Register", err)
		return
	}
	logger.Infof("support: register customer=%s phone=%s", c.ID, middleware.MaskPhone(c.Phone))
	writeJSON(w, http.StatusCreated, c)
}

func (h *SupportHandler) allowRegister(r *http.Request) bool {
	if h.limits == nil || h.registerPerHour <= 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	ok, err := h.limits.CheckRegisterLimit(ctx, "register:"+middleware.ClientIP(r), h.registerPerHour, time.Hour)
	if err != nil {
		// Fail open on store errors.
		logger.Errorf("support.Register rate limit: %v", err)
		return true
	}
	return ok
}

// Lookup — GET /support/lookup/{phone} (public).
func (h *SupportHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Lookup(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		writeServiceError(w, "support.Lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetChat — GET /support/chats/{customerId} (public).
func (h *SupportHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Chat(r.Context(), chi.URLParam(r, "customerId"))
	if err != nil {
		writeServiceError(w, "support.GetChat", err)
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
