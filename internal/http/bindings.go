package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/channels/dingtalk"
	"github.com/XuF163/dingbridge/internal/store"
	"github.com/XuF163/dingbridge/pkg/protocol"
)

// BindingsHandler manages group webhook bindings.
type BindingsHandler struct {
	svc    *dingtalk.Service
	token  string
	events bus.EventPublisher
}

// NewBindingsHandler creates a bindings handler. events may be nil.
func NewBindingsHandler(svc *dingtalk.Service, token string, events bus.EventPublisher) *BindingsHandler {
	return &BindingsHandler{svc: svc, token: token, events: events}
}

// RegisterRoutes registers all binding routes on the given mux.
func (h *BindingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/bindings", requireToken(h.token, h.handleList))
	mux.HandleFunc("PUT /v1/bindings/{account}/{group}", requireToken(h.token, h.handleBind))
	mux.HandleFunc("DELETE /v1/bindings/{account}/{group}", requireToken(h.token, h.handleUnbind))
}

func (h *BindingsHandler) emitCacheInvalidate(account, group string) {
	if h.events == nil {
		return
	}
	h.events.Broadcast(bus.Event{
		Name:    protocol.EventCacheInvalidate,
		Payload: map[string]string{"kind": "bindings", "account": account, "group": group},
	})
}

func (h *BindingsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListGroupWebhooks(r.Context(), strings.TrimSpace(r.URL.Query().Get("account")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []store.WebhookBindingEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bindings": entries})
}

type bindRequest struct {
	Webhook string `json:"webhook"`
	Secret  string `json:"secret,omitempty"`
}

func (h *BindingsHandler) handleBind(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, group := r.PathValue("account"), r.PathValue("group")
	if err := h.svc.BindGroupWebhook(r.Context(), account, group, req.Webhook, req.Secret); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("webhook binding saved", "account", account, "group", group)
	h.emitCacheInvalidate(account, group)
	writeJSON(w, http.StatusOK, map[string]string{"status": "bound"})
}

func (h *BindingsHandler) handleUnbind(w http.ResponseWriter, r *http.Request) {
	account, group := r.PathValue("account"), r.PathValue("group")
	ok, err := h.svc.UnbindGroupWebhook(r.Context(), account, group)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "binding not found")
		return
	}
	slog.Info("webhook binding removed", "account", account, "group", group)
	h.emitCacheInvalidate(account, group)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbound"})
}

func writeStoreError(w http.ResponseWriter, err error) {
	var verr *dingtalk.ValidationError
	if errors.As(err, &verr) || errors.Is(err, store.ErrInvalidBinding) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("binding store error", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}
