package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/channels"
	"github.com/XuF163/dingbridge/internal/channels/dingtalk"
)

// MessagesHandler sends and recalls messages through a bot.
type MessagesHandler struct {
	svc   *dingtalk.Service
	token string
	allow func(key string) bool
}

// NewMessagesHandler creates a send/recall handler.
func NewMessagesHandler(svc *dingtalk.Service, token string) *MessagesHandler {
	return &MessagesHandler{svc: svc, token: token}
}

// SetRateLimiter installs a per-client-IP limiter; nil disables it.
func (h *MessagesHandler) SetRateLimiter(allow func(key string) bool) { h.allow = allow }

// RegisterRoutes registers the send and recall routes.
func (h *MessagesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/send", requireToken(h.token, h.limited(h.handleSend)))
	mux.HandleFunc("POST /v1/recall", requireToken(h.token, h.limited(h.handleRecall)))
}

func (h *MessagesHandler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.allow != nil && !h.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

type sendRequest struct {
	Account       string               `json:"account"`
	Scene         string               `json:"scene"` // "group" or "friend"
	Peer          string               `json:"peer"`
	Elements      []bus.MessageElement `json:"elements"`
	PreferOpenAPI bool                 `json:"prefer_open_api,omitempty"`
}

type sendResponse struct {
	*channels.SendResult
	Error string `json:"error,omitempty"`
}

func (h *MessagesHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bot, ok := h.bot(w, req.Account)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Peer) == "" {
		writeError(w, http.StatusBadRequest, "peer is required")
		return
	}
	if len(req.Elements) == 0 {
		writeError(w, http.StatusBadRequest, "elements are required")
		return
	}

	dest := dingtalk.DestinationFor(req.Scene, req.Peer)
	res, err := bot.SendMessage(r.Context(), dest, req.Elements, dingtalk.SendOptions{PreferOpenAPI: req.PreferOpenAPI})
	if err != nil {
		writeJSON(w, sendErrorStatus(err), sendResponse{SendResult: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{SendResult: res})
}

type recallRequest struct {
	Account   string `json:"account"`
	Scene     string `json:"scene"`
	Peer      string `json:"peer"`
	MessageID string `json:"message_id"`
}

func (h *MessagesHandler) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bot, ok := h.bot(w, req.Account)
	if !ok {
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}
	recalled := bot.RecallIn(r.Context(), dingtalk.DestinationFor(req.Scene, req.Peer), req.MessageID)
	writeJSON(w, http.StatusOK, map[string]bool{"recalled": recalled})
}

func (h *MessagesHandler) bot(w http.ResponseWriter, account string) (*dingtalk.Bot, bool) {
	account = strings.TrimSpace(account)
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return nil, false
	}
	bot, ok := h.svc.BotByAccountID(account)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown account: "+account)
		return nil, false
	}
	return bot, true
}

func sendErrorStatus(err error) int {
	var verr *dingtalk.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, dingtalk.ErrNoTransportAvailable):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
