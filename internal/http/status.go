package http

import (
	"net/http"

	"github.com/XuF163/dingbridge/internal/channels/dingtalk"
	"github.com/XuF163/dingbridge/internal/config"
)

// StatusHandler reports bot connections and the effective (masked) config.
type StatusHandler struct {
	svc   *dingtalk.Service
	cfg   *config.Config
	token string
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(svc *dingtalk.Service, cfg *config.Config, token string) *StatusHandler {
	return &StatusHandler{svc: svc, cfg: cfg, token: token}
}

// RegisterRoutes registers the status route.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", requireToken(h.token, h.handleStatus))
}

func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	bots := []dingtalk.BotStatus{}
	if h.svc != nil {
		bots = h.svc.Status()
	}
	resp := map[string]any{"bots": bots}
	if h.cfg != nil {
		resp["config"] = h.cfg.MaskedCopy()
	}
	writeJSON(w, http.StatusOK, resp)
}
