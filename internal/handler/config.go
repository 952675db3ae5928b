package handler

import (
	"net/http"

	"github.com/supportdesk/internal/config"
)

// ConfigHandler serves the public settings chat clients need.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type clientConfigResponse struct {
	PollIntervalMs    int64 `json:"pollIntervalMs"`
	TypingTimeoutMs   int64 `json:"typingTimeoutMs"`
	BannerDurationMs  int64 `json:"bannerDurationMs"`
	EndChatDelayMs    int64 `json:"endChatDelayMs"`
	ReconnectAttempts int   `json:"customerReconnectAttempts"`
	ReconnectDelayMs  int64 `json:"customerReconnectDelayMs"`
}

// GetClientConfig returns the chat timings shared by every client. No auth.
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	c := h.cfg.Client
	writeJSON(w, http.StatusOK, clientConfigResponse{
		PollIntervalMs:    c.PollInterval.Milliseconds(),
		TypingTimeoutMs:   c.TypingTimeout.Milliseconds(),
		BannerDurationMs:  c.BannerDuration.Milliseconds(),
		EndChatDelayMs:    c.EndChatDelay.Milliseconds(),
		ReconnectAttempts: c.CustomerReconnect.MaxAttempts,
		ReconnectDelayMs:  c.CustomerReconnect.Delay.Milliseconds(),
	})
}

// GetPushConfig returns the public VAPID key, empty when push is off.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PushServiceURL == "" || h.cfg.PushVAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":          true,
		"vapid_public_key": h.cfg.PushVAPIDPublicKey,
	})
}
