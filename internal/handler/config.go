package handler

import (
	"net/http"

	"github.com/networkserver/internal/logger"
)

// PublicKeySource отдаёт публичный VAPID-ключ; push.KeyFile создаёт его при первом вызове.
type PublicKeySource interface {
	PublicKey() (string, error)
}

// ConfigHandler отдаёт клиенту параметры подписки на пуши. keys == nil: пуши выключены.
type ConfigHandler struct {
	keys PublicKeySource
}

func NewConfigHandler(keys PublicKeySource) *ConfigHandler {
	return &ConfigHandler{keys: keys}
}

type pushConfigResponse struct {
	Enabled        bool   `json:"enabled"`
	VAPIDPublicKey string `json:"vapid_public_key,omitempty"`
}

// GetPushConfig: без ключа клиент не подписывается, поэтому сбой чтения ключа отдаётся
// как enabled=false, а не 500.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		writeJSON(w, http.StatusOK, pushConfigResponse{})
		return
	}
	pub, err := h.keys.PublicKey()
	if err != nil {
		logger.Errorf("push config: %v", err)
		writeJSON(w, http.StatusOK, pushConfigResponse{})
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, pushConfigResponse{Enabled: true, VAPIDPublicKey: pub})
}
