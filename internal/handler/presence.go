package handler

import (
	"net/http"

	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/model"
)

const maxPresenceQuery = 200

type PresenceHandler struct {
	cache OnlineLookup
}

func NewPresenceHandler(cache OnlineLookup) *PresenceHandler {
	return &PresenceHandler{cache: cache}
}

// GetPresence отвечает на GET /api/presence?users=a,b в порядке запроса.
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	users := queryList(r, "users")
	if len(users) > maxPresenceQuery {
		writeError(w, http.StatusBadRequest, "too many users")
		return
	}
	result := make([]model.Presence, 0, len(users))
	if len(users) == 0 {
		writeJSON(w, http.StatusOK, result)
		return
	}
	online, err := h.cache.OnlineAmong(r.Context(), users)
	if err != nil {
		logger.Errorf("presence lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get presence")
		return
	}
	for _, u := range users {
		result = append(result, model.Presence{Username: u, Online: online[u]})
	}
	writeJSON(w, http.StatusOK, result)
}
