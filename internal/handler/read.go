package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/middleware"
	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/ws"
)

type ReadHandler struct {
	hub Realtime
}

func NewReadHandler(hub Realtime) *ReadHandler {
	return &ReadHandler{hub: hub}
}

func (h *ReadHandler) MarkChatRead(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, model.ChatRef(chi.URLParam(r, "chatId")))
}

func (h *ReadHandler) MarkChannelRead(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, model.ChannelRef(chi.URLParam(r, "communityId"), chi.URLParam(r, "channelId")))
}

func (h *ReadHandler) mark(w http.ResponseWriter, r *http.Request, ref model.ConversationRef) {
	identity := middleware.GetIdentity(r.Context())
	err := h.hub.MarkConversationRead(r.Context(), identity, ref)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, model.ErrInvalidConversation):
		writeError(w, http.StatusBadRequest, "invalid conversation")
	case errors.Is(err, ws.ErrScopeResolution):
		writeError(w, http.StatusForbidden, "not a member")
	default:
		logger.Errorf("mark read %s identity=%s: %v", ref.Key(), identity, err)
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
	}
}
