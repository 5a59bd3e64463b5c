package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/middleware"
	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/repository"
)

type MessageHandler struct {
	store MessageStore
	hub   Realtime
}

func NewMessageHandler(store MessageStore, hub Realtime) *MessageHandler {
	return &MessageHandler{store: store, hub: hub}
}

type SendMessageRequest struct {
	Body        string   `json:"body" validate:"max=4000"`
	Attachments []string `json:"attachments" validate:"max=10,dive,required,max=512"`
}

func (h *MessageHandler) SendChatMessage(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, model.ChatRef(chi.URLParam(r, "chatId")))
}

func (h *MessageHandler) SendChannelMessage(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, channelRef(r))
}

type EditMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

func (h *MessageHandler) EditChatMessage(w http.ResponseWriter, r *http.Request) {
	h.edit(w, r, model.ChatRef(chi.URLParam(r, "chatId")))
}

func (h *MessageHandler) EditChannelMessage(w http.ResponseWriter, r *http.Request) {
	h.edit(w, r, channelRef(r))
}

func (h *MessageHandler) DeleteChatMessage(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, model.ChatRef(chi.URLParam(r, "chatId")))
}

func (h *MessageHandler) DeleteChannelMessage(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, channelRef(r))
}

func channelRef(r *http.Request) model.ConversationRef {
	return model.ChannelRef(chi.URLParam(r, "communityId"), chi.URLParam(r, "channelId"))
}

// send сохраняет сообщение и только после успешной записи рассылает его по хабу.
func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request, ref model.ConversationRef) {
	if err := ref.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation")
		return
	}
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Body) == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	identity := middleware.GetIdentity(r.Context())
	ok, err := h.store.CanAccess(r.Context(), identity, ref.Scope())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	msg := &model.Message{
		ID:           uuid.New().String(),
		Conversation: ref,
		Author:       identity,
		Body:         req.Body,
		Attachments:  req.Attachments,
		Mentions:     model.ParseMentions(req.Body),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.AppendMessage(r.Context(), msg); err != nil {
		logger.Errorf("append message %s author=%s: %v", ref.Key(), identity, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	// Сообщение уже сохранено: ошибка рассылки не отменяет ответ.
	if err := h.hub.PublishMessage(r.Context(), msg); err != nil {
		logger.Errorf("publish message %s id=%s: %v", ref.Key(), msg.ID, err)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// writeAuthorError отвечает на отказ правки или удаления; false, если ошибки нет.
func writeAuthorError(w http.ResponseWriter, err error, op string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, repository.ErrForbidden):
		writeError(w, http.StatusForbidden, "not the author")
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
	return true
}

// edit меняет текст только у автора; отметки прочтения беседы не сбрасываются.
func (h *MessageHandler) edit(w http.ResponseWriter, r *http.Request, ref model.ConversationRef) {
	messageID := chi.URLParam(r, "messageId")
	if err := ref.Validate(); err != nil || messageID == "" {
		writeError(w, http.StatusBadRequest, "invalid conversation")
		return
	}
	var req EditMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	identity := middleware.GetIdentity(r.Context())
	msg, err := h.store.EditMessage(r.Context(), ref, messageID, identity, req.Body)
	if writeAuthorError(w, err, "edit message") {
		return
	}
	if err := h.hub.PublishEdit(r.Context(), msg); err != nil {
		logger.Errorf("publish edit %s id=%s: %v", ref.Key(), messageID, err)
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) remove(w http.ResponseWriter, r *http.Request, ref model.ConversationRef) {
	messageID := chi.URLParam(r, "messageId")
	if err := ref.Validate(); err != nil || messageID == "" {
		writeError(w, http.StatusBadRequest, "invalid conversation")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	if writeAuthorError(w, h.store.DeleteMessage(r.Context(), ref, messageID, identity), "delete message") {
		return
	}
	if err := h.hub.PublishDelete(r.Context(), ref, messageID); err != nil {
		logger.Errorf("publish delete %s id=%s: %v", ref.Key(), messageID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}
