package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/middleware"
	"github.com/networkserver/internal/repository"
	"github.com/networkserver/internal/scope"
	"github.com/networkserver/internal/ws"
)

// CommunityHandler: вступление в сообщества и выход из них, а также выход из чатов.
type CommunityHandler struct {
	store MembershipStore
	hub   Realtime
}

func NewCommunityHandler(store MembershipStore, hub Realtime) *CommunityHandler {
	return &CommunityHandler{store: store, hub: hub}
}

type joinCommunityResponse struct {
	CommunityID string   `json:"community_id"`
	ChannelIDs  []string `json:"channel_ids"`
}

func membershipChanged(communityID, identity string, joined bool) ws.OutgoingMessage {
	return ws.OutgoingMessage{
		Type:    ws.EventMembershipChanged,
		Payload: ws.MembershipPayload{CommunityID: communityID, Identity: identity, Joined: joined},
	}
}

// JoinCommunity: запись в БД (участник плюс readBy всех каналов), затем подписка живых
// соединений на scope сообщества и синхронизация отметок прочтения. Повторное вступление
// только переподписывает соединения: событий нет, ничего не изменилось.
func (h *CommunityHandler) JoinCommunity(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityId")
	if scope.Community(communityID).Validate() != nil {
		writeError(w, http.StatusBadRequest, "invalid community")
		return
	}
	identity := middleware.GetIdentity(r.Context())

	channels, joined, err := h.store.JoinCommunity(r.Context(), communityID, identity)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "community not found")
		return
	}
	if err != nil {
		logger.Errorf("join community %s identity=%s: %v", communityID, identity, err)
		writeError(w, http.StatusInternalServerError, "failed to join community")
		return
	}

	h.hub.JoinedScope(identity, scope.Community(communityID))
	if joined {
		h.hub.MarkCommunityRead(r.Context(), identity, communityID, channels)
		h.hub.Broadcast(scope.Community(communityID), membershipChanged(communityID, identity, true))
	}

	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, joinCommunityResponse{CommunityID: communityID, ChannelIDs: channels})
}

// LeaveCommunity: событие уходит в scope сообщества до отписки, поэтому его получают
// и соединения самого вышедшего.
func (h *CommunityHandler) LeaveCommunity(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityId")
	if scope.Community(communityID).Validate() != nil {
		writeError(w, http.StatusBadRequest, "invalid community")
		return
	}
	identity := middleware.GetIdentity(r.Context())

	err := h.store.LeaveCommunity(r.Context(), communityID, identity)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not a member")
		return
	}
	if err != nil {
		logger.Errorf("leave community %s identity=%s: %v", communityID, identity, err)
		writeError(w, http.StatusInternalServerError, "failed to leave community")
		return
	}

	h.hub.Broadcast(scope.Community(communityID), membershipChanged(communityID, identity, false))
	h.hub.LeftScope(identity, scope.Community(communityID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *CommunityHandler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if scope.Chat(chatID).Validate() != nil {
		writeError(w, http.StatusBadRequest, "invalid chat")
		return
	}
	identity := middleware.GetIdentity(r.Context())

	err := h.store.LeaveChat(r.Context(), chatID, identity)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not a member")
		return
	}
	if err != nil {
		logger.Errorf("leave chat %s identity=%s: %v", chatID, identity, err)
		writeError(w, http.StatusInternalServerError, "failed to leave chat")
		return
	}
	h.hub.LeftScope(identity, scope.Chat(chatID))
	w.WriteHeader(http.StatusNoContent)
}

type AddChatMembersRequest struct {
	Usernames []string `json:"usernames" validate:"required,min=1,max=15,dive,required,max=64"`
}

type chatMembersResponse struct {
	ChatID  string   `json:"chat_id"`
	Added   []string `json:"added"`
	Members []string `json:"members"`
}

// AddChatMembers: после записи новые участники подписываются на scope чата всеми живыми
// соединениями, а весь состав получает событие в личный scope.
func (h *CommunityHandler) AddChatMembers(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if scope.Chat(chatID).Validate() != nil {
		writeError(w, http.StatusBadRequest, "invalid chat")
		return
	}
	var req AddChatMembersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	identity := middleware.GetIdentity(r.Context())

	added, members, err := h.store.AddChatMembers(r.Context(), chatID, identity, req.Usernames)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
		return
	case errors.Is(err, repository.ErrForbidden):
		writeError(w, http.StatusForbidden, "not a member")
		return
	case errors.Is(err, repository.ErrChatFull):
		writeError(w, http.StatusBadRequest, "chat member limit reached")
		return
	case err != nil:
		logger.Errorf("add chat members %s by=%s: %v", chatID, identity, err)
		writeError(w, http.StatusInternalServerError, "failed to add members")
		return
	}

	if len(added) > 0 {
		for _, u := range added {
			h.hub.JoinedScope(u, scope.Chat(chatID))
		}
		event := ws.OutgoingMessage{
			Type:    ws.EventChatMembersAdded,
			Payload: ws.ChatMembersPayload{ChatID: chatID, By: identity, Added: added, Members: members},
		}
		for _, u := range members {
			h.hub.Broadcast(scope.Personal(u), event)
		}
	}
	if added == nil {
		added = []string{}
	}
	writeJSON(w, http.StatusOK, chatMembersResponse{ChatID: chatID, Added: added, Members: members})
}
