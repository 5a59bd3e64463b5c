package model

import (
	"errors"
	"fmt"

	"github.com/networkserver/internal/scope"
)

type ConversationKind string

const (
	ConversationChat    ConversationKind = "chat"
	ConversationChannel ConversationKind = "channel"
)

var ErrInvalidConversation = errors.New("invalid conversation reference")

// ConversationRef addresses a message list: a direct/group chat or one channel of a community.
type ConversationRef struct {
	Kind        ConversationKind `json:"kind" validate:"required,oneof=chat channel"`
	ChatID      string           `json:"chat_id,omitempty" validate:"required_if=Kind chat,max=128"`
	CommunityID string           `json:"community_id,omitempty" validate:"required_if=Kind channel,max=128"`
	ChannelID   string           `json:"channel_id,omitempty" validate:"required_if=Kind channel,max=128"`
}

func ChatRef(chatID string) ConversationRef {
	return ConversationRef{Kind: ConversationChat, ChatID: chatID}
}

func ChannelRef(communityID, channelID string) ConversationRef {
	return ConversationRef{Kind: ConversationChannel, CommunityID: communityID, ChannelID: channelID}
}

// Scope returns the broadcast scope of the conversation's open views.
func (r ConversationRef) Scope() scope.Scope {
	if r.Kind == ConversationChannel {
		return scope.CommunityChannel(r.CommunityID, r.ChannelID)
	}
	return scope.Chat(r.ChatID)
}

// Key is the storage key of the conversation, the same string as its scope.
func (r ConversationRef) Key() string {
	return r.Scope().String()
}

func (r ConversationRef) Validate() error {
	switch r.Kind {
	case ConversationChat:
		if r.CommunityID != "" || r.ChannelID != "" {
			return fmt.Errorf("%w: chat with channel ids", ErrInvalidConversation)
		}
	case ConversationChannel:
		if r.ChatID != "" {
			return fmt.Errorf("%w: channel with chat id", ErrInvalidConversation)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidConversation, r.Kind)
	}
	if err := r.Scope().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConversation, err)
	}
	return nil
}

// RefFromScope is the inverse of Scope for conversation scopes.
func RefFromScope(s scope.Scope) (ConversationRef, bool) {
	switch s.Kind {
	case scope.KindChat:
		return ChatRef(s.ID), true
	case scope.KindCommunityChannel:
		return ChannelRef(s.ID, s.Channel), true
	default:
		return ConversationRef{}, false
	}
}
