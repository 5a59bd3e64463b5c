package handler

import (
	"context"

	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/scope"
	"github.com/networkserver/internal/ws"
)

// Realtime: часть ws.Hub, которую дёргают REST-обработчики после записи в БД.
type Realtime interface {
	PublishMessage(ctx context.Context, msg *model.Message) error
	PublishEdit(ctx context.Context, msg *model.Message) error
	PublishDelete(ctx context.Context, ref model.ConversationRef, messageID string) error
	MarkConversationRead(ctx context.Context, identity string, ref model.ConversationRef) error
	MarkCommunityRead(ctx context.Context, identity, communityID string, channelIDs []string)
	JoinedScope(identity string, s scope.Scope)
	LeftScope(identity string, s scope.Scope)
	Broadcast(s scope.Scope, out ws.OutgoingMessage) int
}

type MessageStore interface {
	CanAccess(ctx context.Context, identity string, s scope.Scope) (bool, error)
	AppendMessage(ctx context.Context, m *model.Message) error
	EditMessage(ctx context.Context, ref model.ConversationRef, messageID, identity, body string) (*model.Message, error)
	DeleteMessage(ctx context.Context, ref model.ConversationRef, messageID, identity string) error
}

type MembershipStore interface {
	CanAccess(ctx context.Context, identity string, s scope.Scope) (bool, error)
	// JoinCommunity reports joined=false when identity was already a member.
	JoinCommunity(ctx context.Context, communityID, identity string) (channels []string, joined bool, err error)
	AddChatMembers(ctx context.Context, chatID, inviter string, usernames []string) (added, members []string, err error)
	LeaveCommunity(ctx context.Context, communityID, identity string) error
	LeaveChat(ctx context.Context, chatID, identity string) error
}

type OnlineLookup interface {
	OnlineAmong(ctx context.Context, identities []string) (map[string]bool, error)
}
