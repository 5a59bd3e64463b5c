package ws

import (
	"context"
	"errors"

	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/scope"
)

var (
	// ErrWrite marks a failed persistence call on the write path. Nothing is
	// broadcast after it.
	ErrWrite = errors.New("write failed")
	// ErrScopeResolution marks a request for a scope the identity does not
	// belong to. Socket requests that hit it are dropped without a reply.
	ErrScopeResolution = errors.New("scope not accessible")
	// ErrConnectionLimit is returned when max_ws_connections is reached.
	ErrConnectionLimit = errors.New("connection limit reached")
)

// Directory lists the relationship data used to seed a new connection and to
// address presence events.
type Directory interface {
	ListChats(ctx context.Context, identity string) ([]string, error)
	ListCommunities(ctx context.Context, identity string) ([]string, error)
	ListFriends(ctx context.Context, identity string) ([]string, error)
}

// ConversationStore is the read/write surface the hub needs from persistence.
// SetConversationReadBy and SetMentionRead report whether anything changed so
// identical events are never published twice.
type ConversationStore interface {
	CanAccess(ctx context.Context, identity string, s scope.Scope) (bool, error)
	Participants(ctx context.Context, ref model.ConversationRef) ([]string, error)
	SetConversationReadBy(ctx context.Context, ref model.ConversationRef, identity string) (readBy []string, added bool, err error)
	SetMentionRead(ctx context.Context, ref model.ConversationRef, messageID, identity string) (changed bool, err error)
}

type PresenceStore interface {
	SetPresenceFlag(ctx context.Context, identity string, online bool) error
}

// PushNotifier отправляет пуш-уведомления участникам без живых соединений. Если nil: пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, identity, title, body string, data map[string]string)
}

// Authenticator resolves connection credentials to an identity.
type Authenticator interface {
	GetIdentity(ctx context.Context, credentials string) (string, error)
}
