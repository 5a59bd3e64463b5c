package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/scope"
)

// Store собирает репозитории в одну реализацию интерфейсов хаба и HTTP-обработчиков.
type Store struct {
	Users       *UserRepository
	Chats       *ChatRepository
	Communities *CommunityRepository
	Messages    *MessageRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Users:       NewUserRepository(pool),
		Chats:       NewChatRepository(pool),
		Communities: NewCommunityRepository(pool),
		Messages:    NewMessageRepository(pool),
	}
}

func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	return s.Users.UserExists(ctx, username)
}

func (s *Store) ListFriends(ctx context.Context, identity string) ([]string, error) {
	return s.Users.ListFriends(ctx, identity)
}

func (s *Store) SetPresenceFlag(ctx context.Context, identity string, online bool) error {
	return s.Users.SetPresenceFlag(ctx, identity, online)
}

func (s *Store) ListChats(ctx context.Context, identity string) ([]string, error) {
	return s.Chats.ListChats(ctx, identity)
}

func (s *Store) ListCommunities(ctx context.Context, identity string) ([]string, error) {
	return s.Communities.ListCommunities(ctx, identity)
}

// CanAccess: личный scope доступен только владельцу, чат и сообщество доступны участникам,
// а канал участникам сообщества, если такой канал есть.
func (s *Store) CanAccess(ctx context.Context, identity string, sc scope.Scope) (bool, error) {
	switch sc.Kind {
	case scope.KindPersonal:
		return sc.ID == identity, nil
	case scope.KindChat:
		return s.Chats.IsMember(ctx, sc.ID, identity)
	case scope.KindCommunity:
		return s.Communities.IsMember(ctx, sc.ID, identity)
	case scope.KindCommunityChannel:
		return s.Communities.CanAccessChannel(ctx, sc.ID, sc.Channel, identity)
	default:
		return false, fmt.Errorf("store.CanAccess: %w", scope.ErrInvalid)
	}
}

// Participants беседы: участники чата или, для канала, участники сообщества.
func (s *Store) Participants(ctx context.Context, ref model.ConversationRef) ([]string, error) {
	var (
		members []string
		err     error
	)
	switch ref.Kind {
	case model.ConversationChat:
		members, err = s.Chats.Members(ctx, ref.ChatID)
	case model.ConversationChannel:
		members, err = s.Communities.Members(ctx, ref.CommunityID)
	default:
		return nil, fmt.Errorf("store.Participants: %w", model.ErrInvalidConversation)
	}
	if err != nil {
		return nil, err
	}
	return lo.Uniq(members), nil
}

func (s *Store) AppendMessage(ctx context.Context, m *model.Message) error {
	return s.Messages.AppendMessage(ctx, m)
}

func (s *Store) SetConversationReadBy(ctx context.Context, ref model.ConversationRef, identity string) ([]string, bool, error) {
	return s.Messages.SetConversationReadBy(ctx, ref, identity)
}

func (s *Store) SetMentionRead(ctx context.Context, ref model.ConversationRef, messageID, identity string) (bool, error) {
	return s.Messages.SetMentionRead(ctx, ref, messageID, identity)
}

func (s *Store) EditMessage(ctx context.Context, ref model.ConversationRef, messageID, identity, body string) (*model.Message, error) {
	return s.Messages.EditMessage(ctx, ref, messageID, identity, body)
}

func (s *Store) DeleteMessage(ctx context.Context, ref model.ConversationRef, messageID, identity string) error {
	return s.Messages.DeleteMessage(ctx, ref, messageID, identity)
}

func (s *Store) JoinCommunity(ctx context.Context, communityID, identity string) ([]string, bool, error) {
	return s.Communities.JoinCommunity(ctx, communityID, identity)
}

func (s *Store) AddChatMembers(ctx context.Context, chatID, inviter string, usernames []string) ([]string, []string, error) {
	return s.Chats.AddChatMembers(ctx, chatID, inviter, usernames)
}

func (s *Store) LeaveCommunity(ctx context.Context, communityID, identity string) error {
	return s.Communities.LeaveCommunity(ctx, communityID, identity)
}

func (s *Store) LeaveChat(ctx context.Context, chatID, identity string) error {
	return s.Chats.LeaveChat(ctx, chatID, identity)
}
