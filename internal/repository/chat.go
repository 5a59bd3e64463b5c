package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/networkserver/internal/logger"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) ListChats(ctx context.Context, identity string) ([]string, error) {
	defer logger.DeferLogDuration("chat.ListChats", time.Now())()
	return queryStrings(ctx, r.pool, "chatRepo.ListChats",
		`SELECT chat_id FROM chat_members WHERE username = $1 ORDER BY chat_id`, identity)
}

func (r *ChatRepository) Members(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.Members", time.Now())()
	return queryStrings(ctx, r.pool, "chatRepo.Members",
		`SELECT username FROM chat_members WHERE chat_id = $1 ORDER BY username`, chatID)
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID, identity string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND username = $2)`, chatID, identity,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return ok, nil
}

// LeaveChat удаляет участника; ErrNotFound, если он не состоял в чате.
func (r *ChatRepository) LeaveChat(ctx context.Context, chatID, identity string) error {
	defer logger.DeferLogDuration("chat.LeaveChat", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM chat_members WHERE chat_id = $1 AND username = $2`, chatID, identity)
	if err != nil {
		return fmt.Errorf("chatRepo.LeaveChat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxChatMembers ограничивает размер группового чата.
const MaxChatMembers = 15

// AddChatMembers добавляет приглашённых в чат от имени участника inviter. Несуществующие
// пользователи и уже состоящие в чате пропускаются. Возвращает фактически добавленных и
// итоговый состав чата.
func (r *ChatRepository) AddChatMembers(ctx context.Context, chatID, inviter string, usernames []string) (added, members []string, err error) {
	defer logger.DeferLogDuration("chat.AddChatMembers", time.Now())()
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Блокировка строки чата сериализует конкурентные приглашения под лимит.
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := queryStrings(ctx, tx, "chatRepo.AddChatMembers members",
			`SELECT username FROM chat_members WHERE chat_id = $1 ORDER BY username`, chatID)
		if err != nil {
			return err
		}
		if !slices.Contains(current, inviter) {
			return ErrForbidden
		}
		invites := lo.Without(lo.Uniq(usernames), current...)
		if len(invites) == 0 {
			members = current
			return nil
		}
		if len(current)+len(invites) > MaxChatMembers {
			return ErrChatFull
		}
		added, err = queryStrings(ctx, tx, "chatRepo.AddChatMembers insert",
			`INSERT INTO chat_members (chat_id, username)
			 SELECT $1, u.username FROM users u WHERE u.username = ANY($2)
			 ON CONFLICT DO NOTHING
			 RETURNING username`, chatID, invites)
		if err != nil {
			return err
		}
		slices.Sort(added)
		members = append(current, added...)
		slices.Sort(members)
		return nil
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrChatFull) {
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, fmt.Errorf("chatRepo.AddChatMembers: %w", err)
	}
	return added, members, nil
}
