package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AppendMessage сохраняет сообщение с упоминаниями и сбрасывает readBy беседы до {author}
// одной транзакцией: после коммита подписчики увидят и сообщение, и сброс.
func (r *MessageRepository) AppendMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.AppendMessage", time.Now())()
	key := m.Conversation.Key()
	if m.Attachments == nil {
		m.Attachments = []string{}
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_key, chat_id, community_id, channel_id, author, body, attachments, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, key, nullable(m.Conversation.ChatID), nullable(m.Conversation.CommunityID),
			nullable(m.Conversation.ChannelID), m.Author, m.Body, m.Attachments, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		batch := &pgx.Batch{}
		for _, mention := range m.Mentions {
			batch.Queue(`INSERT INTO message_mentions (message_id, target, read) VALUES ($1, $2, $3)`,
				m.ID, mention.Target, mention.Read)
		}
		batch.Queue(`DELETE FROM conversation_reads WHERE conversation_key = $1`, key)
		batch.Queue(`INSERT INTO conversation_reads (conversation_key, username) VALUES ($1, $2)`, key, m.Author)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("mentions and read reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("msgRepo.AppendMessage: %w", err)
	}
	return nil
}

// SetMentionRead переводит упоминание UNSEEN→SEEN. changed=false, если упоминания нет
// или оно уже прочитано.
func (r *MessageRepository) SetMentionRead(ctx context.Context, ref model.ConversationRef, messageID, identity string) (bool, error) {
	defer logger.DeferLogDuration("msg.SetMentionRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE message_mentions mm SET read = true
		 FROM messages m
		 WHERE mm.message_id = m.id AND m.id = $1 AND m.conversation_key = $2
		   AND mm.target = $3 AND NOT mm.read`,
		messageID, ref.Key(), identity)
	if err != nil {
		return false, fmt.Errorf("msgRepo.SetMentionRead: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetConversationReadBy добавляет identity в readBy (объединение множеств) и возвращает
// итоговый список; added=false, если identity там уже был.
func (r *MessageRepository) SetConversationReadBy(ctx context.Context, ref model.ConversationRef, identity string) ([]string, bool, error) {
	defer logger.DeferLogDuration("msg.SetConversationReadBy", time.Now())()
	key := ref.Key()
	var (
		added  bool
		readBy []string
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO conversation_reads (conversation_key, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			key, identity)
		if err != nil {
			return err
		}
		added = tag.RowsAffected() > 0
		readBy, err = queryStrings(ctx, tx, "msgRepo.SetConversationReadBy",
			`SELECT username FROM conversation_reads WHERE conversation_key = $1 ORDER BY username`, key)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("msgRepo.SetConversationReadBy: %w", err)
	}
	return readBy, added, nil
}

// EditMessage меняет текст сообщения автора и пересобирает упоминания: оставшиеся адресаты
// сохраняют флаг прочтения, новые появляются непрочитанными. readBy беседы не трогает.
// ErrNotFound, если сообщения нет в беседе; ErrForbidden, если identity не автор.
func (r *MessageRepository) EditMessage(ctx context.Context, ref model.ConversationRef, messageID, identity, body string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.EditMessage", time.Now())()
	m := &model.Message{ID: messageID, Conversation: ref}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT author, body, attachments, created_at FROM messages
			 WHERE id = $1 AND conversation_key = $2 FOR UPDATE`,
			messageID, ref.Key(),
		).Scan(&m.Author, &m.Body, &m.Attachments, &m.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		if m.Author != identity {
			return ErrForbidden
		}
		rows, err := tx.Query(ctx,
			`SELECT target, read FROM message_mentions WHERE message_id = $1 ORDER BY target`, messageID)
		if err != nil {
			return fmt.Errorf("load mentions: %w", err)
		}
		m.Mentions, err = pgx.CollectRows(rows, pgx.RowToStructByPos[model.Mention])
		if err != nil {
			return fmt.Errorf("load mentions: %w", err)
		}

		m.Edit(body, time.Now().UTC())
		targets := make([]string, len(m.Mentions))
		for i, mention := range m.Mentions {
			targets[i] = mention.Target
		}
		batch := &pgx.Batch{}
		batch.Queue(`UPDATE messages SET body = $2, edited_at = $3 WHERE id = $1`, messageID, m.Body, m.EditedAt)
		batch.Queue(`DELETE FROM message_mentions WHERE message_id = $1 AND NOT (target = ANY($2))`, messageID, targets)
		for _, target := range targets {
			batch.Queue(`INSERT INTO message_mentions (message_id, target) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				messageID, target)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("update body and mentions: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.EditMessage: %w", err)
	}
	return m, nil
}

// DeleteMessage удаляет сообщение автора вместе с упоминаниями (ON DELETE CASCADE).
func (r *MessageRepository) DeleteMessage(ctx context.Context, ref model.ConversationRef, messageID, identity string) error {
	defer logger.DeferLogDuration("msg.DeleteMessage", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var author string
		err := tx.QueryRow(ctx,
			`SELECT author FROM messages WHERE id = $1 AND conversation_key = $2 FOR UPDATE`,
			messageID, ref.Key(),
		).Scan(&author)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if author != identity {
			return ErrForbidden
		}
		_, err = tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
		return err
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return err
	}
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteMessage: %w", err)
	}
	return nil
}
