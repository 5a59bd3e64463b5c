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

type CommunityRepository struct {
	pool *pgxpool.Pool
}

func NewCommunityRepository(pool *pgxpool.Pool) *CommunityRepository {
	return &CommunityRepository{pool: pool}
}

func (r *CommunityRepository) ListCommunities(ctx context.Context, identity string) ([]string, error) {
	defer logger.DeferLogDuration("community.ListCommunities", time.Now())()
	return queryStrings(ctx, r.pool, "communityRepo.ListCommunities",
		`SELECT community_id FROM community_members WHERE username = $1 ORDER BY community_id`, identity)
}

func (r *CommunityRepository) Members(ctx context.Context, communityID string) ([]string, error) {
	defer logger.DeferLogDuration("community.Members", time.Now())()
	return queryStrings(ctx, r.pool, "communityRepo.Members",
		`SELECT username FROM community_members WHERE community_id = $1 ORDER BY username`, communityID)
}

func (r *CommunityRepository) IsMember(ctx context.Context, communityID, identity string) (bool, error) {
	defer logger.DeferLogDuration("community.IsMember", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM community_members WHERE community_id = $1 AND username = $2)`,
		communityID, identity,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("communityRepo.IsMember: %w", err)
	}
	return ok, nil
}

// CanAccessChannel: участник сообщества и канал существует.
func (r *CommunityRepository) CanAccessChannel(ctx context.Context, communityID, channelID, identity string) (bool, error) {
	defer logger.DeferLogDuration("community.CanAccessChannel", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM community_channels ch
		    JOIN community_members m ON m.community_id = ch.community_id
		    WHERE ch.community_id = $1 AND ch.id = $2 AND m.username = $3)`,
		communityID, channelID, identity,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("communityRepo.CanAccessChannel: %w", err)
	}
	return ok, nil
}

// JoinCommunity добавляет участника и в той же транзакции отмечает все каналы прочитанными им.
// Возвращает id каналов сообщества; joined=false при повторном вступлении, которое не ошибка
// и ничего не меняет.
func (r *CommunityRepository) JoinCommunity(ctx context.Context, communityID, identity string) (channels []string, joined bool, err error) {
	defer logger.DeferLogDuration("community.JoinCommunity", time.Now())()
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM communities WHERE id = $1)`, communityID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO community_members (community_id, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			communityID, identity)
		if err != nil {
			return err
		}
		ids, err := queryStrings(ctx, tx, "communityRepo.JoinCommunity channels",
			`SELECT id FROM community_channels WHERE community_id = $1 ORDER BY id`, communityID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			channels = ids
			return nil
		}
		for _, id := range ids {
			if _, err := tx.Exec(ctx,
				`INSERT INTO conversation_reads (conversation_key, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				model.ChannelRef(communityID, id).Key(), identity); err != nil {
				return err
			}
		}
		channels, joined = ids, true
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("communityRepo.JoinCommunity: %w", err)
	}
	return channels, joined, nil
}

func (r *CommunityRepository) LeaveCommunity(ctx context.Context, communityID, identity string) error {
	defer logger.DeferLogDuration("community.LeaveCommunity", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM community_members WHERE community_id = $1 AND username = $2`, communityID, identity)
	if err != nil {
		return fmt.Errorf("communityRepo.LeaveCommunity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
