package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/networkserver/internal/logger"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// UserExists нужен аутентификатору: токен удалённого пользователя не даёт identity.
func (r *UserRepository) UserExists(ctx context.Context, username string) (bool, error) {
	defer logger.DeferLogDuration("user.UserExists", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("userRepo.UserExists: %w", err)
	}
	return ok, nil
}

func (r *UserRepository) ListFriends(ctx context.Context, identity string) ([]string, error) {
	defer logger.DeferLogDuration("user.ListFriends", time.Now())()
	return queryStrings(ctx, r.pool, "userRepo.ListFriends",
		`SELECT friend FROM friendships WHERE username = $1 ORDER BY friend`, identity)
}

// SetPresenceFlag пишет is_online; при уходе в офлайн фиксирует last_seen_at.
func (r *UserRepository) SetPresenceFlag(ctx context.Context, identity string, online bool) error {
	defer logger.DeferLogDuration("user.SetPresenceFlag", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $2,
		        last_seen_at = CASE WHEN $2 THEN last_seen_at ELSE now() END
		 WHERE username = $1`, identity, online)
	if err != nil {
		return fmt.Errorf("userRepo.SetPresenceFlag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("userRepo.SetPresenceFlag %s: %w", identity, ErrNotFound)
	}
	return nil
}

// ResetOnline вызывается при старте: ни одного соединения ещё нет.
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetOnline", time.Now())()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`); err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}
