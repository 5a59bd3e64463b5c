package storage

import (
	"context"
	"fmt"
)

// PresenceCache: быстрое зеркало флага онлайн для GET /api/presence.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type PresenceCache interface {
	SetOnline(ctx context.Context, identity string, online bool) error
	OnlineAmong(ctx context.Context, identities []string) (map[string]bool, error)
	Reset(ctx context.Context) error
	Close() error
}

// DurablePresence: долговременный флаг (users.is_online в Postgres).
type DurablePresence interface {
	SetPresenceFlag(ctx context.Context, identity string, online bool) error
}

// PresenceStore сначала пишет durable-флаг, затем кэш. Ошибка кэша не откатывает
// durable-запись: кэш сбрасывается при старте и восстанавливается при следующем переходе.
type PresenceStore struct {
	durable DurablePresence
	cache   PresenceCache
}

func NewPresenceStore(durable DurablePresence, cache PresenceCache) *PresenceStore {
	return &PresenceStore{durable: durable, cache: cache}
}

func (s *PresenceStore) SetPresenceFlag(ctx context.Context, identity string, online bool) error {
	if err := s.durable.SetPresenceFlag(ctx, identity, online); err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	if err := s.cache.SetOnline(ctx, identity, online); err != nil {
		return fmt.Errorf("presence cache %s: %w", identity, err)
	}
	return nil
}
