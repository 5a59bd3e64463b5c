package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Множество онлайн-пользователей одного процесса.
const onlineKey = "presence:online"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetOnline добавляет (SADD) или убирает (SREM) username из presence:online.
func (c *Client) SetOnline(ctx context.Context, identity string, online bool) error {
	if online {
		return c.cli.SAdd(ctx, onlineKey, identity).Err()
	}
	return c.cli.SRem(ctx, onlineKey, identity).Err()
}

// OnlineAmong проверяет список за один SMISMEMBER.
func (c *Client) OnlineAmong(ctx context.Context, identities []string) (map[string]bool, error) {
	out := make(map[string]bool, len(identities))
	if len(identities) == 0 {
		return out, nil
	}
	members := make([]any, len(identities))
	for i, id := range identities {
		members[i] = id
	}
	flags, err := c.cli.SMIsMember(ctx, onlineKey, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smismember: %w", err)
	}
	for i, id := range identities {
		out[id] = flags[i]
	}
	return out, nil
}

// Reset очищает множество при старте: соединений предыдущего процесса больше нет.
func (c *Client) Reset(ctx context.Context) error {
	return c.cli.Del(ctx, onlineKey).Err()
}
