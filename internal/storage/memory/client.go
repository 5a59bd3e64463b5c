package memory

import (
	"context"
	"sync"
)

type Client struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func New() *Client {
	return &Client{online: make(map[string]struct{})}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOnline(ctx context.Context, identity string, online bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if online {
		c.online[identity] = struct{}{}
	} else {
		delete(c.online, identity)
	}
	return nil
}

func (c *Client) OnlineAmong(ctx context.Context, identities []string) (map[string]bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(identities))
	for _, id := range identities {
		_, out[id] = c.online[id]
	}
	return out, nil
}

func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = make(map[string]struct{})
	return nil
}
