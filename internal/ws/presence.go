package ws

import (
	"context"
	"time"

	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/scope"
)

// Presence publishes online/offline transitions. The hub runs them on the
// identity's lane, so transitions of one identity never interleave.
type Presence struct {
	dir       Directory
	store     PresenceStore
	out       *Broadcaster
	ephemeral *Ephemeral
	timeout   time.Duration
}

func NewPresence(dir Directory, store PresenceStore, out *Broadcaster, ephemeral *Ephemeral, timeout time.Duration) *Presence {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Presence{dir: dir, store: store, out: out, ephemeral: ephemeral, timeout: timeout}
}

// MarkOnline runs on the identity's 0→1 transition. communities is the
// snapshot already fetched for seeding; nil means fetch it here.
func (p *Presence) MarkOnline(ctx context.Context, identity string, communities []string) {
	p.transition(ctx, identity, true, communities)
}

// MarkOffline runs on the N→0 transition and purges the identity's ephemeral
// state before announcing it.
func (p *Presence) MarkOffline(ctx context.Context, identity string) {
	if p.ephemeral != nil {
		p.ephemeral.PurgeIdentity(identity)
	}
	p.transition(ctx, identity, false, nil)
}

func (p *Presence) transition(ctx context.Context, identity string, online bool, communities []string) {
	defer logger.DeferLogDuration("ws.presence", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Durable flag first; a failed write is logged and the live event still goes
	// out, since the live connection count is what presence is derived from.
	if p.store != nil {
		if err := p.store.SetPresenceFlag(ctx, identity, online); err != nil {
			logger.Errorf("ws set presence identity=%s online=%t: %v", identity, online, err)
		}
	}

	friends, err := p.dir.ListFriends(ctx, identity)
	if err != nil {
		logger.Errorf("ws list friends for presence identity=%s: %v", identity, err)
	}
	if communities == nil {
		communities, err = p.dir.ListCommunities(ctx, identity)
		if err != nil {
			logger.Errorf("ws list communities for presence identity=%s: %v", identity, err)
		}
	}
	audience := make([]scope.Scope, 0, len(friends)+len(communities))
	for _, f := range friends {
		audience = append(audience, scope.Personal(f))
	}
	for _, id := range communities {
		audience = append(audience, scope.Community(id))
	}

	evType := EventPresenceOffline
	if online {
		evType = EventPresenceOnline
	}
	p.out.ToScopes(audience, OutgoingMessage{Type: evType, Payload: PresencePayload{Identity: identity}}, identity)
}
