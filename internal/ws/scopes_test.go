package ws

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/networkserver/internal/scope"
)

func TestScopeRegistry_IdempotentSubscribe(t *testing.T) {
	req := require.New(t)
	h := newTestHub(newFakeStore(), Config{})
	r := NewScopeRegistry()
	c := NewClient(h, nil, "alice")
	r.attach(c)

	req.True(r.Subscribe(c, scope.Chat("c1")))
	req.False(r.Subscribe(c, scope.Chat("c1")))
	req.False(r.Subscribe(c, scope.Chat("c1")))

	req.Len(r.MembersOf(scope.Chat("c1")), 1)
	req.Len(r.ScopesOf(c), 1)

	req.True(r.Unsubscribe(c, scope.Chat("c1")))
	req.False(r.Unsubscribe(c, scope.Chat("c1")))
	req.False(r.Unsubscribe(c, scope.Chat("never")))
	req.Empty(r.MembersOf(scope.Chat("c1")))
}

func TestScopeRegistry_DetachedClientCannotSubscribe(t *testing.T) {
	req := require.New(t)
	h := newTestHub(newFakeStore(), Config{})
	r := NewScopeRegistry()
	c := NewClient(h, nil, "alice")

	req.False(r.Subscribe(c, scope.Chat("c1")))

	r.attach(c)
	req.True(r.Subscribe(c, scope.Chat("c1")))
	req.Len(r.Drop(c), 1)

	// Given a dropped client, late subscriptions are ignored
	req.False(r.Subscribe(c, scope.Chat("c2")))
	req.Empty(r.MembersOf(scope.Chat("c2")))
}

func TestScopeRegistry_UnsubscribeWhere(t *testing.T) {
	req := require.New(t)
	h := newTestHub(newFakeStore(), Config{})
	r := NewScopeRegistry()
	c := NewClient(h, nil, "alice")
	r.attach(c)
	r.Subscribe(c, scope.Community("s1"))
	r.Subscribe(c, scope.CommunityChannel("s1", "a"))
	r.Subscribe(c, scope.CommunityChannel("s1", "b"))
	r.Subscribe(c, scope.CommunityChannel("s2", "a"))

	removed := r.UnsubscribeWhere(c, func(s scope.Scope) bool {
		parent, ok := s.Community()
		return ok && parent == scope.Community("s1")
	})

	req.ElementsMatch([]scope.Scope{scope.CommunityChannel("s1", "a"), scope.CommunityChannel("s1", "b")}, removed)
	req.ElementsMatch([]scope.Scope{scope.Community("s1"), scope.CommunityChannel("s2", "a")}, r.ScopesOf(c))
}

func TestHub_SeedsStaticScopesOnly(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	store.chatMembers["c1"] = []string{"alice", "bob"}
	store.chatMembers["c2"] = []string{"alice"}
	store.communityMembers["s1"] = []string{"alice"}
	store.channels["s1"] = []string{"general"}
	h := newTestHub(store, Config{})

	c := connect(h, "alice")

	req.ElementsMatch([]scope.Scope{
		scope.Personal("alice"),
		scope.Chat("c1"),
		scope.Chat("c2"),
		scope.Community("s1"),
	}, h.scopes.ScopesOf(c))
	select {
	case <-c.ready:
	default:
		t.Fatal("client not marked ready after seeding")
	}
}
