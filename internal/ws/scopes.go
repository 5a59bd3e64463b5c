package ws

import (
	"sync"

	"github.com/networkserver/internal/scope"
)

// ScopeRegistry maps scopes to subscribed connections, with a reverse index
// per connection. A connection must be attached before it can subscribe, and
// Drop detaches it, so late subscriptions for a closed connection are no-ops.
type ScopeRegistry struct {
	mu       sync.RWMutex
	members  map[scope.Scope]map[*Client]struct{}
	byClient map[*Client]map[scope.Scope]struct{}
}

func NewScopeRegistry() *ScopeRegistry {
	return &ScopeRegistry{
		members:  make(map[scope.Scope]map[*Client]struct{}),
		byClient: make(map[*Client]map[scope.Scope]struct{}),
	}
}

func (r *ScopeRegistry) attach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byClient[c]; !ok {
		r.byClient[c] = make(map[scope.Scope]struct{})
	}
}

// Subscribe reports whether a new membership was created. Subscribing twice,
// or subscribing a detached connection, is a no-op.
func (r *ScopeRegistry) Subscribe(c *Client, s scope.Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, ok := r.byClient[c]
	if !ok {
		return false
	}
	if _, dup := own[s]; dup {
		return false
	}
	own[s] = struct{}{}
	group, ok := r.members[s]
	if !ok {
		group = make(map[*Client]struct{})
		r.members[s] = group
	}
	group[c] = struct{}{}
	return true
}

// Unsubscribe reports whether a membership was removed. Absent memberships are
// not an error.
func (r *ScopeRegistry) Unsubscribe(c *Client, s scope.Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(c, s)
}

func (r *ScopeRegistry) unsubscribeLocked(c *Client, s scope.Scope) bool {
	own, ok := r.byClient[c]
	if !ok {
		return false
	}
	if _, ok := own[s]; !ok {
		return false
	}
	delete(own, s)
	if group, ok := r.members[s]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(r.members, s)
		}
	}
	return true
}

// UnsubscribeWhere removes every membership of c matching fn and returns them.
func (r *ScopeRegistry) UnsubscribeWhere(c *Client, fn func(scope.Scope) bool) []scope.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []scope.Scope
	for s := range r.byClient[c] {
		if fn(s) {
			removed = append(removed, s)
		}
	}
	for _, s := range removed {
		r.unsubscribeLocked(c, s)
	}
	return removed
}

// MembersOf returns a snapshot of the scope's connections. Cost is the group
// size, independent of the total number of connections.
func (r *ScopeRegistry) MembersOf(s scope.Scope) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group := r.members[s]
	out := make([]*Client, 0, len(group))
	for c := range group {
		out = append(out, c)
	}
	return out
}

func (r *ScopeRegistry) IsMember(c *Client, s scope.Scope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byClient[c][s]
	return ok
}

func (r *ScopeRegistry) ScopesOf(c *Client) []scope.Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]scope.Scope, 0, len(r.byClient[c]))
	for s := range r.byClient[c] {
		out = append(out, s)
	}
	return out
}

// Drop detaches c and removes all of its memberships.
func (r *ScopeRegistry) Drop(c *Client) []scope.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, ok := r.byClient[c]
	if !ok {
		return nil
	}
	out := make([]scope.Scope, 0, len(own))
	for s := range own {
		out = append(out, s)
		if group, ok := r.members[s]; ok {
			delete(group, c)
			if len(group) == 0 {
				delete(r.members, s)
			}
		}
	}
	delete(r.byClient, c)
	return out
}
