package ws

import (
	"fmt"
	"sync"

	"github.com/networkserver/internal/auth"
)

// Sessions tracks live connections per identity. A single identity may hold
// several connections (multi-device); each is tracked independently.
type Sessions struct {
	mu         sync.RWMutex
	byIdentity map[string]map[*Client]struct{}
	total      int
	max        int
}

func NewSessions(max int) *Sessions {
	if max <= 0 {
		max = 10000
	}
	return &Sessions{byIdentity: make(map[string]map[*Client]struct{}), max: max}
}

// add binds c to its identity. first reports the 0→1 transition.
func (s *Sessions) add(c *Client) (first bool, err error) {
	if c.identity == "" {
		return false, auth.ErrUnauthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.byIdentity[c.identity]
	if ok {
		if _, dup := conns[c]; dup {
			return false, nil
		}
	}
	if s.total >= s.max {
		return false, fmt.Errorf("%w (%d)", ErrConnectionLimit, s.max)
	}
	if !ok {
		conns = make(map[*Client]struct{})
		s.byIdentity[c.identity] = conns
	}
	conns[c] = struct{}{}
	s.total++
	return len(conns) == 1, nil
}

// remove unbinds c. last reports the N→0 transition; ok is false when c was
// not registered.
func (s *Sessions) remove(c *Client) (last, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, found := s.byIdentity[c.identity]
	if !found {
		return false, false
	}
	if _, exists := conns[c]; !exists {
		return false, false
	}
	delete(conns, c)
	s.total--
	if len(conns) == 0 {
		delete(s.byIdentity, c.identity)
		return true, true
	}
	return false, true
}

// ConnectionsFor returns a snapshot of the identity's live connections.
func (s *Sessions) ConnectionsFor(identity string) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.byIdentity[identity]
	out := make([]*Client, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

func (s *Sessions) IsOnline(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdentity[identity]) > 0
}

// IsRegistered lets late async work check that its connection is still live.
func (s *Sessions) IsRegistered(c *Client) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byIdentity[c.identity][c]
	return ok
}

func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// drain empties the registry and returns every connection it held.
func (s *Sessions) drain() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*Client, 0, s.total)
	for _, conns := range s.byIdentity {
		for c := range conns {
			all = append(all, c)
		}
	}
	s.byIdentity = make(map[string]map[*Client]struct{})
	s.total = 0
	return all
}
