package ws

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/scope"
)

// fakeStore implements Directory, ConversationStore, PresenceStore and
// PushNotifier over in-memory maps.
type fakeStore struct {
	mu               sync.Mutex
	friends          map[string][]string
	chatMembers      map[string][]string
	communityMembers map[string][]string
	channels         map[string][]string
	readBy           map[string]map[string]struct{}
	mentions         map[string]map[string]bool
	flags            []presenceCall
	onFlag           func(identity string, online bool)
	onListChats      func(identity string)
	participantsErr  error
	pushed           chan string
}

type presenceCall struct {
	identity string
	online   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		friends:          make(map[string][]string),
		chatMembers:      make(map[string][]string),
		communityMembers: make(map[string][]string),
		channels:         make(map[string][]string),
		readBy:           make(map[string]map[string]struct{}),
		mentions:         make(map[string]map[string]bool),
		pushed:           make(chan string, 32),
	}
}

func (f *fakeStore) befriend(a, b string) {
	f.friends[a] = append(f.friends[a], b)
	f.friends[b] = append(f.friends[b], a)
}

func (f *fakeStore) memberOf(m map[string][]string, identity string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, members := range m {
		if slices.Contains(members, identity) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeStore) ListChats(_ context.Context, identity string) ([]string, error) {
	if f.onListChats != nil {
		f.onListChats(identity)
	}
	return f.memberOf(f.chatMembers, identity), nil
}

func (f *fakeStore) ListCommunities(_ context.Context, identity string) ([]string, error) {
	return f.memberOf(f.communityMembers, identity), nil
}

func (f *fakeStore) ListFriends(_ context.Context, identity string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.friends[identity]), nil
}

func (f *fakeStore) CanAccess(_ context.Context, identity string, s scope.Scope) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch s.Kind {
	case scope.KindPersonal:
		return s.ID == identity, nil
	case scope.KindChat:
		return slices.Contains(f.chatMembers[s.ID], identity), nil
	case scope.KindCommunity:
		return slices.Contains(f.communityMembers[s.ID], identity), nil
	case scope.KindCommunityChannel:
		return slices.Contains(f.communityMembers[s.ID], identity) && slices.Contains(f.channels[s.ID], s.Channel), nil
	}
	return false, nil
}

func (f *fakeStore) Participants(_ context.Context, ref model.ConversationRef) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.participantsErr != nil {
		return nil, f.participantsErr
	}
	if ref.Kind == model.ConversationChannel {
		return slices.Clone(f.communityMembers[ref.CommunityID]), nil
	}
	return slices.Clone(f.chatMembers[ref.ChatID]), nil
}

// appendMessage mirrors the persistence write: readBy is reset to the author
// and every mention starts unread.
func (f *fakeStore) appendMessage(m *model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readBy[m.Conversation.Key()] = map[string]struct{}{m.Author: {}}
	flags := make(map[string]bool)
	for _, mention := range m.Mentions {
		flags[mention.Target] = mention.Read
	}
	f.mentions[m.ID] = flags
}

func (f *fakeStore) readers(ref model.ConversationRef) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.readBy[ref.Key()])
}

func (f *fakeStore) SetConversationReadBy(_ context.Context, ref model.ConversationRef, identity string) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.readBy[ref.Key()]
	if !ok {
		set = make(map[string]struct{})
		f.readBy[ref.Key()] = set
	}
	_, had := set[identity]
	set[identity] = struct{}{}
	return sortedKeys(set), !had, nil
}

func (f *fakeStore) SetMentionRead(_ context.Context, _ model.ConversationRef, messageID, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	read, ok := f.mentions[messageID][identity]
	if !ok || read {
		return false, nil
	}
	f.mentions[messageID][identity] = true
	return true, nil
}

func (f *fakeStore) mentionRead(messageID, identity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mentions[messageID][identity]
}

func (f *fakeStore) SetPresenceFlag(_ context.Context, identity string, online bool) error {
	if f.onFlag != nil {
		f.onFlag(identity, online)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = append(f.flags, presenceCall{identity: identity, online: online})
	return nil
}

func (f *fakeStore) Notify(_ context.Context, identity, _, _ string, _ map[string]string) {
	f.pushed <- identity
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newTestHub(store *fakeStore, cfg Config) *Hub {
	return NewHub(store, store, store, store, cfg)
}

// connect registers a socketless client the way the Run loop would and waits
// for its seeding and presence work.
func connect(h *Hub, identity string) *Client {
	c := NewClient(h, nil, identity)
	h.addClient(c)
	h.lanes.wait()
	return c
}

// disconnect is the unregister counterpart of connect.
func disconnect(h *Hub, c *Client) {
	h.removeClient(c)
	h.lanes.wait()
}

// drain empties the client's send queue.
func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func ofType(msgs []OutgoingMessage, t EventType) []OutgoingMessage {
	var out []OutgoingMessage
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func types(msgs []OutgoingMessage) []EventType {
	out := make([]EventType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func frame(t *testing.T, v any) IncomingMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var msg IncomingMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	msg.Raw = raw
	return msg
}
