package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/networkserver/internal/auth"
	"github.com/networkserver/internal/middleware"
	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/repository"
	"github.com/networkserver/internal/scope"
	"github.com/networkserver/internal/ws"
	"github.com/stretchr/testify/require"
)

type fakeRealtime struct {
	mu          sync.Mutex
	published   []*model.Message
	edited      []*model.Message
	deleted     []string
	readErr     error
	reads       []model.ConversationRef
	bulkReads   map[string][]string
	joined      []scope.Scope
	joinedBy    []string
	left        []scope.Scope
	broadcasts  []ws.OutgoingMessage
	broadcastTo []scope.Scope
	// events записывает порядок вызовов хаба.
	events []string
}

func (f *fakeRealtime) PublishMessage(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeRealtime) PublishEdit(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, msg)
	return nil
}

func (f *fakeRealtime) PublishDelete(_ context.Context, ref model.ConversationRef, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref.Key()+"/"+messageID)
	return nil
}

func (f *fakeRealtime) MarkConversationRead(_ context.Context, _ string, ref model.ConversationRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, ref)
	return f.readErr
}

func (f *fakeRealtime) MarkCommunityRead(_ context.Context, _, communityID string, channelIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkReads == nil {
		f.bulkReads = map[string][]string{}
	}
	f.bulkReads[communityID] = channelIDs
	f.events = append(f.events, "read")
}

func (f *fakeRealtime) JoinedScope(identity string, s scope.Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, s)
	f.joinedBy = append(f.joinedBy, identity)
	f.events = append(f.events, "joined")
}

func (f *fakeRealtime) LeftScope(_ string, s scope.Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, s)
	f.events = append(f.events, "left")
}

func (f *fakeRealtime) Broadcast(s scope.Scope, out ws.OutgoingMessage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, out)
	f.broadcastTo = append(f.broadcastTo, s)
	f.events = append(f.events, "broadcast")
	return 1
}

type fakeStore struct {
	members   map[scope.Scope][]string
	appendErr error
	appended  []*model.Message
	// messages по id; правка и удаление проверяют автора.
	messages  map[string]*model.Message
	channels  map[string][]string
	alreadyIn bool
	addErr    error
	leaveErr  error
}

func (s *fakeStore) CanAccess(_ context.Context, identity string, sc scope.Scope) (bool, error) {
	for _, m := range s.members[sc] {
		if m == identity {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) AppendMessage(_ context.Context, m *model.Message) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, m)
	return nil
}

func (s *fakeStore) authored(ref model.ConversationRef, messageID, identity string) (*model.Message, error) {
	m, ok := s.messages[messageID]
	if !ok || m.Conversation != ref {
		return nil, repository.ErrNotFound
	}
	if m.Author != identity {
		return nil, repository.ErrForbidden
	}
	return m, nil
}

func (s *fakeStore) EditMessage(_ context.Context, ref model.ConversationRef, messageID, identity, body string) (*model.Message, error) {
	m, err := s.authored(ref, messageID, identity)
	if err != nil {
		return nil, err
	}
	m.Edit(body, time.Now())
	return m, nil
}

func (s *fakeStore) DeleteMessage(_ context.Context, ref model.ConversationRef, messageID, identity string) error {
	if _, err := s.authored(ref, messageID, identity); err != nil {
		return err
	}
	delete(s.messages, messageID)
	return nil
}

func (s *fakeStore) JoinCommunity(_ context.Context, communityID, _ string) ([]string, bool, error) {
	ch, ok := s.channels[communityID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	return ch, !s.alreadyIn, nil
}

func (s *fakeStore) AddChatMembers(_ context.Context, chatID, inviter string, usernames []string) ([]string, []string, error) {
	if s.addErr != nil {
		return nil, nil, s.addErr
	}
	current := s.members[scope.Chat(chatID)]
	var added []string
	for _, u := range usernames {
		if !slices.Contains(current, u) && !slices.Contains(added, u) {
			added = append(added, u)
		}
	}
	s.members[scope.Chat(chatID)] = append(current, added...)
	return added, s.members[scope.Chat(chatID)], nil
}

func (s *fakeStore) LeaveCommunity(context.Context, string, string) error { return s.leaveErr }

func (s *fakeStore) LeaveChat(context.Context, string, string) error { return s.leaveErr }

type fakeOnline map[string]bool

func (f fakeOnline) OnlineAmong(_ context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = f[id]
	}
	return out, nil
}

// router собирает маршруты как в services/api, но с заранее заданной идентичностью.
func router(identity string, store *fakeStore, hub *fakeRealtime) http.Handler {
	msgs := NewMessageHandler(store, hub)
	reads := NewReadHandler(hub)
	communities := NewCommunityHandler(store, hub)
	presence := NewPresenceHandler(fakeOnline{"bob": true})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithIdentity(req.Context(), identity)))
		})
	})
	r.Post("/api/chats/{chatId}/messages", msgs.SendChatMessage)
	r.Patch("/api/chats/{chatId}/messages/{messageId}", msgs.EditChatMessage)
	r.Delete("/api/chats/{chatId}/messages/{messageId}", msgs.DeleteChatMessage)
	r.Post("/api/chats/{chatId}/members", communities.AddChatMembers)
	r.Delete("/api/communities/{communityId}/channels/{channelId}/messages/{messageId}", msgs.DeleteChannelMessage)
	r.Post("/api/chats/{chatId}/read", reads.MarkChatRead)
	r.Post("/api/chats/{chatId}/leave", communities.LeaveChat)
	r.Post("/api/communities/{communityId}/channels/{channelId}/messages", msgs.SendChannelMessage)
	r.Post("/api/communities/{communityId}/channels/{channelId}/read", reads.MarkChannelRead)
	r.Post("/api/communities/{communityId}/join", communities.JoinCommunity)
	r.Post("/api/communities/{communityId}/leave", communities.LeaveCommunity)
	r.Get("/api/presence", presence.GetPresence)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func TestSendChatMessage_PersistsThenPublishes(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{members: map[scope.Scope][]string{scope.Chat("c1"): {"alice", "bob"}}}
	hub := &fakeRealtime{}

	rec := do(router("alice", store, hub), http.MethodPost, "/api/chats/c1/messages",
		`{"body":"hi @bob and @bob","attachments":["f1"]}`)

	req.Equal(http.StatusCreated, rec.Code)
	var got model.Message
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	req.NotEmpty(got.ID)
	req.Equal("alice", got.Author)
	req.Equal(model.ChatRef("c1"), got.Conversation)
	req.Equal([]model.Mention{{Target: "bob"}}, got.Mentions)

	req.Len(store.appended, 1)
	req.Len(hub.published, 1)
	req.Equal(store.appended[0].ID, hub.published[0].ID)
}

func TestSendChannelMessage_NotMemberForbidden(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{members: map[scope.Scope][]string{}}
	hub := &fakeRealtime{}

	rec := do(router("mallory", store, hub), http.MethodPost,
		"/api/communities/s1/channels/general/messages", `{"body":"hi"}`)

	req.Equal(http.StatusForbidden, rec.Code)
	req.Empty(store.appended)
	req.Empty(hub.published)
}

func TestSendMessage_StoreFailureDoesNotBroadcast(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{
		members:   map[scope.Scope][]string{scope.Chat("c1"): {"alice"}},
		appendErr: errors.New("db down"),
	}
	hub := &fakeRealtime{}

	rec := do(router("alice", store, hub), http.MethodPost, "/api/chats/c1/messages", `{"body":"hi"}`)

	req.Equal(http.StatusInternalServerError, rec.Code)
	req.JSONEq(`{"error":"failed to save message"}`, rec.Body.String())
	req.Empty(hub.published)
}

func TestSendMessage_RejectsBadBodies(t *testing.T) {
	store := &fakeStore{members: map[scope.Scope][]string{scope.Chat("c1"): {"alice"}}}
	for name, body := range map[string]string{
		"not json":          `{`,
		"empty":             `{"body":"  "}`,
		"blank attachment":  `{"body":"x","attachments":[""]}`,
		"too many attached": `{"attachments":["1","2","3","4","5","6","7","8","9","10","11"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			hub := &fakeRealtime{}
			rec := do(router("alice", store, hub), http.MethodPost, "/api/chats/c1/messages", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Empty(t, hub.published)
		})
	}
}

func TestMarkRead_MapsErrors(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}

	hub := &fakeRealtime{}
	rec := do(router("alice", store, hub), http.MethodPost, "/api/communities/s1/channels/general/read", "")
	req.Equal(http.StatusOK, rec.Code)
	req.Equal([]model.ConversationRef{model.ChannelRef("s1", "general")}, hub.reads)

	hub = &fakeRealtime{readErr: ws.ErrScopeResolution}
	rec = do(router("alice", store, hub), http.MethodPost, "/api/chats/c1/read", "")
	req.Equal(http.StatusForbidden, rec.Code)

	hub = &fakeRealtime{readErr: errors.New("boom")}
	rec = do(router("alice", store, hub), http.MethodPost, "/api/chats/c1/read", "")
	req.Equal(http.StatusInternalServerError, rec.Code)
}

func TestJoinCommunity_SubscribesMarksReadAndAnnounces(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{channels: map[string][]string{"s1": {"general", "random"}}}
	hub := &fakeRealtime{}

	rec := do(router("carol", store, hub), http.MethodPost, "/api/communities/s1/join", "")

	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"community_id":"s1","channel_ids":["general","random"]}`, rec.Body.String())
	req.Equal([]string{"joined", "read", "broadcast"}, hub.events)
	req.Equal([]scope.Scope{scope.Community("s1")}, hub.joined)
	req.Equal([]string{"general", "random"}, hub.bulkReads["s1"])
	req.Equal(ws.MembershipPayload{CommunityID: "s1", Identity: "carol", Joined: true}, hub.broadcasts[0].Payload)
}

func TestJoinCommunity_Unknown(t *testing.T) {
	hub := &fakeRealtime{}
	rec := do(router("carol", &fakeStore{}, hub), http.MethodPost, "/api/communities/nope/join", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, hub.events)
}

func TestLeaveCommunity_AnnouncesBeforeUnsubscribe(t *testing.T) {
	req := require.New(t)
	hub := &fakeRealtime{}

	rec := do(router("carol", &fakeStore{}, hub), http.MethodPost, "/api/communities/s1/leave", "")

	req.Equal(http.StatusNoContent, rec.Code)
	req.Equal([]string{"broadcast", "left"}, hub.events)
	req.Equal(ws.MembershipPayload{CommunityID: "s1", Identity: "carol", Joined: false}, hub.broadcasts[0].Payload)
}

func TestLeaveChat(t *testing.T) {
	req := require.New(t)

	hub := &fakeRealtime{}
	rec := do(router("carol", &fakeStore{}, hub), http.MethodPost, "/api/chats/c1/leave", "")
	req.Equal(http.StatusNoContent, rec.Code)
	req.Equal([]scope.Scope{scope.Chat("c1")}, hub.left)

	hub = &fakeRealtime{}
	rec = do(router("carol", &fakeStore{leaveErr: repository.ErrNotFound}, hub), http.MethodPost, "/api/chats/c1/leave", "")
	req.Equal(http.StatusNotFound, rec.Code)
	req.Empty(hub.left)
}

func TestGetPresence(t *testing.T) {
	req := require.New(t)
	h := router("alice", &fakeStore{}, &fakeRealtime{})

	rec := do(h, http.MethodGet, "/api/presence?users=bob,%20carol,bob,", "")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`[{"username":"bob","online":true},{"username":"carol","online":false}]`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/presence", "")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`[]`, rec.Body.String())
}

type staticKey struct {
	key string
	err error
}

func (k staticKey) PublicKey() (string, error) { return k.key, k.err }

func TestGetPushConfig(t *testing.T) {
	req := require.New(t)
	get := func(keys PublicKeySource) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		NewConfigHandler(keys).GetPushConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config/push", nil))
		return rec
	}

	rec := get(staticKey{key: "pub"})
	req.JSONEq(`{"enabled":true,"vapid_public_key":"pub"}`, rec.Body.String())
	req.Equal("public, max-age=300", rec.Header().Get("Cache-Control"))

	req.JSONEq(`{"enabled":false}`, get(nil).Body.String())

	rec = get(staticKey{err: errors.New("read-only fs")})
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"enabled":false}`, rec.Body.String())
}

type connections int

func (c connections) Connections() int { return int(c) }

func TestHealth_ReportsConnections(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(connections(3)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","ws_connections":3}`, rec.Body.String())
}

func TestJoinCommunity_RejoinPublishesNothing(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{channels: map[string][]string{"s1": {"general"}}, alreadyIn: true}
	hub := &fakeRealtime{}

	rec := do(router("carol", store, hub), http.MethodPost, "/api/communities/s1/join", "")

	req.Equal(http.StatusOK, rec.Code)
	req.Equal([]string{"joined"}, hub.events)
	req.Empty(hub.bulkReads)
	req.Empty(hub.broadcasts)
}

func messageStore() *fakeStore {
	return &fakeStore{messages: map[string]*model.Message{
		"m1": {ID: "m1", Conversation: model.ChatRef("c1"), Author: "alice", Body: "@bob hi",
			Mentions: []model.Mention{{Target: "bob", Read: true}}},
		"m2": {ID: "m2", Conversation: model.ChannelRef("s1", "general"), Author: "alice", Body: "yo"},
	}}
}

func TestEditMessage_AuthorOnlyThenPublishes(t *testing.T) {
	req := require.New(t)
	store := messageStore()

	// A non-author is refused and nothing is published.
	hub := &fakeRealtime{}
	rec := do(router("bob", store, hub), http.MethodPatch, "/api/chats/c1/messages/m1", `{"body":"hacked"}`)
	req.Equal(http.StatusForbidden, rec.Code)
	req.Empty(hub.edited)

	rec = do(router("alice", store, hub), http.MethodPatch, "/api/chats/c2/messages/m1", `{"body":"x"}`)
	req.Equal(http.StatusNotFound, rec.Code)

	rec = do(router("alice", store, hub), http.MethodPatch, "/api/chats/c1/messages/m1", `{"body":"  "}`)
	req.Equal(http.StatusBadRequest, rec.Code)

	// When the author edits
	rec = do(router("alice", store, hub), http.MethodPatch, "/api/chats/c1/messages/m1", `{"body":"@bob @carol hello"}`)

	// Then bob's mention keeps its read flag and carol's starts unread
	req.Equal(http.StatusOK, rec.Code)
	var got model.Message
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	req.Equal([]model.Mention{{Target: "bob", Read: true}, {Target: "carol"}}, got.Mentions)
	req.NotNil(got.EditedAt)
	req.Len(hub.edited, 1)
	req.Equal("@bob @carol hello", hub.edited[0].Body)
}

func TestDeleteMessage_AuthorOnlyThenPublishes(t *testing.T) {
	req := require.New(t)
	store := messageStore()
	hub := &fakeRealtime{}

	rec := do(router("bob", store, hub), http.MethodDelete, "/api/communities/s1/channels/general/messages/m2", "")
	req.Equal(http.StatusForbidden, rec.Code)

	rec = do(router("alice", store, hub), http.MethodDelete, "/api/communities/s1/channels/general/messages/m2", "")
	req.Equal(http.StatusNoContent, rec.Code)
	req.Equal([]string{"community-channel:s1:general/m2"}, hub.deleted)

	rec = do(router("alice", store, hub), http.MethodDelete, "/api/chats/c1/messages/nope", "")
	req.Equal(http.StatusNotFound, rec.Code)
	req.Len(hub.deleted, 1)
}

func TestAddChatMembers_SubscribesNewMembersAndNotifiesAll(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{members: map[scope.Scope][]string{scope.Chat("c1"): {"alice", "bob"}}}
	hub := &fakeRealtime{}

	rec := do(router("alice", store, hub), http.MethodPost, "/api/chats/c1/members", `{"usernames":["carol","bob","dave"]}`)

	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"chat_id":"c1","added":["carol","dave"],"members":["alice","bob","carol","dave"]}`, rec.Body.String())
	req.Equal([]string{"carol", "dave"}, hub.joinedBy)
	req.Equal([]scope.Scope{scope.Chat("c1"), scope.Chat("c1")}, hub.joined)
	req.Equal([]scope.Scope{
		scope.Personal("alice"), scope.Personal("bob"), scope.Personal("carol"), scope.Personal("dave"),
	}, hub.broadcastTo)
	req.Equal(ws.EventChatMembersAdded, hub.broadcasts[0].Type)
}

func TestAddChatMembers_MapsErrors(t *testing.T) {
	for err, status := range map[error]int{
		repository.ErrNotFound:  http.StatusNotFound,
		repository.ErrForbidden: http.StatusForbidden,
		repository.ErrChatFull:  http.StatusBadRequest,
		errors.New("db down"):   http.StatusInternalServerError,
	} {
		hub := &fakeRealtime{}
		rec := do(router("alice", &fakeStore{addErr: err}, hub), http.MethodPost, "/api/chats/c1/members", `{"usernames":["carol"]}`)
		require.Equal(t, status, rec.Code, err.Error())
		require.Empty(t, hub.events)
	}

	rec := do(router("alice", &fakeStore{}, &fakeRealtime{}), http.MethodPost, "/api/chats/c1/members", `{"usernames":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeAuth struct {
	identity string
	err      error
}

func (a fakeAuth) GetIdentity(context.Context, string) (string, error) { return a.identity, a.err }

func TestServeWS_RejectsBeforeUpgrade(t *testing.T) {
	req := require.New(t)

	rec := httptest.NewRecorder()
	NewWSHandler(nil, fakeAuth{err: auth.ErrUnauthenticated}, "*").ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	req.Equal(http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	NewWSHandler(nil, fakeAuth{err: errors.New("db down")}, "*").ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	req.Equal(http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ws?token=x", nil)
	r.Header.Set("Origin", "https://evil.example")
	NewWSHandler(nil, fakeAuth{identity: "alice"}, "https://app.example").ServeWS(rec, r)
	req.Equal(http.StatusForbidden, rec.Code)
}
