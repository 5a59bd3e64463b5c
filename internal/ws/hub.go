package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/scope"
)

type Config struct {
	MaxConnections int
	SendBuffer     int
	MaxMessageSize int64
	PongWait       time.Duration
	WriteWait      time.Duration
	TypingTTL      time.Duration
	// OpTimeout bounds every persistence call made for connection seeding,
	// presence and socket requests.
	OpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10000
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 8 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	return c
}

// Hub owns the connection lifecycle. Register and unregister run on the Run
// loop, which never waits on persistence: seeding and presence transitions run
// on a per-identity lane. Socket requests run on each client's read goroutine
// and HTTP handlers call the exported hooks from their own goroutines.
type Hub struct {
	cfg        Config
	dir        Directory
	store      ConversationStore
	sessions   *Sessions
	scopes     *ScopeRegistry
	out        *Broadcaster
	presence   *Presence
	ephemeral  *Ephemeral
	reads      *ReadState
	validate   *validator.Validate
	lanes      *lanes
	register   chan *Client
	unregister chan *Client
	// regMu orders in-flight Register sends before the shutdown drain.
	regMu sync.RWMutex
	// stopping is closed when shutdown starts.
	stopping chan struct{}
	// ops is the parent context of lane work, cancelled by shutdown.
	ops     context.Context
	stopOps context.CancelFunc
}

func NewHub(dir Directory, store ConversationStore, presenceStore PresenceStore, push PushNotifier, cfg Config) *Hub {
	cfg = cfg.withDefaults()
	scopes := NewScopeRegistry()
	out := NewBroadcaster(scopes, store, push)
	ephemeral := NewEphemeral(out, cfg.TypingTTL)
	ops, stopOps := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		dir:        dir,
		store:      store,
		sessions:   NewSessions(cfg.MaxConnections),
		scopes:     scopes,
		out:        out,
		presence:   NewPresence(dir, presenceStore, out, ephemeral, cfg.OpTimeout),
		ephemeral:  ephemeral,
		reads:      NewReadState(store, out),
		validate:   validator.New(),
		lanes:      newLanes(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stopping:   make(chan struct{}),
		ops:        ops,
		stopOps:    stopOps,
	}
}

func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.cfg.TypingTTL / 2)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-sweep.C:
			h.ephemeral.Sweep()
		}
	}
}

// shutdown closes every connection and waits for its pumps. Pumps that exit
// meanwhile find stopping closed and do not block on the unregister queue.
func (h *Hub) shutdown() {
	close(h.stopping)
	h.stopOps()
	h.regMu.Lock()
	h.regMu.Unlock()

	all := h.sessions.drain()
	for _, c := range all {
		h.scopes.Drop(c)
		c.Close()
	}
drainRegister:
	for {
		select {
		case c := <-h.register:
			c.Close()
			all = append(all, c)
		default:
			break drainRegister
		}
	}
	for _, c := range all {
		c.Wait()
	}
	h.lanes.wait()
	logger.Infof("ws hub stopped, %d connections closed", len(all))
}

// addClient binds c on the loop and hands seeding to the identity's lane.
func (h *Hub) addClient(c *Client) {
	h.scopes.attach(c)
	first, err := h.sessions.add(c)
	if err != nil {
		h.scopes.Drop(c)
		logger.Errorf("ws reject identity=%q conn=%s: %v", c.identity, c.id, err)
		c.Close()
		return
	}
	h.scopes.Subscribe(c, scope.Personal(c.identity))
	h.lanes.do(c.identity, func() { h.seed(c, first) })
}

// seed subscribes c to its static scopes and opens its request gate. A
// connection that went away while the lookups were in flight is not
// subscribed; its online transition still runs so the offline one queued
// behind it has something to close.
func (h *Hub) seed(c *Client, first bool) {
	defer logger.DeferLogDuration("hub.seed", time.Now())()
	ctx, cancel := context.WithTimeout(h.ops, h.cfg.OpTimeout)
	defer cancel()
	chats, err := h.dir.ListChats(ctx, c.identity)
	if err != nil {
		logger.Errorf("ws seed chats identity=%s: %v", c.identity, err)
	}
	communities, err := h.dir.ListCommunities(ctx, c.identity)
	if err != nil {
		logger.Errorf("ws seed communities identity=%s: %v", c.identity, err)
	}
	if h.sessions.IsRegistered(c) {
		for _, id := range chats {
			h.scopes.Subscribe(c, scope.Chat(id))
		}
		for _, id := range communities {
			h.scopes.Subscribe(c, scope.Community(id))
		}
		c.markReady()
		logger.Debugf("ws ready identity=%s conn=%s scopes=%d", c.identity, c.id, len(h.scopes.ScopesOf(c)))
	}
	if first {
		h.presence.MarkOnline(h.ops, c.identity, communities)
	}
}

func (h *Hub) removeClient(c *Client) {
	last, ok := h.sessions.remove(c)
	if !ok {
		c.Close()
		return
	}
	h.scopes.Drop(c)
	// Network I/O outside the registries' locks.
	c.Close()
	if last {
		h.lanes.do(c.identity, func() { h.presence.MarkOffline(h.ops, c.identity) })
	}
}

// Register hands c to the Run loop. Once shutdown has started the client is
// closed instead.
func (h *Hub) Register(c *Client) {
	h.regMu.RLock()
	defer h.regMu.RUnlock()
	select {
	case <-h.stopping:
		c.Close()
		return
	default:
	}
	select {
	case h.register <- c:
	case <-h.stopping:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}

// Connections is the number of live connections.
func (h *Hub) Connections() int {
	return h.sessions.Count()
}

// HandleMessage dispatches a client request. Malformed requests are answered
// with an error event to the sender only; requests for inaccessible scopes are
// dropped silently.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.OpTimeout)
	defer cancel()
	var err error
	switch msg.Type {
	case RequestJoinScope:
		err = h.handleJoinScope(ctx, c, msg.Raw)
	case RequestLeaveScope:
		err = h.handleLeaveScope(c, msg.Raw)
	case RequestSetTyping:
		err = h.handleSetTyping(c, msg.Raw)
	case RequestSetOverlay:
		err = h.handleSetOverlay(c, msg.Raw)
	case RequestReportViewport:
		err = h.handleReportViewport(ctx, c, msg.Raw)
	case RequestOpenConversation:
		err = h.handleOpenConversation(ctx, c, msg.Raw)
	default:
		err = badRequest{msg: "unknown request type"}
	}
	h.reportError(c, msg.Type, err)
}

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (h *Hub) reportError(c *Client, typ EventType, err error) {
	var bad badRequest
	switch {
	case err == nil:
	case errors.As(err, &bad):
		deliver(c, errorMessage(bad.msg))
	case errors.Is(err, ErrScopeResolution):
		logger.Debugf("ws %s identity=%s ignored: %v", typ, c.identity, err)
	case errors.Is(err, model.ErrInvalidConversation), errors.Is(err, scope.ErrInvalid):
		deliver(c, errorMessage(err.Error()))
	default:
		logger.Errorf("ws %s identity=%s: %v", typ, c.identity, err)
		deliver(c, errorMessage("internal error"))
	}
}

func (h *Hub) decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest{msg: "malformed request"}
	}
	if err := h.validate.Struct(v); err != nil {
		return badRequest{msg: fmt.Sprintf("invalid request: %v", err)}
	}
	return nil
}

func (h *Hub) handleJoinScope(ctx context.Context, c *Client, raw json.RawMessage) error {
	var req joinScopeRequest
	if err := h.decode(raw, &req); err != nil {
		return err
	}
	s, err := scope.Parse(req.Scope)
	if err != nil {
		return err
	}
	ok, err := h.store.CanAccess(ctx, c.identity, s)
	if err != nil {
		return fmt.Errorf("access %s: %w", s, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrScopeResolution, s)
	}
	// The connection may have gone away while the access check was in flight.
	if !h.sessions.IsRegistered(c) {
		return nil
	}
	h.scopes.Subscribe(c, s)
	if s.Kind == scope.KindCommunityChannel {
		ref, _ := model.RefFromScope(s)
		if err := h.reads.markRead(ctx, c.identity, ref); err != nil {
			return err
		}
	}
	if s.Kind == scope.KindChat || s.Kind == scope.KindCommunityChannel {
		deliver(c, OutgoingMessage{Type: EventScopeSnapshot, Payload: h.ephemeral.Snapshot(s)})
	}
	return nil
}

func (h *Hub) handleLeaveScope(c *Client, raw json.RawMessage) error {
	var req joinScopeRequest
	if err := h.decode(raw, &req); err != nil {
		return err
	}
	s, err := scope.Parse(req.Scope)
	if err != nil {
		return err
	}
	if s == scope.Personal(c.identity) {
		return badRequest{msg: "personal scope cannot be left"}
	}
	h.scopes.Unsubscribe(c, s)
	h.leftView(c.identity, s)
	return nil
}

// leftView clears the identity's ephemeral state in a scope it stopped viewing.
func (h *Hub) leftView(identity string, s scope.Scope) {
	switch s.Kind {
	case scope.KindChat:
		h.ephemeral.ClearOverlay(identity, s)
		h.ephemeral.SetTyping(identity, s, false, "")
	case scope.KindCommunityChannel:
		h.ephemeral.SetTyping(identity, s, false, "")
	}
}

func (h *Hub) handleSetTyping(c *Client, raw json.RawMessage) error {
	var req setTypingRequest
	if err := h.decode(raw, &req); err != nil {
		return err
	}
	s, err := scope.Parse(req.Scope)
	if err != nil {
		return err
	}
	if s.Kind != scope.KindChat && s.Kind != scope.KindCommunityChannel {
		return badRequest{msg: "typing is only supported in conversations"}
	}
	if !h.scopes.IsMember(c, s) {
		return fmt.Errorf("%w: typing in %s without membership", ErrScopeResolution, s)
	}
	h.ephemeral.SetTyping(c.identity, s, req.Active, req.Message)
	return nil
}

func (h *Hub) handleSetOverlay(c *Client, raw json.RawMessage) error {
	var req setOverlayRequest
	if err := h.decode(raw, &req); err != nil {
		return err
	}
	s, err := scope.Parse(req.Scope)
	if err != nil {
		return err
	}
	if s.Kind != scope.KindChat {
		return badRequest{msg: "overlays are only supported in chats"}
	}
	if !h.scopes.IsMember(c, s) {
		return fmt.Errorf("%w: overlay in %s without membership", ErrScopeResolution, s)
	}
	if isNull(req.Payload) {
		h.ephemeral.ClearOverlay(c.identity, s)
		return nil
	}
	h.ephemeral.UpsertOverlay(c.identity, s, req.Payload)
	return nil
}

func (h *Hub) handleReportViewport(ctx context.Context, c *Client, raw json.RawMessage) error {
	var req reportViewportRequest
	if err := h.decode(raw, &req); err != nil {
		return err
	}
	_, err := h.reads.ReportViewport(ctx, c.identity, req.Conversation, req.MessageIDs)
	return err
}

func (h *Hub) handleOpenConversation(ctx context.Context, c *Client, raw json.RawMessage) error {
	var req openConversationRequest
	if err := h.decode(raw, &req); err != nil {
		return err
	}
	return h.reads.MarkConversationRead(ctx, c.identity, req.Conversation)
}

func isNull(p json.RawMessage) bool {
	p = bytes.TrimSpace(p)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// JoinedScope subscribes every live connection of identity to s. Called by
// membership handlers after a successful join.
func (h *Hub) JoinedScope(identity string, s scope.Scope) {
	for _, c := range h.sessions.ConnectionsFor(identity) {
		h.scopes.Subscribe(c, s)
	}
}

// LeftScope unsubscribes every live connection of identity from s. Leaving a
// community also drops the identity's channel scopes inside it.
func (h *Hub) LeftScope(identity string, s scope.Scope) {
	for _, c := range h.sessions.ConnectionsFor(identity) {
		h.scopes.Unsubscribe(c, s)
		if s.Kind != scope.KindCommunity {
			continue
		}
		channels := h.scopes.UnsubscribeWhere(c, func(sub scope.Scope) bool {
			parent, ok := sub.Community()
			return ok && parent == s
		})
		for _, ch := range channels {
			h.leftView(identity, ch)
		}
	}
	h.leftView(identity, s)
}

// Broadcast delivers out to every connection subscribed to s.
func (h *Hub) Broadcast(s scope.Scope, out OutgoingMessage) int {
	return h.out.ToScope(s, out, nil)
}

// PublishMessage announces a persisted message. See Broadcaster.PublishMessage.
func (h *Hub) PublishMessage(ctx context.Context, msg *model.Message) error {
	return h.out.PublishMessage(ctx, msg)
}

func (h *Hub) PublishEdit(ctx context.Context, msg *model.Message) error {
	return h.out.PublishEdit(ctx, msg)
}

func (h *Hub) PublishDelete(ctx context.Context, ref model.ConversationRef, messageID string) error {
	return h.out.PublishDelete(ctx, ref, messageID)
}

func (h *Hub) MarkConversationRead(ctx context.Context, identity string, ref model.ConversationRef) error {
	return h.reads.MarkConversationRead(ctx, identity, ref)
}

func (h *Hub) MarkCommunityRead(ctx context.Context, identity, communityID string, channelIDs []string) {
	h.reads.MarkCommunityRead(ctx, identity, communityID, channelIDs)
}
