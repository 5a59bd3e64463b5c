package ws

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/networkserver/internal/scope"
)

type typingKey struct {
	identity string
	scope    scope.Scope
}

type typingEntry struct {
	message string
	expires time.Time
}

type overlayKey struct {
	identity string
	chat     scope.Scope
}

// Ephemeral holds typing indicators and live overlays. Nothing here is
// persisted; a restart loses it all. Events are computed under the lock and
// published after it is released.
type Ephemeral struct {
	mu       sync.Mutex
	typing   map[typingKey]typingEntry
	overlays map[overlayKey]json.RawMessage
	ttl      time.Duration
	now      func() time.Time
	out      *Broadcaster
}

func NewEphemeral(out *Broadcaster, typingTTL time.Duration) *Ephemeral {
	if typingTTL <= 0 {
		typingTTL = 8 * time.Second
	}
	return &Ephemeral{
		typing:   make(map[typingKey]typingEntry),
		overlays: make(map[overlayKey]json.RawMessage),
		ttl:      typingTTL,
		now:      time.Now,
		out:      out,
	}
}

type pending struct {
	scope scope.Scope
	msg   OutgoingMessage
}

func (e *Ephemeral) flush(events []pending) {
	for _, ev := range events {
		e.out.ToScope(ev.scope, ev.msg, nil)
	}
}

// SetTyping upserts or clears the (identity, scope) entry and publishes the
// scope's typing set when it changed. A refresh with the same text only
// extends the expiry.
func (e *Ephemeral) SetTyping(identity string, s scope.Scope, active bool, message string) {
	e.mu.Lock()
	key := typingKey{identity: identity, scope: s}
	prev, had := e.typing[key]
	changed := false
	if active {
		e.typing[key] = typingEntry{message: message, expires: e.now().Add(e.ttl)}
		changed = !had || prev.message != message
	} else if had {
		delete(e.typing, key)
		changed = true
	}
	var events []pending
	if changed {
		events = append(events, e.typingEventLocked(s))
	}
	e.mu.Unlock()
	e.flush(events)
}

// Sweep expires typing entries that were not refreshed within the TTL.
func (e *Ephemeral) Sweep() {
	e.mu.Lock()
	now := e.now()
	touched := make(map[scope.Scope]struct{})
	for k, v := range e.typing {
		if !now.Before(v.expires) {
			delete(e.typing, k)
			touched[k.scope] = struct{}{}
		}
	}
	events := make([]pending, 0, len(touched))
	for s := range touched {
		events = append(events, e.typingEventLocked(s))
	}
	e.mu.Unlock()
	e.flush(events)
}

func (e *Ephemeral) typingEventLocked(s scope.Scope) pending {
	return pending{scope: s, msg: OutgoingMessage{Type: EventTypingChanged, Payload: e.typingPayloadLocked(s)}}
}

func (e *Ephemeral) typingPayloadLocked(s scope.Scope) TypingPayload {
	typers := make([]Typer, 0, 4)
	for k, v := range e.typing {
		if k.scope == s {
			typers = append(typers, Typer{Identity: k.identity, Message: v.message})
		}
	}
	sort.Slice(typers, func(i, j int) bool { return typers[i].Identity < typers[j].Identity })
	return TypingPayload{Scope: s, Typers: typers}
}

// UpsertOverlay sets the identity's overlay in chat. Overlays the identity
// held in other chats are cleared: a client shows one chat at a time.
func (e *Ephemeral) UpsertOverlay(identity string, chat scope.Scope, payload json.RawMessage) {
	e.mu.Lock()
	var events []pending
	for k := range e.overlays {
		if k.identity == identity && k.chat != chat {
			delete(e.overlays, k)
			events = append(events, overlayEvent(k.chat, identity, nil))
		}
	}
	e.overlays[overlayKey{identity: identity, chat: chat}] = payload
	events = append(events, overlayEvent(chat, identity, payload))
	e.mu.Unlock()
	e.flush(events)
}

// ClearOverlay removes the identity's overlay in chat, if any.
func (e *Ephemeral) ClearOverlay(identity string, chat scope.Scope) bool {
	e.mu.Lock()
	key := overlayKey{identity: identity, chat: chat}
	_, ok := e.overlays[key]
	delete(e.overlays, key)
	e.mu.Unlock()
	if ok {
		e.out.ToScope(chat, overlayEvent(chat, identity, nil).msg, nil)
	}
	return ok
}

// PurgeIdentity drops every typing entry and overlay owned by identity.
// Called on the identity's offline transition.
func (e *Ephemeral) PurgeIdentity(identity string) {
	e.mu.Lock()
	var events []pending
	for k := range e.overlays {
		if k.identity == identity {
			delete(e.overlays, k)
			events = append(events, overlayEvent(k.chat, identity, nil))
		}
	}
	touched := make(map[scope.Scope]struct{})
	for k := range e.typing {
		if k.identity == identity {
			delete(e.typing, k)
			touched[k.scope] = struct{}{}
		}
	}
	for s := range touched {
		events = append(events, e.typingEventLocked(s))
	}
	e.mu.Unlock()
	e.flush(events)
}

// Snapshot returns the current typers and overlays of a scope for a
// connection that just joined it.
func (e *Ephemeral) Snapshot(s scope.Scope) SnapshotPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := SnapshotPayload{Typing: e.typingPayloadLocked(s), Overlays: make([]OverlayPayload, 0)}
	for k, v := range e.overlays {
		if k.chat == s {
			snap.Overlays = append(snap.Overlays, OverlayPayload{Scope: s, Identity: k.identity, Payload: v})
		}
	}
	sort.Slice(snap.Overlays, func(i, j int) bool { return snap.Overlays[i].Identity < snap.Overlays[j].Identity })
	return snap
}

func overlayEvent(chat scope.Scope, identity string, payload json.RawMessage) pending {
	return pending{scope: chat, msg: OutgoingMessage{
		Type:    EventOverlayChanged,
		Payload: OverlayPayload{Scope: chat, Identity: identity, Payload: payload},
	}}
}
