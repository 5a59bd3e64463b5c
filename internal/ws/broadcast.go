package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/scope"
)

const pushTimeout = 10 * time.Second

// Broadcaster delivers events to scope members. Each scope's member list is
// iterated independently; a slow or closed member never affects the others.
type Broadcaster struct {
	scopes *ScopeRegistry
	store  ConversationStore
	push   PushNotifier
}

func NewBroadcaster(scopes *ScopeRegistry, store ConversationStore, push PushNotifier) *Broadcaster {
	return &Broadcaster{scopes: scopes, store: store, push: push}
}

// ToScope delivers out to every member of s except the connection except.
// An empty scope is a valid, silent outcome.
func (b *Broadcaster) ToScope(s scope.Scope, out OutgoingMessage, except *Client) int {
	n := 0
	for _, c := range b.scopes.MembersOf(s) {
		if c == except {
			continue
		}
		if deliver(c, out) {
			n++
		}
	}
	return n
}

// ToScopes delivers out once per connection across the union of scopes,
// skipping connections owned by exceptIdentity.
func (b *Broadcaster) ToScopes(scopes []scope.Scope, out OutgoingMessage, exceptIdentity string) int {
	seen := make(map[*Client]struct{}, 16)
	n := 0
	for _, s := range scopes {
		for _, c := range b.scopes.MembersOf(s) {
			if c.identity == exceptIdentity {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			if deliver(c, out) {
				n++
			}
		}
	}
	return n
}

// PublishMessage announces a message that has already been persisted. The
// full message goes to the conversation scope. Every participant other than
// the author gets conversation-updated and play-notification on the personal
// scope; participants with no live connection get a push instead.
func (b *Broadcaster) PublishMessage(ctx context.Context, msg *model.Message) error {
	defer logger.DeferLogDuration("ws.PublishMessage", time.Now())()
	ref := msg.Conversation
	b.ToScope(ref.Scope(), OutgoingMessage{
		Type:    EventMessageAppended,
		Payload: MessageAppendedPayload{Conversation: ref, Message: msg},
	}, nil)

	participants, err := b.store.Participants(ctx, ref)
	if err != nil {
		return fmt.Errorf("ws.PublishMessage participants %s: %w", ref.Key(), err)
	}
	updated := OutgoingMessage{
		Type:    EventConversationUpdated,
		Payload: ConversationUpdatedPayload{Conversation: ref, ReadBy: []string{msg.Author}},
	}
	notify := OutgoingMessage{
		Type:    EventPlayNotification,
		Payload: PlayNotificationPayload{Conversation: ref, MessageID: msg.ID, Author: msg.Author},
	}
	var offline []string
	for _, p := range lo.Without(lo.Uniq(participants), msg.Author) {
		personal := scope.Personal(p)
		if b.ToScope(personal, updated, nil) == 0 {
			offline = append(offline, p)
			continue
		}
		b.ToScope(personal, notify, nil)
	}
	b.pushOffline(msg, offline)
	return nil
}

// PublishEdit announces an edited message. See publishChange for who hears it.
func (b *Broadcaster) PublishEdit(ctx context.Context, msg *model.Message) error {
	return b.publishChange(ctx, msg.Conversation, OutgoingMessage{
		Type:    EventMessageUpdated,
		Payload: MessageAppendedPayload{Conversation: msg.Conversation, Message: msg},
	})
}

func (b *Broadcaster) PublishDelete(ctx context.Context, ref model.ConversationRef, messageID string) error {
	return b.publishChange(ctx, ref, OutgoingMessage{
		Type:    EventMessageDeleted,
		Payload: MessageDeletedPayload{Conversation: ref, MessageID: messageID},
	})
}

// publishChange sends out to the open view and to every place the
// conversation is listed: participants' personal scopes for a chat, the
// community scope for a channel. Each connection gets it once. When the
// participants cannot be resolved only the open view hears about it.
func (b *Broadcaster) publishChange(ctx context.Context, ref model.ConversationRef, out OutgoingMessage) error {
	defer logger.DeferLogDuration("ws.publishChange", time.Now())()
	audience := []scope.Scope{ref.Scope()}
	var err error
	if ref.Kind == model.ConversationChannel {
		audience = append(audience, scope.Community(ref.CommunityID))
	} else {
		participants, perr := b.store.Participants(ctx, ref)
		if perr != nil {
			err = fmt.Errorf("ws.publishChange %s participants %s: %w", out.Type, ref.Key(), perr)
		}
		for _, p := range lo.Uniq(participants) {
			audience = append(audience, scope.Personal(p))
		}
	}
	b.ToScopes(audience, out, "")
	return err
}

func (b *Broadcaster) pushOffline(msg *model.Message, identities []string) {
	if b.push == nil || len(identities) == 0 {
		return
	}
	body := msg.Body
	if r := []rune(body); len(r) > 120 {
		body = string(r[:120]) + "…"
	}
	data := map[string]string{
		"conversation": msg.Conversation.Key(),
		"message_id":   msg.ID,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		for _, identity := range identities {
			b.push.Notify(ctx, identity, msg.Author, body, data)
		}
	}()
}

// deliver is a non-blocking send. A full queue closes the slow client, which
// then unregisters itself; the event is dropped for that connection only.
func deliver(c *Client, out OutgoingMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- out:
		return true
	case <-c.done:
		return false
	default:
		logger.Errorf("ws send buffer full, closing slow client identity=%s conn=%s", c.identity, c.id)
		c.Close()
		return false
	}
}
