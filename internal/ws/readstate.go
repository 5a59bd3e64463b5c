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

// ReadState keeps conversation read marks and mention flags in sync across
// one identity's open clients. Its events go to the reader's personal scope
// only; read status is private per reader.
type ReadState struct {
	store ConversationStore
	out   *Broadcaster
}

func NewReadState(store ConversationStore, out *Broadcaster) *ReadState {
	return &ReadState{store: store, out: out}
}

func (r *ReadState) checkAccess(ctx context.Context, identity string, ref model.ConversationRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	ok, err := r.store.CanAccess(ctx, identity, ref.Scope())
	if err != nil {
		return fmt.Errorf("access %s: %w", ref.Key(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s for %s", ErrScopeResolution, ref.Key(), identity)
	}
	return nil
}

// MarkConversationRead adds identity to the conversation's readBy set. The
// event is published only when the identity was newly added.
func (r *ReadState) MarkConversationRead(ctx context.Context, identity string, ref model.ConversationRef) error {
	defer logger.DeferLogDuration("ws.MarkConversationRead", time.Now())()
	if err := r.checkAccess(ctx, identity, ref); err != nil {
		return err
	}
	return r.markRead(ctx, identity, ref)
}

func (r *ReadState) markRead(ctx context.Context, identity string, ref model.ConversationRef) error {
	readBy, added, err := r.store.SetConversationReadBy(ctx, ref, identity)
	if err != nil {
		return fmt.Errorf("%w: read mark %s: %v", ErrWrite, ref.Key(), err)
	}
	if !added {
		return nil
	}
	r.out.ToScope(scope.Personal(identity), OutgoingMessage{
		Type:    EventReadStateChanged,
		Payload: ReadStatePayload{Conversation: ref, Identity: identity, ReadBy: readBy},
	}, nil)
	return nil
}

// MarkCommunityRead announces a bulk read mark for a fresh community joiner.
// The persistence layer already added the joiner to every channel's readBy in
// the join transaction, so this only syncs the joiner's open clients.
func (r *ReadState) MarkCommunityRead(ctx context.Context, identity, communityID string, channelIDs []string) {
	for _, ch := range channelIDs {
		ref := model.ChannelRef(communityID, ch)
		readBy, _, err := r.store.SetConversationReadBy(ctx, ref, identity)
		if err != nil {
			logger.Errorf("ws community read community=%s channel=%s identity=%s: %v", communityID, ch, identity, err)
			continue
		}
		r.out.ToScope(scope.Personal(identity), OutgoingMessage{
			Type:    EventReadStateChanged,
			Payload: ReadStatePayload{Conversation: ref, Identity: identity, ReadBy: readBy},
		}, nil)
	}
}

// ReportViewport flips the identity's mentions in the visible messages from
// unseen to seen. Already-seen mentions produce nothing.
func (r *ReadState) ReportViewport(ctx context.Context, identity string, ref model.ConversationRef, messageIDs []string) (int, error) {
	defer logger.DeferLogDuration("ws.ReportViewport", time.Now())()
	if err := r.checkAccess(ctx, identity, ref); err != nil {
		return 0, err
	}
	changed := 0
	for _, id := range lo.Uniq(messageIDs) {
		ok, err := r.store.SetMentionRead(ctx, ref, id, identity)
		if err != nil {
			logger.Errorf("ws mention read %s message=%s identity=%s: %v", ref.Key(), id, identity, err)
			continue
		}
		if !ok {
			continue
		}
		changed++
		r.out.ToScope(scope.Personal(identity), OutgoingMessage{
			Type:    EventMentionRead,
			Payload: MentionReadPayload{Conversation: ref, MessageID: id, Identity: identity},
		}, nil)
	}
	return changed, nil
}
