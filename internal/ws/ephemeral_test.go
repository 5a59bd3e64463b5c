package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/networkserver/internal/scope"
)

func TestEphemeral_TypingUpsertAndClear(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	store.chatMembers["c1"] = []string{"alice", "bob"}
	h := newTestHub(store, Config{})
	bob := connect(h, "bob")
	drain(bob)
	chat := scope.Chat("c1")

	h.ephemeral.SetTyping("alice", chat, true, "")
	h.ephemeral.SetTyping("alice", chat, true, "")
	h.ephemeral.SetTyping("carol", chat, true, "draft")
	h.ephemeral.SetTyping("alice", chat, false, "")
	h.ephemeral.SetTyping("alice", chat, false, "")

	got := ofType(drain(bob), EventTypingChanged)
	req.Len(got, 3)
	req.Equal([]Typer{{Identity: "alice"}}, got[0].Payload.(TypingPayload).Typers)
	req.Equal([]Typer{{Identity: "alice"}, {Identity: "carol", Message: "draft"}}, got[1].Payload.(TypingPayload).Typers)
	req.Equal([]Typer{{Identity: "carol", Message: "draft"}}, got[2].Payload.(TypingPayload).Typers)
}

func TestEphemeral_TypingExpires(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	store.chatMembers["c1"] = []string{"bob"}
	h := newTestHub(store, Config{TypingTTL: 5 * time.Second})
	bob := connect(h, "bob")
	drain(bob)
	now := time.Unix(1000, 0)
	h.ephemeral.now = func() time.Time { return now }
	chat := scope.Chat("c1")

	h.ephemeral.SetTyping("alice", chat, true, "")
	drain(bob)

	now = now.Add(4 * time.Second)
	h.ephemeral.Sweep()
	req.Empty(drain(bob))

	now = now.Add(2 * time.Second)
	h.ephemeral.Sweep()
	got := ofType(drain(bob), EventTypingChanged)
	req.Len(got, 1)
	req.Empty(got[0].Payload.(TypingPayload).Typers)
}

func TestEphemeral_OverlayAtMostOnePerChat(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	store.chatMembers["c1"] = []string{"bob"}
	store.chatMembers["c2"] = []string{"bob"}
	h := newTestHub(store, Config{})
	bob := connect(h, "bob")
	drain(bob)

	h.ephemeral.UpsertOverlay("alice", scope.Chat("c1"), json.RawMessage(`{"v":1}`))
	h.ephemeral.UpsertOverlay("alice", scope.Chat("c1"), json.RawMessage(`{"v":2}`))

	snap := h.ephemeral.Snapshot(scope.Chat("c1"))
	req.Len(snap.Overlays, 1)
	req.JSONEq(`{"v":2}`, string(snap.Overlays[0].Payload))

	// Upserting into another chat supersedes the first one.
	drain(bob)
	h.ephemeral.UpsertOverlay("alice", scope.Chat("c2"), json.RawMessage(`{"v":3}`))

	req.Empty(h.ephemeral.Snapshot(scope.Chat("c1")).Overlays)
	req.Len(h.ephemeral.Snapshot(scope.Chat("c2")).Overlays, 1)
	got := ofType(drain(bob), EventOverlayChanged)
	req.Len(got, 2)
	req.Equal(scope.Chat("c1"), got[0].Payload.(OverlayPayload).Scope)
	req.Nil(got[0].Payload.(OverlayPayload).Payload)
	req.Equal(scope.Chat("c2"), got[1].Payload.(OverlayPayload).Scope)
}

func TestEphemeral_ClearOverlay(t *testing.T) {
	req := require.New(t)
	h := newTestHub(newFakeStore(), Config{})
	chat := scope.Chat("c1")

	req.False(h.ephemeral.ClearOverlay("alice", chat))
	h.ephemeral.UpsertOverlay("alice", chat, json.RawMessage(`{}`))
	req.True(h.ephemeral.ClearOverlay("alice", chat))
	req.False(h.ephemeral.ClearOverlay("alice", chat))
}
