package ws

import (
	"encoding/json"

	"github.com/networkserver/internal/model"
	"github.com/networkserver/internal/scope"
)

type EventType string

// Server events.
const (
	EventPresenceOnline      EventType = "presence-online"
	EventPresenceOffline     EventType = "presence-offline"
	EventMessageAppended     EventType = "message-appended"
	EventMessageUpdated      EventType = "message-updated"
	EventMessageDeleted      EventType = "message-deleted"
	EventChatMembersAdded    EventType = "chat-members-added"
	EventConversationUpdated EventType = "conversation-updated"
	EventPlayNotification    EventType = "play-notification"
	EventTypingChanged       EventType = "typing-changed"
	EventOverlayChanged      EventType = "overlay-changed"
	EventMentionRead         EventType = "mention-read"
	EventReadStateChanged    EventType = "read-state-changed"
	EventMembershipChanged   EventType = "community-membership-changed"
	EventScopeSnapshot       EventType = "scope-snapshot"
	EventError               EventType = "error"
)

// Client requests.
const (
	RequestJoinScope        EventType = "join-scope"
	RequestLeaveScope       EventType = "leave-scope"
	RequestSetTyping        EventType = "set-typing"
	RequestReportViewport   EventType = "report-viewport"
	RequestSetOverlay       EventType = "set-overlay"
	RequestOpenConversation EventType = "open-conversation"
)

// IncomingMessage is what the client sends to the server. Raw keeps the whole
// frame so each request type decodes its own fields.
type IncomingMessage struct {
	Type EventType       `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

type joinScopeRequest struct {
	Scope string `json:"scope" validate:"required,max=300"`
}

type setTypingRequest struct {
	Scope   string `json:"scope" validate:"required,max=300"`
	Active  bool   `json:"active"`
	Message string `json:"message" validate:"max=512"`
}

type reportViewportRequest struct {
	Conversation model.ConversationRef `json:"conversation"`
	MessageIDs   []string              `json:"message_ids" validate:"required,min=1,max=200,dive,required,max=128"`
}

type setOverlayRequest struct {
	Scope   string          `json:"scope" validate:"required,max=300"`
	Payload json.RawMessage `json:"payload"`
}

type openConversationRequest struct {
	Conversation model.ConversationRef `json:"conversation"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type PresencePayload struct {
	Identity string `json:"identity"`
}

type MessageAppendedPayload struct {
	Conversation model.ConversationRef `json:"conversation"`
	Message      *model.Message        `json:"message"`
}

// MessageDeletedPayload names the removed message; MessageUpdated reuses
// MessageAppendedPayload with the edited message.
type MessageDeletedPayload struct {
	Conversation model.ConversationRef `json:"conversation"`
	MessageID    string                `json:"message_id"`
}

type ChatMembersPayload struct {
	ChatID  string   `json:"chat_id"`
	By      string   `json:"by"`
	Added   []string `json:"added"`
	Members []string `json:"members"`
}

type ConversationUpdatedPayload struct {
	Conversation model.ConversationRef `json:"conversation"`
	ReadBy       []string              `json:"read_by"`
}

type PlayNotificationPayload struct {
	Conversation model.ConversationRef `json:"conversation"`
	MessageID    string                `json:"message_id"`
	Author       string                `json:"author"`
}

type Typer struct {
	Identity string `json:"identity"`
	Message  string `json:"message,omitempty"`
}

type TypingPayload struct {
	Scope  scope.Scope `json:"scope"`
	Typers []Typer     `json:"typers"`
}

// OverlayPayload carries the client's opaque overlay. A nil Payload encodes as
// null and means the overlay was removed.
type OverlayPayload struct {
	Scope    scope.Scope     `json:"scope"`
	Identity string          `json:"identity"`
	Payload  json.RawMessage `json:"payload"`
}

type MentionReadPayload struct {
	Conversation model.ConversationRef `json:"conversation"`
	MessageID    string                `json:"message_id"`
	Identity     string                `json:"identity"`
}

type ReadStatePayload struct {
	Conversation model.ConversationRef `json:"conversation"`
	Identity     string                `json:"identity"`
	ReadBy       []string              `json:"read_by"`
}

type MembershipPayload struct {
	CommunityID string `json:"community_id"`
	Identity    string `json:"identity"`
	Joined      bool   `json:"joined"`
}

// SnapshotPayload is sent to a connection right after it joins a scope.
type SnapshotPayload struct {
	Typing   TypingPayload    `json:"typing"`
	Overlays []OverlayPayload `json:"overlays"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func errorMessage(msg string) OutgoingMessage {
	return OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: msg}}
}
