// Package scope defines the broadcast groups live connections subscribe to.
//
// A Scope is a small comparable value, so it can key maps directly. Its wire
// form is produced by String and read back by Parse; nothing else in the
// codebase builds scope names by hand.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindPersonal Kind = iota + 1
	KindChat
	KindCommunity
	KindCommunityChannel
)

const (
	prefixPersonal         = "user"
	prefixChat             = "chat"
	prefixCommunity        = "community"
	prefixCommunityChannel = "community-channel"
	sep                    = ":"
)

var ErrInvalid = errors.New("invalid scope")

// Scope is a tagged union: Kind selects which of the id fields are meaningful.
// Personal uses ID as the identity, Chat uses ID as the chat id, Community uses
// ID as the community id, CommunityChannel uses ID as the community id and
// Channel as the channel id.
type Scope struct {
	Kind    Kind
	ID      string
	Channel string
}

func Personal(identity string) Scope { return Scope{Kind: KindPersonal, ID: identity} }

func Chat(chatID string) Scope { return Scope{Kind: KindChat, ID: chatID} }

func Community(communityID string) Scope { return Scope{Kind: KindCommunity, ID: communityID} }

func CommunityChannel(communityID, channelID string) Scope {
	return Scope{Kind: KindCommunityChannel, ID: communityID, Channel: channelID}
}

// String returns the canonical wire form, e.g. "community-channel:s1:ch1".
func (s Scope) String() string {
	switch s.Kind {
	case KindPersonal:
		return prefixPersonal + sep + s.ID
	case KindChat:
		return prefixChat + sep + s.ID
	case KindCommunity:
		return prefixCommunity + sep + s.ID
	case KindCommunityChannel:
		return prefixCommunityChannel + sep + s.ID + sep + s.Channel
	default:
		return ""
	}
}

// Validate reports whether the scope is well formed: a known kind and non-empty
// ids without separators.
func (s Scope) Validate() error {
	if !validID(s.ID) {
		return fmt.Errorf("%w: bad id %q", ErrInvalid, s.ID)
	}
	switch s.Kind {
	case KindPersonal, KindChat, KindCommunity:
		if s.Channel != "" {
			return fmt.Errorf("%w: channel set on %s scope", ErrInvalid, s.Kind)
		}
	case KindCommunityChannel:
		if !validID(s.Channel) {
			return fmt.Errorf("%w: bad channel %q", ErrInvalid, s.Channel)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalid, s.Kind)
	}
	return nil
}

// Community returns the owning community scope of a community channel.
// ok is false for every other kind.
func (s Scope) Community() (Scope, bool) {
	if s.Kind != KindCommunityChannel {
		return Scope{}, false
	}
	return Community(s.ID), true
}

func (s Scope) IsZero() bool { return s.Kind == 0 }

func (s Scope) MarshalText() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse is the inverse of String.
func Parse(raw string) (Scope, error) {
	parts := strings.Split(raw, sep)
	var s Scope
	switch {
	case len(parts) == 2 && parts[0] == prefixPersonal:
		s = Personal(parts[1])
	case len(parts) == 2 && parts[0] == prefixChat:
		s = Chat(parts[1])
	case len(parts) == 2 && parts[0] == prefixCommunity:
		s = Community(parts[1])
	case len(parts) == 3 && parts[0] == prefixCommunityChannel:
		s = CommunityChannel(parts[1], parts[2])
	default:
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

func (k Kind) String() string {
	switch k {
	case KindPersonal:
		return prefixPersonal
	case KindChat:
		return prefixChat
	case KindCommunity:
		return prefixCommunity
	case KindCommunityChannel:
		return prefixCommunityChannel
	default:
		return "unknown"
	}
}

func validID(id string) bool {
	return id != "" && !strings.Contains(id, sep) && strings.TrimSpace(id) == id
}
