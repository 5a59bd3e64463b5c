package model

import (
	"regexp"
	"time"
)

type Mention struct {
	Target string `json:"target"`
	Read   bool   `json:"read"`
}

type Message struct {
	ID           string          `json:"id"`
	Conversation ConversationRef `json:"conversation"`
	Author       string          `json:"author"`
	Body         string          `json:"body"`
	Attachments  []string        `json:"attachments"`
	Mentions     []Mention       `json:"mentions"`
	CreatedAt    time.Time       `json:"created_at"`
	EditedAt     *time.Time      `json:"edited_at,omitempty"`
}

var mentionRe = regexp.MustCompile(`@(\w+)`)

// ParseMentions scans a body for @username tokens. Each distinct target appears
// once, unread, in order of first occurrence.
func ParseMentions(body string) []Mention {
	matches := mentionRe.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	mentions := make([]Mention, 0, len(matches))
	for _, m := range matches {
		target := m[1]
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		mentions = append(mentions, Mention{Target: target})
	}
	return mentions
}

// Edit replaces the body and re-derives the mentions from it. A target still
// mentioned keeps its read flag; new targets start unread.
func (m *Message) Edit(body string, at time.Time) {
	next := ParseMentions(body)
	for i := range next {
		if prev, ok := m.MentionFor(next[i].Target); ok {
			next[i].Read = prev.Read
		}
	}
	m.Body = body
	m.Mentions = next
	m.EditedAt = &at
}

// MentionFor returns the mention entry addressed to identity, if any.
func (m *Message) MentionFor(identity string) (*Mention, bool) {
	for i := range m.Mentions {
		if m.Mentions[i].Target == identity {
			return &m.Mentions[i], true
		}
	}
	return nil, false
}
