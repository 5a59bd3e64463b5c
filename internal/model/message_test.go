package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMentions(t *testing.T) {
	req := require.New(t)

	req.Nil(ParseMentions("no mentions here"))
	req.Equal([]Mention{{Target: "bob"}}, ParseMentions("hi @bob!"))
	req.Equal(
		[]Mention{{Target: "bob"}, {Target: "dana_1"}},
		ParseMentions("@bob meet @dana_1, @bob again"),
	)
	// An email address still yields the part after @, like the client-side highlighter.
	req.Equal([]Mention{{Target: "example"}}, ParseMentions("mail me at a@example.com"))
}

func TestMessage_MentionFor(t *testing.T) {
	req := require.New(t)
	m := Message{Mentions: []Mention{{Target: "bob"}}}

	mention, ok := m.MentionFor("bob")
	req.True(ok)
	mention.Read = true
	req.True(m.Mentions[0].Read)

	_, ok = m.MentionFor("alice")
	req.False(ok)
}

func TestMessage_EditKeepsReadFlagsOfRemainingMentions(t *testing.T) {
	req := require.New(t)
	m := Message{Body: "@bob @carol", Mentions: []Mention{{Target: "bob", Read: true}, {Target: "carol"}}}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	// When carol is dropped and dave is added
	m.Edit("@dave and @bob again", at)

	// Then
	req.Equal("@dave and @bob again", m.Body)
	req.Equal([]Mention{{Target: "dave"}, {Target: "bob", Read: true}}, m.Mentions)
	req.Equal(&at, m.EditedAt)

	m.Edit("no one", at)
	req.Nil(m.Mentions)
}
