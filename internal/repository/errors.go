package repository

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// ErrChatFull: приглашение превысило бы MaxChatMembers.
	ErrChatFull = errors.New("chat member limit reached")
)
