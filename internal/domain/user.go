// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const MaxUserIDLen = 64

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// User is a room participant as announced by the relay.
type User struct {
	ID    UserID `json:"id"`
	Emoji string `json:"emoji"`
	Muted bool   `json:"muted"`
}

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// UserPatch is a partial user. Nil fields were absent on the wire
// and must survive a merge untouched.
type UserPatch struct {
	ID    UserID
	Emoji *string
	Muted *bool
}

// PatchOf builds a patch carrying every field of u.
func PatchOf(u User) UserPatch {
	emoji, muted := u.Emoji, u.Muted
	return UserPatch{ID: u.ID, Emoji: &emoji, Muted: &muted}
}

// Merge returns u with the present fields of p applied.
func (p UserPatch) Merge(u User) User {
	if p.Emoji != nil {
		u.Emoji = *p.Emoji
	}
	if p.Muted != nil {
		u.Muted = *p.Muted
	}
	return u
}

// User materializes the patch on top of a zero user with the same id.
func (p UserPatch) User() User {
	return p.Merge(User{ID: p.ID})
}

func (p UserPatch) WithMuted(muted bool) UserPatch {
	p.Muted = &muted
	return p
}
