package model

import (
	"strings"
	"time"
)

// User is a storefront subscriber. Telegram-authenticated users carry a
// "tg_" prefix on their id, mirroring how the frontend mints them.
type User struct {
	ID         string
	TelegramID string // empty for non-Telegram users
	CreatedAt  time.Time
}

// NewUser derives the optional telegram id from the subscriber id.
func NewUser(id string) *User {
	u := &User{ID: id, CreatedAt: time.Now()}
	if strings.HasPrefix(id, "tg_") {
		u.TelegramID = strings.TrimPrefix(id, "tg_")
	}
	return u
}
