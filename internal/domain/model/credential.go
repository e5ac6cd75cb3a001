package model

import (
	"strings"
	"time"
)

// Credential identifies one platform account. It is owned by the caller (accounts file or
// registry) and is only read during login.
type Credential struct {
	AccountID string `json:"uid"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	TaskKey   string `json:"task_key,omitempty"`
}

// KnownUID reports whether AccountID holds a real platform uid rather than a placeholder
// (registries seed it with the phone number until the first login reveals the uid).
func (c Credential) KnownUID() bool {
	id := strings.TrimSpace(c.AccountID)
	return id != "" && id != strings.TrimSpace(c.Phone)
}

// SessionToken is a serialized cookie jar bound to one owner.
type SessionToken struct {
	Owner     string
	Cookie    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (t SessionToken) Valid() bool {
	return strings.TrimSpace(t.Owner) != "" && strings.TrimSpace(t.Cookie) != ""
}

func (t SessionToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}
