package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated principal bound to one session.
type Identity struct {
	UserID    uuid.UUID `json:"userId"`
	SessionID string    `json:"sessionId"`
	Email     string    `json:"email"`
}

// IsZero reports whether no identity is present.
func (i Identity) IsZero() bool {
	return i.UserID == uuid.Nil
}

// Account is the identity provider's copy of the user profile.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose
	DisplayName  string    `json:"displayName"`
	AvatarURL    string    `json:"avatarUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ChangeEvent announces that a user record moved to Version.
type ChangeEvent struct {
	UserID    uuid.UUID `json:"userId"`
	Version   int64     `json:"version"`
	SessionID string    `json:"sessionId"` // originating session, skipped by the listener
}
