package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when no record exists for an id.
var ErrNotFound = errors.New("session not found")

// Session is the persisted record for one (user, channel) pair
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	ChannelID    string    `json:"channel_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Store defines the persistence operations the Keeper needs
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	// Create inserts s unless a record with the same id already exists.
	Create(ctx context.Context, s *Session) error
	Touch(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, limit int) ([]*Session, error)
	DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// DeriveID returns the session id for a user in a channel.
func DeriveID(userID, channelID string) string {
	return userID + "_" + channelID
}
