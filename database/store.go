package database

import (
	"context"
	"errors"
	"time"

	"chatapp/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("database: record not found")
	// ErrDuplicate indicates a unique constraint (username, email) was violated.
	ErrDuplicate = errors.New("database: duplicate record")
)

// MessageRepository persists messages and their read state.
type MessageRepository interface {
	// InsertMessage stores msg with a server-assigned id and creation time
	// and returns the stored copy. IsRead is always stored as false.
	InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	// FindConversation returns every message exchanged between a and b,
	// oldest first.
	FindConversation(ctx context.Context, a, b string) ([]models.Message, error)
	// CountUnread counts unread messages from sender to receiver.
	CountUnread(ctx context.Context, senderID, receiverID string) (int, error)
	// MarkRead flips every unread message from sender to receiver to read
	// and returns how many rows changed.
	MarkRead(ctx context.Context, senderID, receiverID string) (int64, error)
}

// UserRepository looks up and creates accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersExcept(ctx context.Context, id string) ([]models.User, error)
}

// SessionStore maps opaque session tokens to users.
type SessionStore interface {
	CreateSession(ctx context.Context, session models.Session) error
	// GetSession returns ErrNotFound for unknown or expired tokens.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Store is a full persistence backend.
type Store interface {
	MessageRepository
	UserRepository
	SessionStore
	Ping(ctx context.Context) error
	Close() error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nowMillisTime() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
