package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"agent-router/internal/domain"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidCursor is returned for a listing cursor the store did not issue.
	ErrInvalidCursor = errors.New("repository: invalid cursor")
)

// ConversationStore persists conversations: titles, routes and message
// history, across the three logical stores.
type ConversationStore interface {
	// GetOrCreate returns the conversation with the given id, creating it
	// when absent. An empty id gets a fresh uuid. The bool reports creation.
	GetOrCreate(ctx context.Context, id, userID string) (domain.Conversation, bool, error)
	SaveTurn(ctx context.Context, turn domain.Turn) error
	ListConversations(ctx context.Context, lastID string, limit int) ([]domain.ConversationSummary, bool, error)
	GetMessages(ctx context.Context, id string) ([]domain.Message, error)
	RenameConversation(ctx context.Context, id, title string) error
	// DeleteConversation removes the conversation from every store. Stores
	// are deleted independently; failures are reported per store.
	DeleteConversation(ctx context.Context, id string) domain.DeletionResult
}

// CheckpointStore persists agent checkpoints. LoadCheckpoint returns nil and
// no error when none exists.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, threadID, namespace string) (*domain.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error
}

// Store is the full persistence surface.
type Store interface {
	ConversationStore
	CheckpointStore
}

var (
	newUUID = func() string { return uuid.NewString() }
	timeNow = func() time.Time { return time.Now().UTC() }
)

func storeErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
