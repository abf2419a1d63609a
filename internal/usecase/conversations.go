package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"agent-router/internal/domain"
	"agent-router/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxTitleLength   = 200
)

// ConversationService is the administrative surface over stored
// conversations.
type ConversationService struct {
	store repository.ConversationStore
}

type ListOutput struct {
	Items   []domain.ConversationSummary
	HasMore bool
	// LastID is the cursor for the next page, empty when there is none.
	LastID string
}

func NewConversationService(store repository.ConversationStore) (*ConversationService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	return &ConversationService{store: store}, nil
}

func (s *ConversationService) GetOrCreate(ctx context.Context, id, userID string) (domain.Conversation, bool, error) {
	id = strings.TrimSpace(id)
	if id != "" && !ValidConversationID(id) {
		return domain.Conversation{}, false, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	conv, created, err := s.store.GetOrCreate(ctx, id, strings.TrimSpace(userID))
	if err != nil {
		return domain.Conversation{}, false, newError(ErrorInternal, "store_get_error", err)
	}
	return conv, created, nil
}

func (s *ConversationService) List(ctx context.Context, lastID string, limit int) (ListOutput, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	items, hasMore, err := s.store.ListConversations(ctx, strings.TrimSpace(lastID), limit)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return ListOutput{}, newError(ErrorInvalidInput, "invalid_cursor", err)
		}
		return ListOutput{}, newError(ErrorInternal, "store_list_error", err)
	}
	out := ListOutput{Items: items, HasMore: hasMore}
	if hasMore && len(items) > 0 {
		out.LastID = items[len(items)-1].ID
	}
	return out, nil
}

func (s *ConversationService) Messages(ctx context.Context, id string) ([]domain.Message, error) {
	id, err := requireID(id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMessages(ctx, id)
	if err != nil {
		return nil, newError(ErrorInternal, "store_messages_error", err)
	}
	return msgs, nil
}

func (s *ConversationService) Rename(ctx context.Context, id, title string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return newError(ErrorInvalidInput, "empty_thread_name", nil)
	}
	if len(title) > maxTitleLength {
		return newError(ErrorInvalidInput, "thread_name_too_long", nil)
	}
	if err := s.store.RenameConversation(ctx, id, title); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrorNotFound, "conversation_not_found", err)
		}
		return newError(ErrorInternal, "store_rename_error", err)
	}
	return nil
}

// Delete removes the conversation from all stores. The result is returned
// alongside any error so callers can report per-store counts.
func (s *ConversationService) Delete(ctx context.Context, id string) (domain.DeletionResult, error) {
	id, err := requireID(id)
	if err != nil {
		return domain.DeletionResult{}, err
	}
	res := s.store.DeleteConversation(ctx, id)
	failures := res.Failures()
	switch {
	case res.Total() == 0 && failures == 0:
		return res, newError(ErrorNotFound, "conversation_not_found", nil)
	case failures > 0:
		log.Warn().
			Str("conversation_id", id).
			Int64("deleted", res.Total()).
			Int("failed_stores", failures).
			Msg("conversation partially deleted")
		if res.Total() == 0 {
			return res, newError(ErrorInternal, "store_delete_error", errors.New("every store failed"))
		}
	}
	return res, nil
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if !ValidConversationID(id) {
		return "", newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	return id, nil
}
