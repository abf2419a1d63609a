package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"agent-router/internal/domain"
	"agent-router/internal/repository"
)

func newConversations(t *testing.T, store repository.ConversationStore) *ConversationService {
	t.Helper()
	svc, err := NewConversationService(store)
	require.NoError(t, err)
	return svc
}

func seed(t *testing.T, store *repository.MemoryStore, id, title string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, id, "u1")
	require.NoError(t, err)
	require.NoError(t, store.SaveTurn(ctx, domain.Turn{ConversationID: id, Route: domain.RouteFlight, Title: title, Query: "q", Reply: "a"}))
	require.NoError(t, store.SaveCheckpoint(ctx, domain.Checkpoint{ThreadID: id, Namespace: "flight"}))
}

func TestNewConversationService_Validation(t *testing.T) {
	_, err := NewConversationService(nil)
	require.Error(t, err)
}

func TestGetOrCreate(t *testing.T) {
	svc := newConversations(t, repository.NewMemoryStore())

	conv, created, err := svc.GetOrCreate(context.Background(), "", "u1")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, conv.ID)

	again, created, err := svc.GetOrCreate(context.Background(), conv.ID, "u1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, conv.ID, again.ID)

	_, _, err = svc.GetOrCreate(context.Background(), "no spaces allowed", "u1")
	expectError(t, err, ErrorInvalidInput, "invalid_conversation_id")
}

func TestList_PagesWithCursor(t *testing.T) {
	store := repository.NewMemoryStore()
	for i := 0; i < 5; i++ {
		seed(t, store, fmt.Sprintf("c%d", i), fmt.Sprintf("title %d", i))
	}
	svc := newConversations(t, store)

	page, err := svc.List(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasMore)
	require.Equal(t, "c0", page.Items[0].ThreadID)
	require.Equal(t, "title 0", page.Items[0].Title)

	var seen []string
	cursor := ""
	for {
		p, err := svc.List(context.Background(), cursor, 2)
		require.NoError(t, err)
		for _, it := range p.Items {
			seen = append(seen, it.ThreadID)
		}
		if !p.HasMore {
			require.Empty(t, p.LastID)
			break
		}
		cursor = p.LastID
	}
	require.Equal(t, []string{"c0", "c1", "c2", "c3", "c4"}, seen)

	all, err := svc.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all.Items, 5)

	_, err = svc.List(context.Background(), "not-a-cursor", 10)
	expectError(t, err, ErrorInvalidInput, "invalid_cursor")
}

func TestMessages(t *testing.T) {
	store := repository.NewMemoryStore()
	seed(t, store, "c1", "t")
	svc := newConversations(t, store)

	msgs, err := svc.Messages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleUser, msgs[0].Role)

	_, err = svc.Messages(context.Background(), "")
	expectError(t, err, ErrorInvalidInput, "missing_conversation_id")
}

func TestRename(t *testing.T) {
	store := repository.NewMemoryStore()
	seed(t, store, "c1", "old")
	svc := newConversations(t, store)

	err := svc.Rename(context.Background(), "missing", "new")
	expectError(t, err, ErrorNotFound, "conversation_not_found")

	err = svc.Rename(context.Background(), "c1", " ")
	expectError(t, err, ErrorInvalidInput, "empty_thread_name")

	require.NoError(t, svc.Rename(context.Background(), "c1", "Renamed"))
	page, err := svc.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Equal(t, "Renamed", page.Items[0].Title)
}

func TestDelete(t *testing.T) {
	store := repository.NewMemoryStore()
	seed(t, store, "c1", "t")
	svc := newConversations(t, store)

	res, err := svc.Delete(context.Background(), "never-created")
	expectError(t, err, ErrorNotFound, "conversation_not_found")
	require.Zero(t, res.Total())

	res, err = svc.Delete(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, int64(2), res.MessageStore.Deleted)
	require.Positive(t, res.CheckpointWrites.Deleted)
	require.Equal(t, int64(1), res.Checkpoints.Deleted)

	msgs, err := svc.Messages(context.Background(), "c1")
	require.NoError(t, err)
	require.Empty(t, msgs)
	cp, err := store.LoadCheckpoint(context.Background(), "c1", "flight")
	require.NoError(t, err)
	require.Nil(t, cp)

	_, err = svc.Delete(context.Background(), "c1")
	expectError(t, err, ErrorNotFound, "conversation_not_found")
}

type partialDeleteStore struct {
	*repository.MemoryStore
	res domain.DeletionResult
}

func (p *partialDeleteStore) DeleteConversation(context.Context, string) domain.DeletionResult {
	return p.res
}

func TestDelete_StoreFailures(t *testing.T) {
	partial := &partialDeleteStore{MemoryStore: repository.NewMemoryStore(), res: domain.DeletionResult{
		MessageStore:     domain.StoreDeletion{Deleted: 2},
		CheckpointWrites: domain.StoreDeletion{Error: "timeout"},
	}}
	res, err := newConversations(t, partial).Delete(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Failures())

	failed := &partialDeleteStore{MemoryStore: repository.NewMemoryStore(), res: domain.DeletionResult{
		MessageStore: domain.StoreDeletion{Error: "timeout"},
	}}
	_, err = newConversations(t, failed).Delete(context.Background(), "c1")
	expectError(t, err, ErrorInternal, "store_delete_error")
}
