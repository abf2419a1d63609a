package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"agent-router/internal/domain"
)

func TestMemoryStore_GetOrCreate(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	conv, created, err := st.GetOrCreate(ctx, "", "u-1")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, conv.ID)

	again, created, err := st.GetOrCreate(ctx, conv.ID, "u-2")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "u-1", again.UserID)
}

func TestMemoryStore_TitleSetOnce(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := st.GetOrCreate(ctx, "abc", "")
	require.NoError(t, err)

	require.NoError(t, st.SaveTurn(ctx, domain.Turn{ConversationID: conv.ID, Route: domain.RouteRAG, Title: "First", Query: "q1", Reply: "r1"}))
	require.NoError(t, st.SaveTurn(ctx, domain.Turn{ConversationID: conv.ID, Route: domain.RouteMedia, Title: "Second", Query: "q2", Reply: "r2"}))

	got, _, err := st.GetOrCreate(ctx, conv.ID, "")
	require.NoError(t, err)
	require.Equal(t, "First", got.Title)
	require.Equal(t, domain.RouteMedia, got.Route)

	msgs, err := st.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, domain.RoleUser, msgs[2].Role)
	require.Equal(t, "r2", msgs[3].Content)
}

func TestMemoryStore_SaveTurnUnknownConversation(t *testing.T) {
	st := NewMemoryStore()
	err := st.SaveTurn(context.Background(), domain.Turn{ConversationID: "ghost"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListPagination(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := st.GetOrCreate(ctx, fmt.Sprintf("c%d", i), "")
		require.NoError(t, err)
	}

	page, hasMore, err := st.ListConversations(ctx, "", 2)
	require.NoError(t, err)
	require.True(t, hasMore)
	require.Equal(t, "c0", page[0].ThreadID)
	require.Equal(t, "c1", page[1].ThreadID)

	page, hasMore, err = st.ListConversations(ctx, page[1].ID, 10)
	require.NoError(t, err)
	require.False(t, hasMore)
	require.Len(t, page, 3)
	require.Equal(t, "c2", page[0].ThreadID)

	_, _, err = st.ListConversations(ctx, "zz", 10)
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestMemoryStore_Rename(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	require.ErrorIs(t, st.RenameConversation(ctx, "missing", "x"), ErrNotFound)

	_, _, err := st.GetOrCreate(ctx, "abc", "")
	require.NoError(t, err)
	require.NoError(t, st.RenameConversation(ctx, "abc", "Renamed"))

	page, _, err := st.ListConversations(ctx, "", 20)
	require.NoError(t, err)
	require.Equal(t, "Renamed", page[0].Title)
}

func TestMemoryStore_Delete(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	res := st.DeleteConversation(ctx, "never")
	require.Zero(t, res.Total())

	_, _, err := st.GetOrCreate(ctx, "abc", "")
	require.NoError(t, err)
	require.NoError(t, st.SaveTurn(ctx, domain.Turn{ConversationID: "abc", Route: domain.RouteFlight, Query: "q", Reply: "r"}))
	require.NoError(t, st.SaveCheckpoint(ctx, domain.Checkpoint{ThreadID: "abc", Namespace: "flight"}))
	require.NoError(t, st.SaveCheckpoint(ctx, domain.Checkpoint{ThreadID: "abcd", Namespace: "flight"}))

	res = st.DeleteConversation(ctx, "abc")
	require.Equal(t, int64(2), res.MessageStore.Deleted)
	require.Equal(t, int64(2), res.CheckpointWrites.Deleted)
	require.Equal(t, int64(1), res.Checkpoints.Deleted)

	msgs, err := st.GetMessages(ctx, "abc")
	require.NoError(t, err)
	require.Empty(t, msgs)
	cp, err := st.LoadCheckpoint(ctx, "abc", "flight")
	require.NoError(t, err)
	require.Nil(t, cp)

	other, err := st.LoadCheckpoint(ctx, "abcd", "flight")
	require.NoError(t, err)
	require.NotNil(t, other)
}

func TestMemoryStore_CheckpointIsolation(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	msgs := []domain.CheckpointMessage{{Role: domain.CheckpointRoleHuman, Content: "hi"}}
	require.NoError(t, st.SaveCheckpoint(ctx, domain.Checkpoint{ThreadID: "t", Namespace: "hotel", Messages: msgs}))
	msgs[0].Content = "mutated"

	cp, err := st.LoadCheckpoint(ctx, "t", "hotel")
	require.NoError(t, err)
	require.Equal(t, "hi", cp.Messages[0].Content)

	require.Error(t, st.SaveCheckpoint(ctx, domain.Checkpoint{Namespace: "hotel"}))
}
