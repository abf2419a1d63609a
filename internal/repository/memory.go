package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"agent-router/internal/domain"
)

type memConversation struct {
	seq      int64
	conv     domain.Conversation
	messages []domain.Message
	// routes holds one checkpoint write per turn.
	routes []domain.Route
}

// MemoryStore is a process-local Store. It backs tests and single-instance
// deployments without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	seq           int64
	conversations map[string]*memConversation
	checkpoints   map[string]domain.Checkpoint
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*memConversation),
		checkpoints:   make(map[string]domain.Checkpoint),
	}
}

func checkpointKey(threadID, namespace string) string {
	return threadID + "\x00" + namespace
}

func memCursor(seq int64) string {
	return fmt.Sprintf("%016x", seq)
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id, userID string) (domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = newUUID()
	}
	if c, ok := s.conversations[id]; ok {
		return c.conv, false, nil
	}
	s.seq++
	c := &memConversation{
		seq: s.seq,
		conv: domain.Conversation{
			ID:        id,
			UserID:    userID,
			CreatedAt: timeNow(),
		},
	}
	s.conversations[id] = c
	return c.conv, true, nil
}

func (s *MemoryStore) SaveTurn(_ context.Context, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[turn.ConversationID]
	if !ok {
		return ErrNotFound
	}
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = timeNow()
	}
	c.messages = append(c.messages,
		domain.Message{ConversationID: turn.ConversationID, Role: domain.RoleUser, Content: turn.Query, Timestamp: ts},
		domain.Message{ConversationID: turn.ConversationID, Role: domain.RoleAssistant, Content: turn.Reply, Timestamp: ts},
	)
	if turn.Route != "" {
		c.routes = append(c.routes, turn.Route)
		c.conv.Route = turn.Route
	}
	if turn.Title != "" && c.conv.Title == "" {
		c.conv.Title = turn.Title
	}
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context, lastID string, limit int) ([]domain.ConversationSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var after int64
	if lastID != "" {
		if _, err := fmt.Sscanf(lastID, "%x", &after); err != nil || len(lastID) != 16 {
			return nil, false, ErrInvalidCursor
		}
	}

	all := make([]*memConversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if c.seq > after {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	hasMore := len(all) > limit
	if hasMore {
		all = all[:limit]
	}
	items := make([]domain.ConversationSummary, 0, len(all))
	for _, c := range all {
		items = append(items, domain.ConversationSummary{
			ID:        memCursor(c.seq),
			ThreadID:  c.conv.ID,
			Title:     c.conv.Title,
			CreatedAt: c.conv.CreatedAt,
		})
	}
	return items, hasMore, nil
}

func (s *MemoryStore) GetMessages(_ context.Context, id string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return []domain.Message{}, nil
	}
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

func (s *MemoryStore) RenameConversation(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.conv.Title = title
	return nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) domain.DeletionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.DeletionResult
	if c, ok := s.conversations[id]; ok {
		res.MessageStore.Deleted = int64(len(c.messages))
		// the thread_name write plus one route write per turn
		res.CheckpointWrites.Deleted = int64(1 + len(c.routes))
		delete(s.conversations, id)
	}
	prefix := id + "\x00"
	for k := range s.checkpoints {
		if strings.HasPrefix(k, prefix) {
			delete(s.checkpoints, k)
			res.Checkpoints.Deleted++
		}
	}
	return res
}

func (s *MemoryStore) LoadCheckpoint(_ context.Context, threadID, namespace string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointKey(threadID, namespace)]
	if !ok {
		return nil, nil
	}
	cp.Messages = append([]domain.CheckpointMessage(nil), cp.Messages...)
	return &cp, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp domain.Checkpoint) error {
	if cp.ThreadID == "" || cp.Namespace == "" {
		return fmt.Errorf("repository: SaveCheckpoint: thread id and namespace are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.Messages = append([]domain.CheckpointMessage(nil), cp.Messages...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = timeNow()
	}
	s.checkpoints[checkpointKey(cp.ThreadID, cp.Namespace)] = cp
	return nil
}
