package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single persisted conversation message.
type Message struct {
	ConversationID string    `json:"-"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Conversation is the persisted state of one thread.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Route     Route
	CreatedAt time.Time
}

// ConversationSummary is one entry of the conversation listing. ID is the
// opaque ascending cursor.
type ConversationSummary struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is what gets persisted once per completed exchange.
type Turn struct {
	ConversationID string
	UserID         string
	Route          Route
	// Title is set only on the first turn of a conversation.
	Title     string
	Query     string
	Reply     string
	Timestamp time.Time
}

// Store names reported by the administrative delete.
const (
	StoreMessages         = "message_store"
	StoreCheckpointWrites = "checkpoint_writes"
	StoreCheckpoints      = "checkpoints"
)

// StoreDeletion is the outcome of deleting one conversation from one store.
type StoreDeletion struct {
	Deleted int64  `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// DeletionResult reports a multi-store delete. The deletes are independent,
// so a result may be partial.
type DeletionResult struct {
	MessageStore     StoreDeletion `json:"message_store"`
	CheckpointWrites StoreDeletion `json:"checkpoint_writes"`
	Checkpoints      StoreDeletion `json:"checkpoints"`
}

func (r DeletionResult) Total() int64 {
	return r.MessageStore.Deleted + r.CheckpointWrites.Deleted + r.Checkpoints.Deleted
}

// Failures returns how many stores reported an error.
func (r DeletionResult) Failures() int {
	n := 0
	for _, s := range []StoreDeletion{r.MessageStore, r.CheckpointWrites, r.Checkpoints} {
		if s.Error != "" {
			n++
		}
	}
	return n
}
