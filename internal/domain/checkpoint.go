package domain

import "time"

// CheckpointMessage is one entry of an agent's persisted message list.
type CheckpointMessage struct {
	Role       string     `json:"role" bson:"role"`
	Content    string     `json:"content,omitempty" bson:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" bson:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty" bson:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty" bson:"name,omitempty"`
}

// ToolCall is a model-issued tool invocation.
type ToolCall struct {
	ID        string `json:"id" bson:"id"`
	Name      string `json:"name" bson:"name"`
	Arguments string `json:"arguments" bson:"arguments"`
}

// Checkpoint roles. Agents use these instead of provider specific names.
const (
	CheckpointRoleSystem = "system"
	CheckpointRoleHuman  = "human"
	CheckpointRoleAI     = "ai"
	CheckpointRoleTool   = "tool"
)

// Checkpoint is an agent's conversation state keyed by thread and namespace.
type Checkpoint struct {
	ThreadID  string              `json:"thread_id" bson:"thread_id"`
	Namespace string              `json:"checkpoint_ns" bson:"checkpoint_ns"`
	Messages  []CheckpointMessage `json:"messages" bson:"messages"`
	UpdatedAt time.Time           `json:"updated_at" bson:"updated_at"`
}
