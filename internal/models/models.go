package models

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single persisted message in a conversation.
// Messages are append-only: once written they are never mutated.
type Message struct {
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"` // 1-based, monotonic per conversation
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is the per-conversation summary row, upserted on every
// saved interaction. MessageCount only ever increases.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// Compact is an immutable summary covering a fixed slice of a
// conversation's history. For a given conversation the MessagesUpTo
// values form a strictly increasing sequence of multiples of the
// window interval.
type Compact struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	MessagesUpTo   int       `json:"messages_up_to"`
	Summary        string    `json:"summary"`
	Topics         []string  `json:"topics"`
}

// ChatMessage is a role-tagged message sent to the inference service.
// Distinct from Message: it is the wire shape, not the persisted record.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolInvocation is one capability call requested by the model,
// normalized out of whatever textual encoding it arrived in.
type ToolInvocation struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// InvocationStatus is the outcome of a capability invocation.
type InvocationStatus string

const (
	InvocationSuccess InvocationStatus = "success"
	InvocationError   InvocationStatus = "error"
)

// ToolInvocationResult records the outcome of a single capability call.
// Errors are data here, never propagated exceptions.
type ToolInvocationResult struct {
	ToolName string           `json:"tool_name"`
	Status   InvocationStatus `json:"status"`
	Data     interface{}      `json:"data,omitempty"`
	Message  string           `json:"message,omitempty"`
}
