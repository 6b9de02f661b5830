package models

import "time"

// Event type discriminators used on the wire.
const (
	EventTypeNewMessage  = "new_message"
	EventTypeUserMessage = "user_message"
)

// Conversation statuses. Unknown statuses from upstream pass through unchanged.
const (
	StatusSuccess   = "success"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// EventMetadata carries provider-level details for a conversation event
type EventMetadata struct {
	PromptName string                 `json:"prompt_name"`
	TokensUsed map[string]interface{} `json:"tokens_used"`
	LatencyMs  float64                `json:"latency_ms"`
	Model      string                 `json:"model"`
	Status     string                 `json:"status"`
}

// ConversationEvent is one normalized user/AI exchange with a bounded lifetime.
// Events are immutable once created; replacing one requires a new ID.
type ConversationEvent struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Timestamp   time.Time     `json:"timestamp"`
	UserMessage string        `json:"user_message"`
	AIResponse  string        `json:"ai_response"`
	Metadata    EventMetadata `json:"metadata"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Live reports whether the event's TTL has not elapsed at the given instant
func (e ConversationEvent) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Stats holds the rolling aggregate counters derived from the event stream.
// MessagesPerMinute is the current live-set size, not a windowed rate; the
// field name is kept for wire compatibility with existing dashboards.
type Stats struct {
	TotalConversations int64      `json:"total_conversations"`
	MessagesPerMinute  int        `json:"messages_per_minute"`
	AverageResponseMs  float64    `json:"average_response_time"`
	LastActivity       *time.Time `json:"last_activity"`
}
