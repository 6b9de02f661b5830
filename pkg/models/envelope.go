package models

import "time"

// StatsUpdate is the stats broadcast envelope
type StatsUpdate struct {
	Type string `json:"type"`
	Data Stats  `json:"data"`
}

// LiveMessagesUpdate is the full live-set broadcast envelope
type LiveMessagesUpdate struct {
	Type string              `json:"type"`
	Data []ConversationEvent `json:"data"`
}

// Heartbeat is the per-connection keep-alive frame
type Heartbeat struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingMessage is the user_message envelope: a user message broadcast
// immediately, before the AI response exists. Fields sit at the top level
// alongside the discriminator.
type PendingMessage struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	Status      string    `json:"status"`
	PromptName  string    `json:"prompt_name"`
	Model       string    `json:"model"`
}

// LiveMessagesResponse is the REST read shape for GET /messages/live
type LiveMessagesResponse struct {
	Messages  []ConversationEvent `json:"messages"`
	Count     int                 `json:"count"`
	Timestamp time.Time           `json:"timestamp"`
}

// StatsResponse is the REST read shape for GET /stats
type StatsResponse struct {
	Stats
	Timestamp        time.Time `json:"timestamp"`
	ActiveWebsockets int       `json:"active_websockets"`
}

// WebhookAck is returned to webhook callers on accepted payloads
type WebhookAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the common error shape for rejected requests
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Service string `json:"service,omitempty"`
}
