package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"chatstream/pkg/models"

	"github.com/google/uuid"
)

// userMessageKeys are tried in order when a payload has no user_message field
var userMessageKeys = []string{"user_message", "message", "input", "text", "query", "question"}

// reservedKeys never hold the user's message and are skipped by the
// last-resort string scan in ExtractUserMessage.
var reservedKeys = map[string]bool{
	"id":                 true,
	"timestamp":          true,
	"status":             true,
	"model":              true,
	"prompt_name":        true,
	"ai_response":        true,
	"response":           true,
	"request_start_time": true,
	"request_end_time":   true,
}

// Normalizer converts raw webhook payloads into ConversationEvents. It is
// stateless apart from its clock and TTL and has no failure path: unrecognized
// shapes degrade to defaults instead of aborting the pipeline.
type Normalizer struct {
	ttl time.Duration
	now func() time.Time
}

// NewNormalizer creates a normalizer that stamps events with the given TTL
func NewNormalizer(ttl time.Duration) *Normalizer {
	return &Normalizer{ttl: ttl, now: time.Now}
}

// Normalize converts one raw payload into a canonical event. Missing ids get
// a generated one (random, so ids never collide within a batch), missing
// message fields default to empty strings and missing numerics to zero.
func (n *Normalizer) Normalize(raw RawPayload) models.ConversationEvent {
	now := n.now()

	id := stringField(raw, "id")
	if id == "" {
		id = "live_" + uuid.NewString()
	}

	timestamp := now
	if ts := stringField(raw, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			timestamp = parsed
		}
	}

	status := stringField(raw, "status")
	if status == "" {
		status = models.StatusSuccess
	}

	model := stringField(raw, "model")
	if model == "" {
		model = "unknown"
	}

	promptName := stringField(raw, "prompt_name")
	if promptName == "" {
		promptName = "unknown"
	}

	latency := numberField(raw, "latency_ms")
	if latency <= 0 {
		latency = latencyFromTimestamps(raw)
	}

	tokens, _ := raw["tokens_used"].(map[string]interface{})
	if tokens == nil {
		tokens = map[string]interface{}{}
	}

	return models.ConversationEvent{
		ID:          id,
		Type:        models.EventTypeNewMessage,
		Timestamp:   timestamp,
		UserMessage: ExtractUserMessage(raw),
		AIResponse:  ExtractAIResponse(raw["ai_response"]),
		Metadata: models.EventMetadata{
			PromptName: promptName,
			TokensUsed: tokens,
			LatencyMs:  latency,
			Model:      model,
			Status:     status,
		},
		ExpiresAt: now.Add(n.ttl),
	}
}

// ExtractUserMessage pulls the human side of the exchange out of a payload.
// Well-known keys are tried in a fixed order; failing that, the first
// non-empty string value wins.
func ExtractUserMessage(raw RawPayload) string {
	for _, key := range userMessageKeys {
		if value, ok := raw[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	for key, value := range raw {
		if reservedKeys[key] {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// ExtractAIResponse pulls a human-readable reply out of heterogeneous
// response shapes: structured choice lists, direct content fields, plain
// strings. Tried in priority order, first match wins; anything else is
// stringified.
func ExtractAIResponse(data interface{}) string {
	switch value := data.(type) {
	case nil:
		return ""
	case string:
		return value
	case map[string]interface{}:
		if choices, ok := value["choices"].([]interface{}); ok && len(choices) > 0 {
			if choice, ok := choices[0].(map[string]interface{}); ok {
				if message, ok := choice["message"].(map[string]interface{}); ok {
					if content, ok := message["content"].(string); ok {
						return content
					}
				}
				if text, ok := choice["text"].(string); ok {
					return text
				}
			}
		}
		if content, ok := value["content"].(string); ok {
			return content
		}
		if message, ok := value["message"]; ok {
			return fmt.Sprintf("%v", message)
		}
		return fmt.Sprintf("%v", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// latencyFromTimestamps derives latency_ms from a request start/end pair when
// the payload carries no explicit latency. Returns 0 when either side is
// missing or unparseable.
func latencyFromTimestamps(raw RawPayload) float64 {
	start := stringField(raw, "request_start_time")
	end := stringField(raw, "request_end_time")
	if start == "" || end == "" {
		return 0
	}

	startAt, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return 0
	}
	endAt, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return 0
	}

	latency := endAt.Sub(startAt).Seconds() * 1000
	if latency < 0 {
		return 0
	}
	return math.Round(latency*100) / 100
}

func stringField(raw RawPayload, key string) string {
	if value, ok := raw[key].(string); ok {
		return value
	}
	return ""
}

func numberField(raw RawPayload, key string) float64 {
	switch value := raw[key].(type) {
	case float64:
		return value
	case int:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return 0
	}
}
