// Package stream implements C13: the streaming wire event vocabulary and the
// in-process cancellation registry keyed by message_id. Grounded on the
// teacher's internal/events pub/sub bus, reworked from a fan-out bus (many
// subscribers, one topic) into a fan-in registry (one stream per message_id,
// looked up by id instead of broadcast).
package stream

import "time"

// EventType is one of §6.2's server-to-client event kinds.
type EventType string

const (
	EventStreamStart       EventType = "stream_start"
	EventContextInfo       EventType = "context_info"
	EventEmotionUpdate     EventType = "emotion_update"
	EventContentChunk      EventType = "content_chunk"
	EventStreamComplete    EventType = "stream_complete"
	EventStreamError       EventType = "stream_error"
	EventGenerationStopped EventType = "generation_stopped"
)

// StopReason is the reason a generation_stopped event was emitted.
type StopReason string

const (
	ReasonUserCancelled StopReason = "user_cancelled"
	ReasonTimeout       StopReason = "timeout"
	ReasonShutdown      StopReason = "shutdown"
	ReasonError         StopReason = "error"
)

// Event is the envelope common to every server-to-client message (§6.2: all
// events include message_id, session_id, timestamp), with one field set
// populated per EventType.
type Event struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// stream_start
	AIMessageID string `json:"ai_message_id,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Category    string `json:"category,omitempty"`

	// context_info
	RecentMessagesUsed  int `json:"recent_messages_used,omitempty"`
	RelevantMessagesUsed int `json:"relevant_messages_used,omitempty"`

	// emotion_update
	Emotion any `json:"emotion,omitempty"`

	// content_chunk
	Content    string `json:"content,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	IsCode     bool   `json:"is_code,omitempty"`

	// stream_complete
	FullContent     string  `json:"full_content,omitempty"`
	ResponseTimeMs  int64   `json:"response_time_ms,omitempty"`
	TokensUsed      int     `json:"tokens_used,omitempty"`
	CostUSD         float64 `json:"cost,omitempty"`
	AbilityUpdated  any     `json:"ability_updated,omitempty"`

	// stream_error
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Recoverable  bool   `json:"recoverable,omitempty"`

	// generation_stopped
	Reason        StopReason `json:"reason,omitempty"`
	PartialContent string    `json:"partial_content,omitempty"`
	StoppedAtMs   int64      `json:"stopped_at_ms,omitempty"`
}

// IsTerminal reports whether this event type ends the stream for its
// message_id (§4.12, §8 property 4).
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventStreamComplete, EventStreamError, EventGenerationStopped:
		return true
	default:
		return false
	}
}
