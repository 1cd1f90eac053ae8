package streaming

import (
	"context"
	"time"
)

// Topics events are published on.
const (
	TopicStats      = "stats"
	TopicShares     = "shares"
	TopicFlowcharts = "flowcharts"
	TopicNewsletter = "newsletter"
	TopicUpstream   = "upstream"
)

// StreamEvent is a real-time event pushed to SSE clients.
type StreamEvent struct {
	Topic     string    `json:"topic"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	Topic      string   `json:"topic,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
