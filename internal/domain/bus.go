package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Backed by Go channels for single-node deployments or NATS when other
// services need to observe run lifecycle events.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Run lifecycle topics.
const (
	TopicRunRequested = "underwriting.run.requested"
	TopicRunStarted   = "underwriting.run.started"
	TopicRunCompleted = "underwriting.run.completed"
	TopicRunFailed    = "underwriting.run.failed"
	TopicRunCancelled = "underwriting.run.cancelled"
)

// RunRequest is the payload published on TopicRunRequested to ask for
// an asynchronous underwriting run.
type RunRequest struct {
	ApplicationID string         `json:"applicationId"`
	Rerun         bool           `json:"rerun,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// RunEvent is the payload published on run lifecycle topics.
type RunEvent struct {
	RunID         string `json:"runId"`
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	MatchedCount  int    `json:"matchedCount"`
	RejectedCount int    `json:"rejectedCount"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}
