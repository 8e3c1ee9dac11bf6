// Package bus provides a publish/subscribe abstraction for fanning research
// progress events out to external consumers. The default implementation uses
// NATS, with an in-memory option for single-process deployments and tests.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// Subject layout. Every research job publishes its event stream under its
// own subject so consumers can follow one job or wildcard across all of them.
const (
	jobEventSubjectFormat = "scout.job.%s.events"

	// SubjectAllJobEvents matches the event streams of every job.
	SubjectAllJobEvents = "scout.job.*.events"
)

// JobEventSubject returns the subject a job's event stream is published on.
func JobEventSubject(jobID string) string {
	return fmt.Sprintf(jobEventSubjectFormat, jobID)
}

// MessageBus is the event transport contract.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The handler is called in a separate goroutine for each message.
	// Supports wildcards: "scout.job.*.events" matches "scout.job.abc.events".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for the in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for connection establishment.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "scout",
		Timeout: 30 * time.Second,
	}
}
