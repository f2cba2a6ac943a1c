// Package pubsub provides the fire-and-forget pub/sub abstraction that carries
// realtime feed events between processes.
package pubsub

import (
	"context"
	"io"
	"time"
)

// Message is a received message.
type Message interface {
	// Data returns the raw message payload.
	Data() []byte

	// Subject returns the full subject the message was published on.
	Subject() string
}

// Publisher publishes messages.
type Publisher interface {
	// Publish sends data to subject, prefixed by the publisher's SubjectPrefix.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases resources.
	Close() error
}

// Consumer receives messages.
type Consumer interface {
	// Subscribe starts delivery and returns a channel.
	// The channel is closed when ctx is cancelled or the provider closes.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// Provider creates publishers and consumers on one broker.
type Provider interface {
	io.Closer

	NewPublisher(opts PublisherOptions) (Publisher, error)
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// Connectable is implemented by providers that must dial before use.
type Connectable interface {
	Connect(ctx context.Context) error
}

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// OnPublish is called after each publish attempt.
	OnPublish func(subject string, err error, latency time.Duration)
}

// ConsumerOptions configures consumer behavior.
type ConsumerOptions struct {
	// FilterSubject is the subject pattern to receive. Supports "*" and ">" wildcards.
	FilterSubject string

	// ChannelBufSize is the buffer size for the message channel.
	ChannelBufSize int
}

// DefaultConsumerOptions returns ConsumerOptions with sensible defaults.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		FilterSubject:  ">",
		ChannelBufSize: 100,
	}
}

// FullSubject joins prefix and subject with a dot.
func FullSubject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}
