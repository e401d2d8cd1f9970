// Package pubsub abstracts channel-based message fan-out so the event layer
// can run against Redis in multi-process deployments.
package pubsub

import "context"

// Message is one payload delivered on a subscription.
type Message struct {
	Payload []byte
}

// Subscription is a live feed of messages from one channel. Done is closed
// when the feed ends for any reason; Err reports why when the cause was not
// a plain close. Close must be safe to call multiple times.
type Subscription interface {
	Messages() <-chan Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Provider subscribes to named channels and publishes messages to them.
type Provider interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}
