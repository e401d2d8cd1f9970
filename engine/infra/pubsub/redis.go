package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisProvider implements the Provider interface using Redis Pub/Sub.
type RedisProvider struct {
	client redis.UniversalClient
}

// NewRedisProvider constructs a Provider backed by a Redis client.
func NewRedisProvider(client redis.UniversalClient) (*RedisProvider, error) {
	if client == nil {
		return nil, errors.New("pubsub: redis client is nil")
	}
	return &RedisProvider{client: client}, nil
}

func (p *RedisProvider) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

func (p *RedisProvider) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	pubsub := p.client.Subscribe(ctx, channel)
	// Confirm the subscription before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	out := make(chan Message, 64)
	sub.messages = out
	go func(messages <-chan *redis.Message) {
		defer close(out)
		defer sub.finish(subCtx.Err())
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				copied := make([]byte, len(msg.Payload))
				copy(copied, msg.Payload)
				select {
				case out <- Message{Payload: copied}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}(pubsub.Channel())

	return sub, nil
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	messages <-chan Message
	done     chan struct{}
	mu       sync.Mutex
	err      error
	once     sync.Once
	closed   sync.Once
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	var err error
	s.closed.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) finish(err error) {
	s.once.Do(func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		close(s.done)
	})
}
