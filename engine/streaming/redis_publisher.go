package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/infra/pubsub"
)

// RedisPublisher publishes task events using Redis for fan-out and replay.
// Each task gets a capped list as its replay log and a counter for envelope
// ids; both expire after ttl so abandoned tasks do not accumulate keys.
type RedisPublisher struct {
	client        redis.UniversalClient
	channelPrefix string
	logPrefix     string
	seqPrefix     string
	maxEntries    int64
	ttl           time.Duration
}

// RedisOptions controls Redis publisher behavior.
type RedisOptions struct {
	ChannelPrefix string
	LogPrefix     string
	SeqPrefix     string
	MaxEntries    int64
	TTL           time.Duration
}

const (
	defaultChannelPrefix = "tasks:events:"
	defaultLogPrefix     = "tasks:events:log:"
	defaultSeqPrefix     = "tasks:events:seq:"
	defaultMaxEntries    = 500
	defaultTTL           = 24 * time.Hour
)

// NewRedisPublisher constructs a Redis-backed event publisher.
func NewRedisPublisher(client redis.UniversalClient, opts *RedisOptions) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("streaming: redis client is required")
	}
	cfg := applyRedisDefaults(opts)
	return &RedisPublisher{
		client:        client,
		channelPrefix: cfg.channelPrefix,
		logPrefix:     cfg.logPrefix,
		seqPrefix:     cfg.seqPrefix,
		maxEntries:    cfg.maxEntries,
		ttl:           cfg.ttl,
	}, nil
}

// Publish appends the event to the task's Redis log and broadcasts it to
// subscribers in one transaction.
func (p *RedisPublisher) Publish(ctx context.Context, taskID core.ID, event Event) (Envelope, error) {
	if taskID.IsZero() {
		return Envelope{}, errors.New("streaming: task id is required")
	}
	id, err := p.nextID(ctx, taskID)
	if err != nil {
		return Envelope{}, err
	}
	envelope, err := NewEnvelope(id, taskID, event, time.Now())
	if err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, fmt.Errorf("streaming: marshal envelope: %w", err)
	}
	if err := p.persist(ctx, taskID, payload); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

// Replay returns stored events with id greater than afterID in ascending
// order.
func (p *RedisPublisher) Replay(ctx context.Context, taskID core.ID, afterID int64, limit int) ([]Envelope, error) {
	if limit <= 0 || int64(limit) > p.maxEntries {
		limit = int(p.maxEntries)
	}
	values, err := p.client.LRange(ctx, p.logKey(taskID), 0, p.maxEntries-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("streaming: fetch backlog: %w", err)
	}
	result := make([]Envelope, 0, min(len(values), limit))
	// The log is newest-first; walk it backwards to return ascending ids.
	for i := len(values) - 1; i >= 0; i-- {
		var envelope Envelope
		if err := json.Unmarshal([]byte(values[i]), &envelope); err != nil {
			continue
		}
		if envelope.ID <= afterID {
			continue
		}
		result = append(result, envelope)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Channel returns the pub/sub channel for the task id.
func (p *RedisPublisher) Channel(taskID core.ID) string {
	return p.channelPrefix + taskID.String()
}

// Forget drops the task's replay log and sequence counter.
func (p *RedisPublisher) Forget(taskID core.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.client.Del(ctx, p.logKey(taskID), p.seqKey(taskID))
}

func (p *RedisPublisher) persist(ctx context.Context, taskID core.ID, payload []byte) error {
	logKey := p.logKey(taskID)
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, logKey, payload)
	pipe.LTrim(ctx, logKey, 0, p.maxEntries-1)
	if p.ttl > 0 {
		pipe.Expire(ctx, logKey, p.ttl)
		pipe.Expire(ctx, p.seqKey(taskID), p.ttl)
	}
	pipe.Publish(ctx, p.Channel(taskID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("streaming: persist event: %w", err)
	}
	return nil
}

func (p *RedisPublisher) nextID(ctx context.Context, taskID core.ID) (int64, error) {
	id, err := p.client.Incr(ctx, p.seqKey(taskID)).Result()
	if err != nil {
		return 0, fmt.Errorf("streaming: increment seq: %w", err)
	}
	return id, nil
}

func (p *RedisPublisher) logKey(taskID core.ID) string {
	return p.logPrefix + taskID.String()
}

func (p *RedisPublisher) seqKey(taskID core.ID) string {
	return p.seqPrefix + taskID.String()
}

type redisConfig struct {
	channelPrefix string
	logPrefix     string
	seqPrefix     string
	maxEntries    int64
	ttl           time.Duration
}

func applyRedisDefaults(opts *RedisOptions) redisConfig {
	cfg := redisConfig{
		channelPrefix: defaultChannelPrefix,
		logPrefix:     defaultLogPrefix,
		seqPrefix:     defaultSeqPrefix,
		maxEntries:    defaultMaxEntries,
		ttl:           defaultTTL,
	}
	if opts == nil {
		return cfg
	}
	if opts.ChannelPrefix != "" {
		cfg.channelPrefix = opts.ChannelPrefix
	}
	if opts.LogPrefix != "" {
		cfg.logPrefix = opts.LogPrefix
	}
	if opts.SeqPrefix != "" {
		cfg.seqPrefix = opts.SeqPrefix
	}
	if opts.MaxEntries > 0 {
		cfg.maxEntries = opts.MaxEntries
	}
	if opts.TTL != 0 {
		cfg.ttl = opts.TTL
	}
	return cfg
}

// RedisHub pairs a RedisPublisher with a pub/sub provider so callers can
// both publish and subscribe through one value.
type RedisHub struct {
	*RedisPublisher
	provider pubsub.Provider
}

var _ Hub = (*RedisHub)(nil)

func NewRedisHub(client *redis.Client) (*RedisHub, error) {
	publisher, err := NewRedisPublisher(client, nil)
	if err != nil {
		return nil, err
	}
	provider, err := pubsub.NewRedisProvider(client)
	if err != nil {
		return nil, err
	}
	return &RedisHub{RedisPublisher: publisher, provider: provider}, nil
}

// Subscribe attaches to the task's pub/sub channel and decodes envelopes.
func (h *RedisHub) Subscribe(ctx context.Context, taskID core.ID) (Subscription, error) {
	if taskID.IsZero() {
		return nil, errors.New("streaming: task id is required")
	}
	inner, err := h.provider.Subscribe(ctx, h.Channel(taskID))
	if err != nil {
		return nil, err
	}
	out := make(chan Envelope, defaultSubscriberBuffer)
	sub := &redisHubSub{inner: inner, events: out}
	go func() {
		defer close(out)
		for msg := range inner.Messages() {
			var envelope Envelope
			if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
				continue
			}
			select {
			case out <- envelope:
			case <-inner.Done():
				return
			}
		}
	}()
	return sub, nil
}

type redisHubSub struct {
	inner  pubsub.Subscription
	events <-chan Envelope
}

func (s *redisHubSub) Events() <-chan Envelope { return s.events }

func (s *redisHubSub) Done() <-chan struct{} { return s.inner.Done() }

func (s *redisHubSub) Err() error { return s.inner.Err() }

func (s *redisHubSub) Close() error { return s.inner.Close() }
