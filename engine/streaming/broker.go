package streaming

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
)

// BrokerOptions controls in-process broker behavior.
type BrokerOptions struct {
	// MaxEntries bounds the per-task replay backlog.
	MaxEntries int
	// SubscriberBuffer is the channel depth per subscription. A subscriber
	// that falls further behind than this loses events.
	SubscriberBuffer int
}

const (
	defaultBrokerMaxEntries = 500
	defaultSubscriberBuffer = 64
)

// Broker is an in-process Hub. Envelopes are assigned a per-task monotonic
// id under the broker lock, so subscribers always observe a task's events in
// emission order. Delivery is best effort: a full subscriber buffer drops
// the event for that subscriber only.
type Broker struct {
	mu         sync.Mutex
	seqs       map[core.ID]int64
	backlog    map[core.ID][]Envelope
	subs       map[core.ID]map[int64]*brokerSub
	nextSubID  int64
	maxEntries int
	buffer     int
}

var _ Hub = (*Broker)(nil)

func NewBroker(opts *BrokerOptions) *Broker {
	maxEntries := defaultBrokerMaxEntries
	buffer := defaultSubscriberBuffer
	if opts != nil {
		if opts.MaxEntries > 0 {
			maxEntries = opts.MaxEntries
		}
		if opts.SubscriberBuffer > 0 {
			buffer = opts.SubscriberBuffer
		}
	}
	return &Broker{
		seqs:       make(map[core.ID]int64),
		backlog:    make(map[core.ID][]Envelope),
		subs:       make(map[core.ID]map[int64]*brokerSub),
		maxEntries: maxEntries,
		buffer:     buffer,
	}
}

// Publish assigns the next per-task id, stores the envelope in the replay
// backlog and fans it out to live subscribers without blocking.
func (b *Broker) Publish(_ context.Context, taskID core.ID, event Event) (Envelope, error) {
	if taskID.IsZero() {
		return Envelope{}, errors.New("streaming: task id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqs[taskID]++
	envelope, err := NewEnvelope(b.seqs[taskID], taskID, event, time.Now())
	if err != nil {
		b.seqs[taskID]--
		return Envelope{}, err
	}
	log := append(b.backlog[taskID], envelope)
	if len(log) > b.maxEntries {
		log = log[len(log)-b.maxEntries:]
	}
	b.backlog[taskID] = log
	for _, sub := range b.subs[taskID] {
		sub.deliver(envelope)
	}
	return envelope, nil
}

// Replay returns stored envelopes with id greater than afterID in ascending
// order, capped at limit (or the backlog bound when limit is not positive).
func (b *Broker) Replay(_ context.Context, taskID core.ID, afterID int64, limit int) ([]Envelope, error) {
	if limit <= 0 || limit > b.maxEntries {
		limit = b.maxEntries
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []Envelope
	for _, envelope := range b.backlog[taskID] {
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

// Channel returns the logical channel name for the task id. The broker does
// not use it internally; it exists for interface parity with transports that
// do.
func (b *Broker) Channel(taskID core.ID) string {
	return "tasks:events:" + taskID.String()
}

// Subscribe attaches a live feed for taskID. The subscription closes when
// ctx is done, when Close is called, or when the task is forgotten.
func (b *Broker) Subscribe(ctx context.Context, taskID core.ID) (Subscription, error) {
	if taskID.IsZero() {
		return nil, errors.New("streaming: task id is required")
	}
	sub := &brokerSub{
		ch:   make(chan Envelope, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[int64]*brokerSub)
	}
	b.subs[taskID][id] = sub
	b.mu.Unlock()

	detach := func(err error) {
		b.mu.Lock()
		if set, ok := b.subs[taskID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.subs, taskID)
			}
		}
		b.mu.Unlock()
		sub.finish(err)
	}
	sub.close = func() { detach(nil) }
	go func() {
		select {
		case <-ctx.Done():
			detach(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Forget drops the backlog and sequence for a task and ends its
// subscriptions. Called after the final event of a deleted task so streams
// terminate instead of idling forever.
func (b *Broker) Forget(taskID core.ID) {
	b.mu.Lock()
	delete(b.seqs, taskID)
	delete(b.backlog, taskID)
	subs := b.subs[taskID]
	delete(b.subs, taskID)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.finish(nil)
	}
}

type brokerSub struct {
	ch    chan Envelope
	done  chan struct{}
	close func()
	once  sync.Once
	err   error
}

func (s *brokerSub) deliver(envelope Envelope) {
	select {
	case s.ch <- envelope:
	default:
	}
}

func (s *brokerSub) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *brokerSub) Events() <-chan Envelope { return s.ch }

func (s *brokerSub) Done() <-chan struct{} { return s.done }

func (s *brokerSub) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *brokerSub) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
