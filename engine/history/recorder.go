// Package history keeps bounded in-memory event history for tasks created
// with track_history. It sits between the engine and the streaming hub as a
// recording tee: every published envelope is mirrored into a fixed-size ring
// per task, and the rings themselves live in an LRU so the total number of
// remembered tasks stays bounded.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/streaming"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

const (
	// DefaultTaskCapacity bounds how many tasks keep history at once; the
	// least recently touched ring is evicted past this.
	DefaultTaskCapacity = 1024
	// DefaultRingSize is the per-task event capacity; older envelopes are
	// overwritten.
	DefaultRingSize = 256
)

// Config controls the recorder. The zero value records with defaults.
type Config struct {
	Disabled     bool
	TaskCapacity int
	RingSize     int
}

// Recorder implements streaming.Hub by delegating to an inner hub and
// mirroring successfully published envelopes into per-task rings. Tasks
// without track_history get a cached negative entry so the repository is
// consulted once per task, not once per event.
type Recorder struct {
	inner    streaming.Hub
	repo     task.Repository
	rings    *lru.Cache[core.ID, *ring]
	ringSize int
}

var _ streaming.Hub = (*Recorder)(nil)

// NewRecorder wraps hub with history recording. With cfg.Disabled the
// recorder is a pure passthrough and Entries always returns nothing.
func NewRecorder(hub streaming.Hub, repo task.Repository, cfg *Config) (*Recorder, error) {
	if hub == nil {
		return nil, errors.New("history: hub is required")
	}
	if repo == nil {
		return nil, errors.New("history: repository is required")
	}
	r := &Recorder{inner: hub, ringSize: DefaultRingSize}
	capacity := DefaultTaskCapacity
	if cfg != nil {
		if cfg.Disabled {
			return &Recorder{inner: hub}, nil
		}
		if cfg.TaskCapacity > 0 {
			capacity = cfg.TaskCapacity
		}
		if cfg.RingSize > 0 {
			r.ringSize = cfg.RingSize
		}
	}
	rings, err := lru.New[core.ID, *ring](capacity)
	if err != nil {
		return nil, fmt.Errorf("history: init ring cache: %w", err)
	}
	r.repo = repo
	r.rings = rings
	return r, nil
}

// Publish delegates to the inner hub and records the envelope on success.
func (r *Recorder) Publish(ctx context.Context, taskID core.ID, event streaming.Event) (streaming.Envelope, error) {
	envelope, err := r.inner.Publish(ctx, taskID, event)
	if err != nil {
		return envelope, err
	}
	r.record(ctx, envelope)
	return envelope, nil
}

// Replay delegates to the inner hub's transport backlog.
func (r *Recorder) Replay(ctx context.Context, taskID core.ID, afterID int64, limit int) ([]streaming.Envelope, error) {
	return r.inner.Replay(ctx, taskID, afterID, limit)
}

// Channel delegates to the inner hub.
func (r *Recorder) Channel(taskID core.ID) string {
	return r.inner.Channel(taskID)
}

// Subscribe delegates to the inner hub.
func (r *Recorder) Subscribe(ctx context.Context, taskID core.ID) (streaming.Subscription, error) {
	return r.inner.Subscribe(ctx, taskID)
}

// Forget drops the task's ring and forwards to the inner hub so open
// subscriptions terminate.
func (r *Recorder) Forget(taskID core.ID) {
	if r.rings != nil {
		r.rings.Remove(taskID)
	}
	if f, ok := r.inner.(interface{ Forget(core.ID) }); ok {
		f.Forget(taskID)
	}
}

// Entries returns a copy of the recorded envelopes for taskID, oldest first.
// Aggregated parent progress envelopes are filtered out unless
// includeAggregated is set, so leaf progress history stays readable for
// parents of deep trees.
func (r *Recorder) Entries(taskID core.ID, includeAggregated bool) []streaming.Envelope {
	if r.rings == nil {
		return nil
	}
	g, ok := r.rings.Get(taskID)
	if !ok || !g.tracked {
		return nil
	}
	entries := g.snapshot()
	if includeAggregated {
		return entries
	}
	filtered := make([]streaming.Envelope, 0, len(entries))
	for _, e := range entries {
		if isAggregated(e) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// Tracked reports whether taskID currently has a live, recording ring.
func (r *Recorder) Tracked(taskID core.ID) bool {
	if r.rings == nil {
		return false
	}
	g, ok := r.rings.Peek(taskID)
	return ok && g.tracked
}

func (r *Recorder) record(ctx context.Context, envelope streaming.Envelope) {
	if r.rings == nil {
		return
	}
	g := r.ringFor(ctx, envelope.TaskID)
	if g == nil {
		return
	}
	g.append(envelope)
}

// ringFor returns the ring for taskID, resolving the track_history flag from
// the repository on first contact. Unknown tasks (already deleted) record
// nothing.
func (r *Recorder) ringFor(ctx context.Context, taskID core.ID) *ring {
	if g, ok := r.rings.Get(taskID); ok {
		return g
	}
	item, err := r.repo.Get(ctx, taskID)
	if err != nil {
		if !errors.Is(err, task.ErrTaskNotFound) {
			logger.FromContext(ctx).Debug("History lookup failed",
				"task_id", taskID, "error", err)
		}
		return nil
	}
	g := newRing(item.TrackHistory, r.ringSize)
	if prev, ok, _ := r.rings.PeekOrAdd(taskID, g); ok {
		// A concurrent publisher created the ring first; use theirs.
		return prev
	}
	return g
}

func isAggregated(e streaming.Envelope) bool {
	return e.Type == task.EventProgress && gjson.GetBytes(e.Data, "aggregated").Bool()
}

// ring is a fixed-capacity circular buffer of envelopes. Untracked tasks get
// a ring with no buffer, which caches the negative decision.
type ring struct {
	mu      sync.Mutex
	tracked bool
	buf     []streaming.Envelope
	start   int
	count   int
}

func newRing(tracked bool, size int) *ring {
	g := &ring{tracked: tracked}
	if tracked {
		g.buf = make([]streaming.Envelope, size)
	}
	return g
}

func (g *ring) append(e streaming.Envelope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.buf) == 0 {
		return
	}
	g.buf[(g.start+g.count)%len(g.buf)] = e
	if g.count < len(g.buf) {
		g.count++
	} else {
		g.start = (g.start + 1) % len(g.buf)
	}
}

func (g *ring) snapshot() []streaming.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]streaming.Envelope, 0, g.count)
	for i := 0; i < g.count; i++ {
		out = append(out, g.buf[(g.start+i)%len(g.buf)])
	}
	return out
}
