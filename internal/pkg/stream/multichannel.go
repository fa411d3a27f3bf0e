// Package stream implements the bounded, multi-subscriber FIFO that backs
// stream ports (spec §4.A.1). It models a generator/async-iterator as a
// plain bounded buffer plus a close flag and a set of per-consumer cursors,
// per the redesign notes: no language-level generators, no recursive
// callbacks.
package stream

import (
	"context"
	"sync"

	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
)

// MultiChannel is an ordered, closable FIFO with multiple independent
// consumers. Send blocks when the buffer is full (overflow policy = block
// producer); a subscriber that falls more than maxLag items behind the
// newest send is evicted with StreamLagged, surfaced only to that
// subscriber.
type MultiChannel[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity int
	maxLag   int64

	buf    []T
	head   int64 // sequence number of buf[0]
	tail   int64 // next sequence number to assign
	closed bool

	subs   map[int64]*cursorState
	nextID int64
}

type cursorState struct {
	next   int64
	lagged bool
	active bool
}

// NewMultiChannel creates a stream with the given buffer capacity (producer
// blocks once this many unconsumed-by-someone items accumulate) and maxLag
// (a subscriber further than this behind the tail is evicted).
func NewMultiChannel[T any](capacity int, maxLag int64) *MultiChannel[T] {
	if capacity <= 0 {
		capacity = 64
	}
	if maxLag <= 0 {
		maxLag = int64(capacity) * 4
	}
	mc := &MultiChannel[T]{
		capacity: capacity,
		maxLag:   maxLag,
		subs:     make(map[int64]*cursorState),
	}
	mc.cond = sync.NewCond(&mc.mu)
	return mc
}

// Send appends an item, blocking while the buffer is at capacity. It
// returns StreamClosed if the stream has already been closed, or the
// context error if ctx is cancelled while blocked.
func (mc *MultiChannel[T]) Send(ctx context.Context, portID string, item T) error {
	stop := mc.wakeOnDone(ctx)
	defer stop()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	for !mc.closed && len(mc.buf) >= mc.capacity {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mc.cond.Wait()
	}
	if mc.closed {
		return cgerrors.StreamClosed(portID)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	mc.buf = append(mc.buf, item)
	mc.tail++
	mc.evictLaggards()
	mc.cond.Broadcast()
	return nil
}

// Close is idempotent. Further Send calls fail with StreamClosed; existing
// subscribers drain any buffered items and then see end-of-stream.
func (mc *MultiChannel[T]) Close() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return
	}
	mc.closed = true
	mc.cond.Broadcast()
}

// Cursor is a per-subscriber read handle over the stream, delivering items
// from the tail position at subscribe time.
type Cursor[T any] struct {
	mc     *MultiChannel[T]
	id     int64
	portID string
}

// Subscribe returns a cursor starting from the current tail: subscribers
// only see items sent after they subscribe, matching "full suffix from
// subscription time."
func (mc *MultiChannel[T]) Subscribe(portID string) *Cursor[T] {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	id := mc.nextID
	mc.nextID++
	mc.subs[id] = &cursorState{next: mc.tail, active: true}
	return &Cursor[T]{mc: mc, id: id, portID: portID}
}

// Next blocks until an item is available, the stream closes, this
// subscriber is evicted for lag, or ctx is cancelled. ok is false on clean
// end-of-stream (err is nil in that case).
func (c *Cursor[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	stop := c.mc.wakeOnDone(ctx)
	defer stop()

	mc := c.mc
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for {
		sub, present := mc.subs[c.id]
		if !present {
			var zero T
			return zero, false, cgerrors.StreamLagged(c.portID, "")
		}
		if sub.lagged {
			var zero T
			return zero, false, cgerrors.StreamLagged(c.portID, "")
		}
		if sub.next < mc.head {
			// Items before head were trimmed only once every active
			// subscriber had passed them, so this subscriber is caught up
			// to head at worst; clamp defensively.
			sub.next = mc.head
		}
		if sub.next < mc.tail {
			idx := sub.next - mc.head
			v := mc.buf[idx]
			sub.next++
			mc.trim()
			mc.cond.Broadcast()
			return v, true, nil
		}
		if mc.closed {
			var zero T
			return zero, false, nil
		}
		if ctx.Err() != nil {
			var zero T
			return zero, false, ctx.Err()
		}
		mc.cond.Wait()
	}
}

// Unsubscribe releases this cursor's slot so trimming is not held back by
// a consumer that has stopped reading.
func (c *Cursor[T]) Unsubscribe() {
	mc := c.mc
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.subs, c.id)
	mc.trim()
	mc.cond.Broadcast()
}

// evictLaggards must be called with mc.mu held.
func (mc *MultiChannel[T]) evictLaggards() {
	for id, sub := range mc.subs {
		if sub.lagged {
			continue
		}
		if mc.tail-sub.next > mc.maxLag {
			sub.lagged = true
			delete(mc.subs, id)
		}
	}
	mc.trim()
}

// trim must be called with mc.mu held. It drops buffered items that every
// remaining active subscriber has already read.
func (mc *MultiChannel[T]) trim() {
	minNext := mc.tail
	for _, sub := range mc.subs {
		if sub.next < minNext {
			minNext = sub.next
		}
	}
	if minNext > mc.head {
		drop := minNext - mc.head
		if drop > int64(len(mc.buf)) {
			drop = int64(len(mc.buf))
		}
		mc.buf = mc.buf[drop:]
		mc.head += drop
	}
}

// wakeOnDone returns a stop function; while active, it broadcasts mc.cond
// when ctx is cancelled so blocked Send/Next calls can observe ctx.Err().
func (mc *MultiChannel[T]) wakeOnDone(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			mc.mu.Lock()
			mc.cond.Broadcast()
			mc.mu.Unlock()
		case <-done:
		}
	}()
	return func() { close(done) }
}
