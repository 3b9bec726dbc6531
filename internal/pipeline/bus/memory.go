// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
)

const (
	// SubscriberBuffer is the per-subscriber queue depth.
	SubscriberBuffer = 64

	dropLogEvery = 100
)

var errNilContext = errors.New("bus: nil context")

// MemoryBus fans events out to in-process subscribers. Delivery is not
// durable: a publisher waits on full subscribers only until its context
// ends, and the event is then counted as dropped for each of them. Other
// subscribers still receive it.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memSub]struct{}
	drops  atomic.Uint64
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[*memSub]struct{})}
}

// Publish delivers msg to every subscriber of topic. Subscribers with room
// are served first; full ones are then waited on until ctx ends. The read
// lock stays held while sending so an unsubscribe cannot close a channel
// mid-send.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return errNilContext
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var full []*memSub
	for s := range b.topics[topic] {
		select {
		case s.ch <- msg:
		default:
			full = append(full, s)
		}
	}

	missed := 0
	for _, s := range full {
		select {
		case s.ch <- msg:
		case <-ctx.Done():
			b.dropped(topic, ctx.Err())
			missed++
		}
	}
	if missed > 0 {
		return fmt.Errorf("publish %s: %d subscriber(s) missed the event: %w", topic, missed, ctx.Err())
	}
	return nil
}

func (b *MemoryBus) dropped(topic string, cause error) {
	reason := "canceled"
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "timeout"
	}
	metrics.IncEventDrop(topic, reason)
	if n := b.drops.Add(1); n%dropLogEvery == 1 {
		logger := log.WithComponent("bus")
		logger.Warn().
			Str("topic", topic).
			Str("reason", reason).
			Uint64("dropped_total", n).
			Msg("event not delivered to a slow subscriber")
	}
}

// Subscribe registers a buffered subscriber on topic. It is removed when
// Close is called or ctx ends, whichever comes first; its channel is then
// closed.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	if ctx == nil {
		return nil, errNilContext
	}
	s := &memSub{bus: b, topic: topic, ch: make(chan Message, SubscriberBuffer)}

	b.mu.Lock()
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*memSub]struct{})
		b.topics[topic] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	s.unwatch = context.AfterFunc(ctx, s.remove)
	return s, nil
}

// Subscribers reports how many subscribers topic currently has.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

type memSub struct {
	bus     *MemoryBus
	topic   string
	ch      chan Message
	once    sync.Once
	unwatch func() bool
}

func (s *memSub) C() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	if s.unwatch != nil {
		s.unwatch()
	}
	s.remove()
	return nil
}

func (s *memSub) remove() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		if set := b.topics[s.topic]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(b.topics, s.topic)
			}
		}
		close(s.ch)
	})
}
