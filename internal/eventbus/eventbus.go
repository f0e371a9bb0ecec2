// Package eventbus implements the in-process publish/subscribe fan-out
// used by the ExecutionQueue, ClusterMembership and TaskDispatcher to
// notify the ControlServer's live stream (spec §4.8). Subscription is
// non-blocking: a slow subscriber never backpressures a publisher,
// it just drops the oldest queued event and logs once per gap —
// the same "bounded channel, drop-oldest, warn-once" shape the
// teacher uses for its admin event log tailer.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Topic names a channel of related events (spec §4.8).
type Topic string

const (
	TopicTask    Topic = "task"
	TopicLog     Topic = "log"
	TopicStats   Topic = "stats"
	TopicCluster Topic = "cluster"
)

// Event is a single published message.
type Event struct {
	Topic     Topic
	Data      any
	Timestamp time.Time
}

const defaultQueueSize = 256

// Bus is a topic-oriented publish/subscribe broker.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

type subscription struct {
	topics  map[Topic]bool
	ch      chan Event
	mu      sync.Mutex
	dropped bool
}

// New creates an EventBus. log may be nil.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, subs: make(map[*subscription]struct{})}
}

// Subscription is a handle returned to callers of Subscribe.
type Subscription struct {
	bus *Bus
	sub *subscription
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event { return s.sub.ch }

// Unsubscribe stops delivery and releases the subscriber's queue.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.sub)
	close(s.sub.ch)
}

// Subscribe registers interest in the given topics (empty means all
// topics). Events are delivered in publish order per topic.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	set := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	sub := &subscription{topics: set, ch: make(chan Event, defaultQueueSize)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{bus: b, sub: sub}
}

// Publish delivers an event to every subscriber interested in topic.
// It never blocks on a slow subscriber: if a subscriber's queue is
// full, the oldest queued event is dropped to make room.
func (b *Bus) Publish(topic Topic, data any) {
	ev := Event{Topic: topic, Data: data, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.ch <- ev:
		sub.dropped = false
		return
	default:
	}

	// Queue full: drop the oldest event to make room, then retry once.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- ev:
	default:
	}

	if !sub.dropped {
		sub.dropped = true
		b.log.Warn("eventbus: subscriber queue full, dropping oldest event", "topic", ev.Topic)
	}
}
