// Package pubsub is an in-process, topic-keyed event bus used to fan out
// edit-session and execution events to WebSocket subscribers (spec.md §6.2,
// §9).
//
// Grounded on pkg/bus.MessageBus's fan-out tap pattern (buffered per-
// subscriber channel, non-blocking send with drop-if-slow), generalized from
// a fixed inbound/outbound/system triple to an open set of string topics.
package pubsub

import "sync"

// Message is one published event: a topic plus an arbitrary payload.
type Message struct {
	Topic   string
	Payload interface{}
}

type subscriber struct {
	id string
	ch chan Message
}

// Bus fans out published messages to every subscriber of a topic. Slow
// subscribers drop messages rather than block publishers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*subscriber
	closed bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]*subscriber)}
}

// Subscribe registers a new tap on topic, returning a receive-only channel
// and an unsubscribe function. The channel is buffered; a subscriber that
// falls behind has messages dropped rather than stalling publishers.
func (b *Bus) Subscribe(topic string) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{id: topic + ":" + randSuffix(), ch: make(chan Message, 64)}
	b.topics[topic] = append(b.topics[topic], sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s == sub {
				b.topics[topic] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish sends payload to every current subscriber of topic.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	msg := Message{Topic: topic, Payload: payload}
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- msg:
		default: // drop if the subscriber is slow
		}
	}
}

// SubscriberCount reports how many live subscribers a topic has, for tests
// and diagnostics.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close closes every subscriber channel. Further Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.topics = nil
}

var suffixCounter struct {
	mu sync.Mutex
	n  uint64
}

// randSuffix avoids crypto/rand and math/rand/time-based nondeterminism for
// a value that only needs to be unique within one process, not unguessable.
func randSuffix() string {
	suffixCounter.mu.Lock()
	defer suffixCounter.mu.Unlock()
	suffixCounter.n++
	return itoa(suffixCounter.n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
