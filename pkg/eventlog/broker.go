package eventlog

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth; a full buffer
// drops the record for that subscriber instead of blocking the appender.
const subscriberBuffer = 64

// Broker fans appended records out to per-topic subscribers
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan StoredRecord]bool
	closed      bool
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[chan StoredRecord]bool),
	}
}

// Subscribe registers a subscriber for the topic and returns its channel
// plus a cancel function. Cancel is idempotent.
func (b *Broker) Subscribe(topic string) (<-chan StoredRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan StoredRecord, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[chan StoredRecord]bool)
	}
	b.subscribers[topic][ch] = true

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs := b.subscribers[topic]; subs != nil && subs[ch] {
				delete(subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers a record to every subscriber of the topic. Full
// subscriber buffers drop the record for that subscriber.
func (b *Broker) Publish(topic string, rec StoredRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[topic] {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Close drops and closes every subscriber channel
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string]map[chan StoredRecord]bool)
}
