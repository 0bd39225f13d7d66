package pipeline

import (
	"sync"

	"github.com/platewatch/platewatch/internal/model"
)

const subscriberBuffer = 16

// Broadcaster fans out record updates to subscriber channels. Publish
// never blocks: a subscriber that has fallen behind misses updates
// rather than stalling the frame loop.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan model.DetectionRecord
	next int
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan model.DetectionRecord)}
}

// Subscribe registers a new subscriber. The returned cancel func must
// be called when done; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan model.DetectionRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan model.DetectionRecord, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the record to every subscriber that has room.
func (b *Broadcaster) Publish(rec model.DetectionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
