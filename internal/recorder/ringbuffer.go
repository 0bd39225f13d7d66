package recorder

import (
	"sync"

	"github.com/platewatch/platewatch/internal/model"
)

// RingBuffer holds the most recent frames for the rolling pre-event
// window. Push clones the frame and evicts the oldest clone once the
// buffer is full; a push never blocks on a reader and never fails.
// A single producer (the orchestrator) pushes; Snapshot may be called
// from the same goroutine or another.
type RingBuffer struct {
	mu     sync.Mutex
	frames []*model.Frame
	head   int
	size   int
}

// NewRingBuffer creates a buffer holding up to capacity frames.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{frames: make([]*model.Frame, capacity)}
}

// Push stores a clone of the frame, evicting the oldest if full. The
// caller keeps ownership of its frame.
func (b *RingBuffer) Push(frame *model.Frame) {
	clone := frame.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	if old := b.frames[b.head]; old != nil {
		old.Close()
	}
	b.frames[b.head] = clone
	b.head = (b.head + 1) % len(b.frames)
	if b.size < len(b.frames) {
		b.size++
	}
}

// Snapshot returns the buffered frames oldest-first and transfers
// ownership of them to the caller, leaving the buffer empty. The
// caller must Close each frame.
func (b *RingBuffer) Snapshot() []*model.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*model.Frame, 0, b.size)
	start := (b.head - b.size + len(b.frames)) % len(b.frames)
	for i := 0; i < b.size; i++ {
		idx := (start + i) % len(b.frames)
		out = append(out, b.frames[idx])
		b.frames[idx] = nil
	}
	b.head = 0
	b.size = 0
	return out
}

// Len returns the number of buffered frames.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Close releases every buffered frame.
func (b *RingBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, f := range b.frames {
		if f != nil {
			f.Close()
			b.frames[i] = nil
		}
	}
	b.size = 0
	b.head = 0
}
