package events

import (
	"sync"
	"time"
)

// Type identifies a domain event emitted by the queue or worker.
type Type string

const (
	TypeJobQueued      Type = "job:queued"
	TypeJobUpdated     Type = "job:updated"
	TypeJobAccepted    Type = "job:accepted"
	TypeJobFailed      Type = "job:failed"
	TypeFrontLocked    Type = "front:locked"
	TypeBackReady      Type = "back:ready"
	TypeShadowSampled  Type = "shadow:sampled"
	TypeCanonicalMint  Type = "canonical:minted"
	TypeCanonicalMatch Type = "canonical:attached"
)

// Event is one job-state broadcast.
type Event struct {
	Type      Type           `json:"type"`
	JobID     string         `json:"job_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Bus fans events out to subscribers without ever blocking publishers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

const defaultBuffer = 64

// NewBus constructs a Bus. A non-positive buffer falls back to the default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish delivers the event to every subscriber. When a subscriber's buffer
// is full its oldest event is evicted so the publisher never waits.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		for {
			select {
			case ch <- event:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a consumer. The returned cancel function removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
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

// Close tears down all subscriptions. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
