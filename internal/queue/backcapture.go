package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"cardmint/internal/events"
)

// Back-capture correlation: a short-lived association from a capture session
// or capture-correlation id to the front-scan job expecting its back side.
// Process-local and in-memory on purpose; losing it on restart means a back
// capture simply becomes an ordinary new job.

// ExpectBackCapture registers that the given front job is waiting for a back
// capture correlated by key.
func (q *Queue) ExpectBackCapture(key, frontJobID string) {
	key = strings.TrimSpace(key)
	if key == "" || frontJobID == "" {
		return
	}
	q.backCaptures.put(key, frontJobID)
}

// IsBackCaptureExpected reports whether a live correlation exists for key.
func (q *Queue) IsBackCaptureExpected(key string) bool {
	_, ok := q.backCaptures.get(key)
	return ok
}

// ResolveBackCapture consumes the correlation for key, returning the waiting
// front job id. Resolution removes the entry ahead of its TTL and announces
// the pairing on the bus.
func (q *Queue) ResolveBackCapture(key string) (string, bool) {
	frontJobID, ok := q.backCaptures.take(key)
	if !ok {
		return "", false
	}
	if q.bus != nil {
		q.bus.Publish(events.Event{
			Type:    events.TypeBackReady,
			JobID:   frontJobID,
			Payload: map[string]any{"correlation_key": key},
		})
	}
	return frontJobID, true
}

// AttachBackCapture records an arriving back capture on the front job that
// was waiting for it. The job is marked back-oriented so an in-flight
// pipeline pass reclassifies it at the finish-line re-read instead of
// surfacing front-side candidates.
func (q *Queue) AttachBackCapture(ctx context.Context, frontJobID, backImagePath string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, frontJobID)
	if err != nil {
		return nil, err
	}
	job.BackImagePath = backImagePath
	job.ScanOrientation = OrientationBack
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, frontJobID, events.TypeJobUpdated, map[string]any{"back_image_path": backImagePath})
}

type ttlEntry struct {
	value     string
	expiresAt time.Time
}

// ttlMap is an arena-style expiring map with eviction on a timer tick.
type ttlMap struct {
	mu      sync.Mutex
	entries map[string]ttlEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

const ttlJanitorInterval = 15 * time.Second

func newTTLMap(ttl time.Duration) *ttlMap {
	m := &ttlMap{
		entries: make(map[string]ttlEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *ttlMap) put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = ttlEntry{value: value, expiresAt: time.Now().Add(m.ttl)}
}

func (m *ttlMap) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (m *ttlMap) take(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	delete(m.entries, key)
	return entry.value, true
}

func (m *ttlMap) janitor() {
	ticker := time.NewTicker(ttlJanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *ttlMap) stop() {
	m.once.Do(func() { close(m.done) })
}
