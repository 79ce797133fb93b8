package testsupport

import (
	"context"
	"testing"
	"time"

	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewQueue builds a Queue over the store with a fresh bus and registers
// cleanup.
func NewQueue(t testing.TB, store *queue.Store) (*queue.Queue, *events.Bus) {
	t.Helper()

	bus := events.NewBus(0)
	q := queue.New(store, bus, time.Minute)
	t.Cleanup(func() {
		q.Close()
		bus.Close()
	})
	return q, bus
}

// EnqueueJob enqueues a front scan for the given image path.
func EnqueueJob(t testing.TB, q *queue.Queue, imagePath string) *queue.ScanJob {
	t.Helper()

	job, err := q.Enqueue(context.Background(), queue.EnqueueOptions{ImagePath: imagePath})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}
