package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cardmint/internal/queue"
	"cardmint/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)

	ctx := context.Background()
	job, err := q.Enqueue(ctx, queue.EnqueueOptions{
		ImagePath: "/tmp/capture-001.jpg",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if job.RetryCount != 0 || job.PPTFailureCount != 0 {
		t.Fatalf("expected zeroed counters, got %+v", job)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil || fetched.ImagePath != "/tmp/capture-001.jpg" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	bySession, err := store.FindBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if len(bySession) != 1 || bySession[0].ID != job.ID {
		t.Fatalf("unexpected session lookup: %#v", bySession)
	}
}

func TestJSONRoundTripColumns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)

	ctx := context.Background()
	job := testsupport.EnqueueJob(t, q, "/tmp/a.jpg")

	job.Extracted = &queue.Extraction{CardName: "Pikachu", HPValue: 60, SetName: "Jungle"}
	job.TopCandidates = []queue.Candidate{
		{CMCardID: "JUNGLE-060-base", CardName: "Pikachu", Confidence: 0.9},
	}
	job.Timings = queue.Timings{"infer": 812}
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Extracted == nil || fetched.Extracted.CardName != "Pikachu" || fetched.Extracted.HPValue != 60 {
		t.Fatalf("extraction did not round-trip: %#v", fetched.Extracted)
	}
	if len(fetched.TopCandidates) != 1 || fetched.TopCandidates[0].CMCardID != "JUNGLE-060-base" {
		t.Fatalf("candidates did not round-trip: %#v", fetched.TopCandidates)
	}
	if fetched.Timings["infer"] != 812 {
		t.Fatalf("timings did not round-trip: %#v", fetched.Timings)
	}
}

func TestClaimNextLeasesOldestEligible(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)

	ctx := context.Background()
	first := testsupport.EnqueueJob(t, q, "/tmp/first.jpg")
	testsupport.EnqueueJob(t, q, "/tmp/second.jpg")

	claimed, err := store.ClaimNext(ctx, "proc-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job, got %#v", claimed)
	}
	if claimed.ProcessorID != "proc-1" || claimed.LockedAt == nil {
		t.Fatalf("expected lease fields set: %#v", claimed)
	}
}

func TestClaimNextSkipsLiveLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)

	ctx := context.Background()
	job := testsupport.EnqueueJob(t, q, "/tmp/a.jpg")

	if _, err := store.ClaimNext(ctx, "proc-1", time.Minute); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	second, err := store.ClaimNext(ctx, "proc-2", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatalf("expected no claimable job while lease is live, got %s", second.ID)
	}

	// Expired leases are reclaimable by any worker.
	reclaimed, err := store.ClaimNext(ctx, "proc-2", time.Nanosecond)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != job.ID || reclaimed.ProcessorID != "proc-2" {
		t.Fatalf("expected proc-2 to reclaim expired lease, got %#v", reclaimed)
	}
	if reclaimed.ReclaimedFrom != "proc-1" {
		t.Fatalf("ReclaimedFrom = %q, want proc-1", reclaimed.ReclaimedFrom)
	}
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)

	ctx := context.Background()
	const jobCount = 8
	for i := 0; i < jobCount; i++ {
		testsupport.EnqueueJob(t, q, fmt.Sprintf("/tmp/capture-%d.jpg", i))
	}

	const workers = 16
	var wg sync.WaitGroup
	claims := make(chan string, workers*jobCount)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			processorID := fmt.Sprintf("proc-%d", worker)
			for {
				job, err := store.ClaimNext(ctx, processorID, time.Minute)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if job == nil {
					return
				}
				claims <- job.ID
			}
		}(w)
	}
	wg.Wait()
	close(claims)

	seen := make(map[string]int)
	for id := range claims {
		seen[id]++
	}
	if len(seen) != jobCount {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), jobCount)
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
}

func TestReleaseLeaseMakesJobClaimable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)

	ctx := context.Background()
	job := testsupport.EnqueueJob(t, q, "/tmp/a.jpg")

	if _, err := store.ClaimNext(ctx, "proc-1", time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.ReleaseLease(ctx, job.ID); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}

	reclaimed, err := store.ClaimNext(ctx, "proc-2", time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != job.ID {
		t.Fatalf("expected released job to be claimable, got %#v", reclaimed)
	}
	if reclaimed.Status != queue.StatusQueued {
		t.Fatalf("release must not change status, got %s", reclaimed.Status)
	}
}

func TestDepthAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		testsupport.EnqueueJob(t, q, fmt.Sprintf("/tmp/%d.jpg", i))
	}
	job := testsupport.EnqueueJob(t, q, "/tmp/failed.jpg")
	if _, err := q.MarkError(ctx, job.ID, "E_TEST", "boom"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	depth, err := store.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("depth = %d, want 3", depth)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusQueued] != 3 || stats[queue.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}
