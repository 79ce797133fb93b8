package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cardmint/internal/catalog"
	"cardmint/internal/config"
	"cardmint/internal/metrics"
	"cardmint/internal/queue"
	"cardmint/internal/services/imaging"
	"cardmint/internal/services/inference"
	"cardmint/internal/services/rerank"
	"cardmint/internal/shadowlane"
	"cardmint/internal/testsupport"
)

type fakeNotifier struct {
	mu              sync.Mutex
	operatorPending int
	unmatched       int
	accepted        int
	errors          int
}

func (f *fakeNotifier) NotifyOperatorPending(ctx context.Context, cardName string, confidence float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operatorPending++
	return nil
}

func (f *fakeNotifier) NotifyUnmatched(ctx context.Context, cardName string, confidence float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmatched++
	return nil
}

func (f *fakeNotifier) NotifyAccepted(ctx context.Context, cardName, listingSKU string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted++
	return nil
}

func (f *fakeNotifier) NotifyError(ctx context.Context, err error, contextLabel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors++
	return nil
}

func (f *fakeNotifier) TestNotification(ctx context.Context) error { return nil }

func (f *fakeNotifier) counts() (operatorPending, unmatched, errs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.operatorPending, f.unmatched, f.errors
}

// chatHandler answers OpenAI-style chat completions with fixed content.
func chatHandler(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode chat response: %v", err)
		}
	}
}

func pikachuExtraction() string {
	return `{"card_name":"Pikachu","hp_value":60,"collector_number":"60/64"}`
}

type workerFixture struct {
	cfg      *config.Config
	queue    *queue.Queue
	store    *queue.Store
	catalog  *catalog.Store
	notifier *fakeNotifier
	worker   *Worker
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *workerFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	q, _ := testsupport.NewQueue(t, store)
	cat, err := catalog.New(store.DB())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	f := &workerFixture{
		cfg:      cfg,
		queue:    q,
		store:    store,
		catalog:  cat,
		notifier: &fakeNotifier{},
	}
	f.worker = New(cfg, f.deps(cfg))
	return f
}

func (f *workerFixture) deps(cfg *config.Config) Deps {
	deps := Deps{
		Queue:    f.queue,
		Catalog:  f.catalog,
		Notifier: f.notifier,
		Metrics:  metrics.NewRegistry(),
	}
	if cfg.Inference.PrimaryBaseURL != "" {
		deps.Primary = inference.NewPrimary(inference.PrimaryConfig{
			APIKey:  cfg.Inference.PrimaryAPIKey,
			BaseURL: cfg.Inference.PrimaryBaseURL,
			Model:   "test-model",
		}, inference.WithPrimarySleeper(func(time.Duration) {}))
	}
	if cfg.Inference.FallbackBaseURL != "" {
		deps.Fallback = inference.NewFallback(inference.FallbackConfig{
			BaseURL: cfg.Inference.FallbackBaseURL,
			Model:   "local-model",
		})
	}
	return deps
}

func (f *workerFixture) seedPikachu(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.catalog.UpsertSet(ctx, catalog.Set{CMSetID: "JU", SetName: "Jungle"}); err != nil {
		t.Fatalf("UpsertSet: %v", err)
	}
	card := catalog.Card{
		CMCardID:    catalog.CardID("JU", 60, "base"),
		CMSetID:     "JU",
		CollectorNo: 60,
		CardName:    "Pikachu",
		HPValue:     60,
		CardType:    "Lightning",
	}
	if err := f.catalog.UpsertCard(ctx, card); err != nil {
		t.Fatalf("UpsertCard: %v", err)
	}
}

func (f *workerFixture) enqueue(t *testing.T) *queue.ScanJob {
	t.Helper()
	image := testsupport.WriteImage(t, "", "scan.jpg", []byte("front-capture-bytes"))
	return testsupport.EnqueueJob(t, f.queue, image)
}

func TestProcessNextReportsIdleQueue(t *testing.T) {
	f := newFixture(t)

	worked, err := f.worker.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if worked {
		t.Fatal("expected no work on an empty queue")
	}
}

func TestPipelineRoutesHighConfidenceToOperatorPending(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL))
	f.seedPikachu(t)
	job := f.enqueue(t)

	worked, err := f.worker.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !worked {
		t.Fatal("expected a job to be processed")
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusOperatorPending {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusOperatorPending)
	}
	if got.InferencePath != inference.PathB {
		t.Fatalf("inference path = %q, want %q", got.InferencePath, inference.PathB)
	}
	if len(got.TopCandidates) == 0 {
		t.Fatal("expected candidates attached")
	}
	if got.TopCandidates[0].Confidence < 1.0 {
		t.Fatalf("best confidence = %v, want exact match 1.0", got.TopCandidates[0].Confidence)
	}
	if got.Extracted == nil || got.Extracted.CardName != "Pikachu" {
		t.Fatalf("extracted = %+v, want Pikachu", got.Extracted)
	}
	if _, ok := got.Timings[timingInference]; !ok {
		t.Fatal("expected inference timing recorded")
	}
	operatorPending, unmatched, _ := f.notifier.counts()
	if operatorPending != 1 || unmatched != 0 {
		t.Fatalf("notifications = (%d operator, %d unmatched), want (1, 0)", operatorPending, unmatched)
	}
}

func TestPrimaryProviderPreferredWhenConfigured(t *testing.T) {
	primary := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer primary.Close()

	f := newFixture(t, testsupport.WithPrimaryInference(primary.URL))
	f.seedPikachu(t)
	job := f.enqueue(t)

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.InferencePath != inference.PathA {
		t.Fatalf("inference path = %q, want %q", got.InferencePath, inference.PathA)
	}
	if n := f.worker.deps.Metrics.Counter(metrics.InferencePrimary).Load(); n != 1 {
		t.Fatalf("primary inference counter = %d, want 1", n)
	}
}

func TestPrimaryFailureDowngradesToFallback(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer fallback.Close()

	f := newFixture(t,
		testsupport.WithPrimaryInference(primary.URL),
		testsupport.WithFallbackInference(fallback.URL))
	f.seedPikachu(t)
	job := f.enqueue(t)

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusOperatorPending {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusOperatorPending)
	}
	if got.InferencePath != inference.PathB {
		t.Fatalf("inference path = %q, want %q", got.InferencePath, inference.PathB)
	}
	if n := f.worker.deps.Metrics.Counter(metrics.InferenceFallback).Load(); n != 1 {
		t.Fatalf("fallback inference counter = %d, want 1", n)
	}
}

func TestEmptyCatalogRoutesToUnmatchedWithSyntheticCandidate(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL))
	job := f.enqueue(t)

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusUnmatched {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusUnmatched)
	}
	if got.PPTFailureCount != 1 {
		t.Fatalf("ppt failure count = %d, want 1", got.PPTFailureCount)
	}
	if len(got.TopCandidates) != 1 {
		t.Fatalf("candidates = %d, want exactly one synthetic fallback", len(got.TopCandidates))
	}
	cand := got.TopCandidates[0]
	if cand.Source != "fallback" {
		t.Fatalf("candidate source = %q, want fallback", cand.Source)
	}
	if cand.Confidence != fallbackCandidateConfidence {
		t.Fatalf("candidate confidence = %v, want %v", cand.Confidence, fallbackCandidateConfidence)
	}
	_, unmatched, _ := f.notifier.counts()
	if unmatched != 1 {
		t.Fatalf("unmatched notifications = %d, want 1", unmatched)
	}
}

func TestTransientInferenceFailureRequeuesJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL), testsupport.WithMaxRetries(3))
	job := f.enqueue(t)

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusQueued {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusQueued)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ProcessorID != "" {
		t.Fatalf("lease not released, processor = %q", got.ProcessorID)
	}
}

func TestRetryBudgetExhaustionFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL), testsupport.WithMaxRetries(1))
	job := f.enqueue(t)

	// First pass consumes the single retry, second pass exhausts the budget.
	for i := 0; i < 2; i++ {
		if _, err := f.worker.ProcessNext(context.Background()); err != nil {
			t.Fatalf("ProcessNext pass %d: %v", i+1, err)
		}
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusFailed)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ErrorCode == "" || got.ErrorMessage == "" {
		t.Fatalf("expected error code and message persisted, got %q / %q", got.ErrorCode, got.ErrorMessage)
	}
	_, _, errs := f.notifier.counts()
	if errs != 1 {
		t.Fatalf("error notifications = %d, want 1", errs)
	}
}

func TestNonTransientInferenceFailureFailsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL), testsupport.WithMaxRetries(3))
	job := f.enqueue(t)

	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusFailed)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0 for non-transient failure", got.RetryCount)
	}
}

func TestBackSideReclassificationWithholdsCandidates(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL))
	f.seedPikachu(t)
	job := f.enqueue(t)
	ctx := context.Background()

	claimed, err := f.queue.ClaimNextPending(ctx, f.worker.ProcessorID(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextPending: job=%v err=%v", claimed, err)
	}

	// A back-capture resolution lands while the pipeline is mid-flight.
	fresh, err := f.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("store GetByID: %v", err)
	}
	fresh.ScanOrientation = queue.OrientationBack
	if err := f.store.Update(ctx, fresh); err != nil {
		t.Fatalf("store Update: %v", err)
	}

	if err := f.worker.processJob(ctx, claimed); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	got, err := f.queue.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusBackImage {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusBackImage)
	}
	if len(got.TopCandidates) != 0 {
		t.Fatalf("candidates = %d, want none withheld for back captures", len(got.TopCandidates))
	}
	operatorPending, unmatched, _ := f.notifier.counts()
	if operatorPending != 0 || unmatched != 0 {
		t.Fatal("back captures must not trigger routing notifications")
	}
}

func TestImagingStagesChainAndPersistPaths(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL))
	f.seedPikachu(t)

	dir := t.TempDir()
	correctedPath := testsupport.WriteImage(t, dir, "corrected.jpg", []byte("corrected"))
	masterPath := testsupport.WriteImage(t, dir, "master.png", []byte("master"))
	processedPath := testsupport.WriteImage(t, dir, "processed.jpg", []byte("processed"))

	stageOutput := func(path string, elapsed int) string {
		return fmt.Sprintf(`{"success":true,"outputPath":%q,"processingTimeMs":%d}`, path, elapsed)
	}
	distortionCmd := testsupport.WriteStubBinary(t, dir, "distort", stageOutput(correctedPath, 120), 0)
	masterCmd := testsupport.WriteStubBinary(t, dir, "mastercrop", stageOutput(masterPath, 340), 0)
	compressCmd := testsupport.WriteStubBinary(t, dir, "compress", stageOutput(processedPath, 45), 0)

	f.worker.deps.Distortion = imaging.NewStage("distortion", distortionCmd, dir, 10*time.Second)
	f.worker.deps.MasterCrop = imaging.NewStage("master_crop", masterCmd, dir, 10*time.Second)
	f.worker.deps.Compress = imaging.NewStage("compress", compressCmd, dir, 10*time.Second)

	job := f.enqueue(t)
	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CorrectedImagePath != correctedPath {
		t.Fatalf("corrected path = %q, want %q", got.CorrectedImagePath, correctedPath)
	}
	if got.MasterImagePath != masterPath {
		t.Fatalf("master path = %q, want %q", got.MasterImagePath, masterPath)
	}
	if got.ProcessedImagePath != processedPath {
		t.Fatalf("processed path = %q, want %q", got.ProcessedImagePath, processedPath)
	}
	if got.Timings[timingDistortion] != 120 || got.Timings[timingMasterCrop] != 340 || got.Timings[timingCompress] != 45 {
		t.Fatalf("stage timings = %v", got.Timings)
	}
	if got.Status != queue.StatusOperatorPending {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusOperatorPending)
	}
}

func TestImagingStageFailureDegradesAndContinues(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL))
	f.seedPikachu(t)
	dir := t.TempDir()
	failCmd := testsupport.WriteStubBinary(t, dir, "distort",
		`{"success":false,"error":"glare detection failed"}`, 0)
	f.worker.deps.Distortion = imaging.NewStage("distortion", failCmd, dir, 10*time.Second)

	job := f.enqueue(t)
	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	// The stage failure is logged and skipped; inference runs on the raw
	// capture and the job still reaches operator review.
	got, err := f.queue.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusOperatorPending {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusOperatorPending)
	}
	if got.ErrorCode != "" || got.ErrorMessage != "" {
		t.Fatalf("degraded stage must not record a job error, got %q %q", got.ErrorCode, got.ErrorMessage)
	}
	if got.CorrectedImagePath != "" {
		t.Fatalf("corrected path = %q, want empty after failed distortion", got.CorrectedImagePath)
	}
	if _, ok := got.Timings[timingDistortion]; ok {
		t.Fatalf("failed stage must not record a timing, got %v", got.Timings)
	}
}

func TestRerankHighBandOverwritesSetAttribute(t *testing.T) {
	// Two prints share a name; the extraction names no set.
	extraction := `{"card_name":"Pikachu","hp_value":60}`
	primary := httptest.NewServer(chatHandler(t, extraction))
	defer primary.Close()
	rerankSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"set_name": "Jungle", "confidence": 0.92})
	}))
	defer rerankSrv.Close()

	f := newFixture(t, testsupport.WithPrimaryInference(primary.URL))
	f.worker.deps.Reranker = rerank.New(rerank.Config{Enabled: true, BaseURL: rerankSrv.URL})

	ctx := context.Background()
	f.seedPikachu(t)
	if err := f.catalog.UpsertSet(ctx, catalog.Set{CMSetID: "BS", SetName: "Base Set"}); err != nil {
		t.Fatalf("UpsertSet: %v", err)
	}
	other := catalog.Card{
		CMCardID:    catalog.CardID("BS", 58, "base"),
		CMSetID:     "BS",
		CollectorNo: 58,
		CardName:    "Pikachu",
		HPValue:     40,
	}
	if err := f.catalog.UpsertCard(ctx, other); err != nil {
		t.Fatalf("UpsertCard: %v", err)
	}

	job := f.enqueue(t)
	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	got, err := f.queue.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Extracted == nil || got.Extracted.SetName != "Jungle" {
		t.Fatalf("extracted set = %+v, want Jungle overwrite", got.Extracted)
	}
	if got.RerankNote == "" {
		t.Fatal("expected rerank note persisted")
	}
	// The set filter must exclude the Base Set print entirely.
	for _, cand := range got.TopCandidates {
		if cand.SetName != "Jungle" {
			t.Fatalf("candidate from %q leaked past set filter", cand.SetName)
		}
	}
	if n := f.worker.deps.Metrics.Counter(metrics.RerankOverwrites).Load(); n != 1 {
		t.Fatalf("rerank overwrite counter = %d, want 1", n)
	}
}

func TestRerankSkippedOnFallbackPath(t *testing.T) {
	extraction := `{"card_name":"Pikachu","hp_value":60}`
	fallback := httptest.NewServer(chatHandler(t, extraction))
	defer fallback.Close()
	rerankCalls := 0
	rerankSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rerankCalls++
		json.NewEncoder(w).Encode(map[string]any{"set_name": "Jungle", "confidence": 0.92})
	}))
	defer rerankSrv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(fallback.URL))
	f.worker.deps.Reranker = rerank.New(rerank.Config{Enabled: true, BaseURL: rerankSrv.URL})
	f.seedPikachu(t)

	f.enqueue(t)
	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if rerankCalls != 0 {
		t.Fatalf("rerank calls = %d, fallback-path extractions must skip rerank", rerankCalls)
	}
}

func TestShadowLaneSamplesCompletedJobs(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, pikachuExtraction()))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL))
	f.seedPikachu(t)
	f.cfg.ShadowLane.Enabled = true
	f.cfg.ShadowLane.SampleRate = 0.5
	f.cfg.ShadowLane.AutoPauseDepth = 12
	f.cfg.ShadowLane.AutoResumeDepth = 6
	f.worker.deps.ShadowLane = shadowlane.New(f.cfg.ShadowLane, nil, nil,
		shadowlane.WithRandFunc(func() float64 { return 0.0 }))

	f.enqueue(t)
	if _, err := f.worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	if n := f.worker.deps.Metrics.Counter(metrics.ShadowSampled).Load(); n != 1 {
		t.Fatalf("shadow sampled counter = %d, want 1", n)
	}
	if g := f.worker.deps.Metrics.Gauge(metrics.ShadowGateEnabled).Load(); g != 1 {
		t.Fatalf("shadow gate gauge = %d, want 1", g)
	}
}

func TestKeepwarmFiresOnceAfterIdleWindow(t *testing.T) {
	warmups := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		warmups++
		chatHandler(t, "ready")(w, r)
	}))
	defer srv.Close()

	f := newFixture(t, testsupport.WithFallbackInference(srv.URL))
	f.cfg.Workflow.IdleKeepwarmSeconds = 30

	now := time.Now()
	f.worker.now = func() time.Time { return now }
	f.worker.idleAt = now

	ctx := context.Background()
	f.worker.maybeKeepwarm(ctx)
	if warmups != 0 {
		t.Fatalf("warmups = %d before the idle window elapsed", warmups)
	}

	now = now.Add(31 * time.Second)
	f.worker.maybeKeepwarm(ctx)
	if warmups != 1 {
		t.Fatalf("warmups = %d, want 1 after the idle window", warmups)
	}

	// Staying idle must not re-probe until work resets the window.
	now = now.Add(time.Second)
	f.worker.maybeKeepwarm(ctx)
	if warmups != 1 {
		t.Fatalf("warmups = %d, want still 1", warmups)
	}
	if n := f.worker.deps.Metrics.Counter(metrics.KeepwarmProbes).Load(); n != 1 {
		t.Fatalf("keepwarm counter = %d, want 1", n)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workflow.QueuePollInterval = 1

	ctx := context.Background()
	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.worker.Start(ctx); err == nil {
		t.Fatal("second Start must fail while running")
	}
	f.worker.Stop()
	// Stop is idempotent.
	f.worker.Stop()

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.worker.Stop()
}
