package inventory_test

import (
	"context"
	"strings"
	"testing"

	"cardmint/internal/catalog"
	"cardmint/internal/inventory"
	"cardmint/internal/queue"
	"cardmint/internal/testsupport"
)

type fixture struct {
	engine  *inventory.Engine
	store   *inventory.Store
	catalog *catalog.Store
	imgDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queueStore := testsupport.MustOpenStore(t, cfg)

	catalogStore, err := catalog.New(queueStore.DB())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	store, err := inventory.NewStore(queueStore.DB())
	if err != nil {
		t.Fatalf("inventory.NewStore: %v", err)
	}

	ctx := context.Background()
	if err := catalogStore.UpsertSet(ctx, catalog.Set{CMSetID: "JUNGLE", SetName: "Jungle"}); err != nil {
		t.Fatalf("UpsertSet: %v", err)
	}
	if err := catalogStore.UpsertCard(ctx, catalog.Card{CMSetID: "JUNGLE", CollectorNo: 60, CardName: "Pikachu", HPValue: 50}); err != nil {
		t.Fatalf("UpsertCard: %v", err)
	}

	return &fixture{
		engine:  inventory.NewEngine(store, catalogStore, nil, nil),
		store:   store,
		catalog: catalogStore,
		imgDir:  t.TempDir(),
	}
}

func (f *fixture) mintRequest(t *testing.T, jobID, imageName string, content []byte, truth queue.TruthCore) queue.MintRequest {
	t.Helper()
	return queue.MintRequest{
		JobID:              jobID,
		ProcessedImagePath: testsupport.WriteImage(t, f.imgDir, imageName, content),
		Truth:              truth,
		Condition:          "NM",
	}
}

func TestMintCreatesProductItemScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	truth := queue.TruthCore{CardName: "Pikachu", HPValue: 50, CollectorNumber: "60"}
	result, err := f.engine.MintOrAttach(ctx, f.mintRequest(t, "job-1", "a.jpg", []byte("front"), truth))
	if err != nil {
		t.Fatalf("MintOrAttach: %v", err)
	}
	if result.Action != "mint" || result.FingerprintCollision {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result.CMCardID != "JUNGLE-060-base" || result.CanonicalConfidence != 1.0 {
		t.Fatalf("canonicalization wrong: %#v", result)
	}
	if !strings.HasPrefix(result.ProductSKU, "JUNGLE-060-base-EN-") {
		t.Fatalf("product sku %q missing canonical prefix", result.ProductSKU)
	}
	if !strings.HasSuffix(result.ListingSKU, "-NM") || !strings.HasPrefix(result.ListingSKU, result.ProductSKU) {
		t.Fatalf("listing sku %q not product+condition", result.ListingSKU)
	}

	item, err := f.store.GetItem(ctx, result.ItemUID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item == nil || item.Quantity != 1 || item.AcquisitionSource != "scan" {
		t.Fatalf("unexpected item: %#v", item)
	}
	scan, err := f.store.GetScanByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetScanByJob: %v", err)
	}
	if scan == nil || scan.ItemUID != result.ItemUID {
		t.Fatalf("unexpected scan: %#v", scan)
	}
}

func TestResubmissionAttachesInsteadOfMinting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	truth := queue.TruthCore{CardName: "Pikachu", HPValue: 50, CollectorNumber: "60"}
	first, err := f.engine.MintOrAttach(ctx, f.mintRequest(t, "job-1", "a.jpg", []byte("same bytes"), truth))
	if err != nil {
		t.Fatalf("first MintOrAttach: %v", err)
	}
	second, err := f.engine.MintOrAttach(ctx, f.mintRequest(t, "job-2", "b.jpg", []byte("same bytes"), truth))
	if err != nil {
		t.Fatalf("second MintOrAttach: %v", err)
	}

	if second.Action != "attach" || !second.FingerprintCollision {
		t.Fatalf("expected attach, got %#v", second)
	}
	if second.ItemUID != first.ItemUID || second.ProductSKU != first.ProductSKU {
		t.Fatalf("attach must reuse existing inventory: %#v vs %#v", first, second)
	}

	products, items, scans, err := f.store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if products != 1 || items != 1 {
		t.Fatalf("resubmission minted duplicates: products=%d items=%d", products, items)
	}
	if scans != 2 {
		t.Fatalf("both submissions should be recorded: scans=%d", scans)
	}
}

func TestDistinctPhotosOfSamePrintNeverPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	truth := queue.TruthCore{CardName: "Pikachu", HPValue: 50, CollectorNumber: "60"}
	first, err := f.engine.MintOrAttach(ctx, f.mintRequest(t, "job-1", "a.jpg", []byte("copy one"), truth))
	if err != nil {
		t.Fatalf("first MintOrAttach: %v", err)
	}
	second, err := f.engine.MintOrAttach(ctx, f.mintRequest(t, "job-2", "b.jpg", []byte("copy two"), truth))
	if err != nil {
		t.Fatalf("second MintOrAttach: %v", err)
	}

	if second.Action != "mint" {
		t.Fatalf("distinct photo must mint, got %#v", second)
	}
	if second.ProductSKU == first.ProductSKU || second.ItemUID == first.ItemUID {
		t.Fatal("two physical cards of the same print collided on sku or item")
	}
	if second.CMCardID != first.CMCardID {
		t.Fatal("same print should share the canonical id")
	}
}

func TestCanonicalizationConfidenceLadder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		truth      queue.TruthCore
		confidence float64
	}{
		{queue.TruthCore{CardName: "Pikachu"}, 0.7},
		{queue.TruthCore{CardName: "Pikachu", CollectorNumber: "60"}, 0.8},
		{queue.TruthCore{CardName: "Pikachu", HPValue: 50}, 0.9},
		{queue.TruthCore{CardName: "Pikachu", HPValue: 50, CollectorNumber: "60"}, 1.0},
	}
	for i, tc := range cases {
		content := []byte{byte(i), 'x'}
		result, err := f.engine.MintOrAttach(ctx, f.mintRequest(t, "job-"+string(rune('a'+i)), "img-"+string(rune('a'+i))+".jpg", content, tc.truth))
		if err != nil {
			t.Fatalf("MintOrAttach case %d: %v", i, err)
		}
		if result.CanonicalConfidence != tc.confidence {
			t.Errorf("case %d confidence = %v, want %v", i, result.CanonicalConfidence, tc.confidence)
		}
	}
}

func TestUnknownCardStillMints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	truth := queue.TruthCore{CardName: "Totally Custom Card", CollectorNumber: "999"}
	result, err := f.engine.MintOrAttach(ctx, f.mintRequest(t, "job-1", "a.jpg", []byte("mystery"), truth))
	if err != nil {
		t.Fatalf("MintOrAttach: %v", err)
	}
	if result.Action != "mint" || result.CanonicalConfidence != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if !strings.HasPrefix(result.CMCardID, "UNKNOWN_") {
		t.Fatalf("expected synthetic id, got %q", result.CMCardID)
	}

	product, err := f.store.GetProduct(ctx, result.ProductSKU)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if product == nil || !product.NeedsReconciliation {
		t.Fatalf("unknown mint must flag reconciliation: %#v", product)
	}
	if product.CanonicalSKU != result.CMCardID {
		t.Fatalf("synthetic canonical sku mismatch: %#v", product)
	}
}

func TestMintFailsWithoutCardName(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.MintOrAttach(context.Background(), f.mintRequest(t, "job-1", "a.jpg", []byte("x"), queue.TruthCore{}))
	if err == nil {
		t.Fatal("expected error for empty truth core")
	}
}

func TestMintFailsOnMissingImage(t *testing.T) {
	f := newFixture(t)
	req := queue.MintRequest{
		JobID:              "job-1",
		ProcessedImagePath: "/nonexistent/image.jpg",
		Truth:              queue.TruthCore{CardName: "Pikachu"},
	}
	if _, err := f.engine.MintOrAttach(context.Background(), req); err == nil {
		t.Fatal("expected fingerprint error for missing image")
	}
}
