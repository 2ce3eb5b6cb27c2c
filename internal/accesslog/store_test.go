package accesslog

import (
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ai-gateway/internal/didauth"
	"ai-gateway/internal/pricing"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func newFinalizedRC(did string, picoUSD int64) *RequestContext {
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	rc := New("req-1", "tx-1", req)
	rc.DIDInfo = &didauth.Info{DID: did}
	rc.Provider = "openai"
	rc.Model = "gpt-4o"
	rc.StatusCode = 200
	rc.Usage = &pricing.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	rc.CostResult = &pricing.Result{CostUSD: 0.001, Source: "gateway-pricing", PricingVersion: "v1"}
	rc.BillingOut = picoUSD
	return rc
}

func TestStoreRecordAndRecent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	rc := newFinalizedRC("did:example:1", 1_000_000)
	if err := store.Record(rc); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := store.RecentRecords("did:example:1", 10)
	if err != nil {
		t.Fatalf("RecentRecords: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].DID != "did:example:1" || rows[0].BilledPicoUSD != 1_000_000 {
		t.Errorf("got %+v", rows[0])
	}
}

func TestStoreRollupDailyAccumulates(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	for i := 0; i < 3; i++ {
		if err := store.Record(newFinalizedRC("did:example:2", 500)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	var usage struct {
		TotalRequests int
		TotalPicoUSD  int64
	}
	if err := db.Table("daily_did_usages").
		Select("total_requests, total_pico_usd").
		Where("did = ?", "did:example:2").
		Scan(&usage).Error; err != nil {
		t.Fatalf("query rollup: %v", err)
	}
	if usage.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", usage.TotalRequests)
	}
	if usage.TotalPicoUSD != 1500 {
		t.Errorf("TotalPicoUSD = %d, want 1500", usage.TotalPicoUSD)
	}
}

func TestStoreBillingSummaryOrdersBySpendDescending(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	if err := store.Record(newFinalizedRC("did:low", 10)); err != nil {
		t.Fatal(err)
	}
	if err := store.Record(newFinalizedRC("did:high", 10_000)); err != nil {
		t.Fatal(err)
	}

	rows, err := store.BillingSummary(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("BillingSummary: %v", err)
	}
	if len(rows) != 2 || rows[0].DID != "did:high" {
		t.Errorf("expected did:high first, got %+v", rows)
	}
}

func TestStoreCleanupDeletesOldRows(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	if err := store.Record(newFinalizedRC("did:example:3", 1)); err != nil {
		t.Fatal(err)
	}

	n, err := store.Cleanup(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}

	rows, _ := store.RecentRecords("did:example:3", 10)
	if len(rows) != 0 {
		t.Error("expected the record to be gone after Cleanup")
	}
}
