package cost

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordSpendAccumulates(t *testing.T) {
	svc := NewService(fixedClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)))

	svc.RecordSpend("tenant-1", "provider-a", "criminal", 2.5)
	svc.RecordSpend("tenant-1", "provider-b", "criminal", 1.5)
	svc.RecordSpend("tenant-1", "provider-a", "employment", 3.0)

	report := svc.Today("tenant-1")
	if report.Total != 7.0 {
		t.Fatalf("Total = %v, want 7.0", report.Total)
	}
	if report.ByProvider["provider-a"] != 5.5 {
		t.Fatalf("ByProvider[provider-a] = %v, want 5.5", report.ByProvider["provider-a"])
	}
	if report.ByCheckType["criminal"] != 4.0 {
		t.Fatalf("ByCheckType[criminal] = %v, want 4.0", report.ByCheckType["criminal"])
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	svc := NewService(fixedClock(time.Now()))
	svc.RecordSpend("tenant-1", "provider-a", "criminal", 10)
	svc.RecordSpend("tenant-2", "provider-a", "criminal", 1)

	if got := svc.Today("tenant-1").Total; got != 10 {
		t.Fatalf("tenant-1 total = %v, want 10", got)
	}
	if got := svc.Today("tenant-2").Total; got != 1 {
		t.Fatalf("tenant-2 total = %v, want 1", got)
	}
}

func TestDaysAreIsolated(t *testing.T) {
	day1 := time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 16, 1, 0, 0, 0, time.UTC)

	clock := day1
	svc := NewService(func() time.Time { return clock })
	svc.RecordSpend("tenant-1", "provider-a", "criminal", 10)

	clock = day2
	svc.RecordSpend("tenant-1", "provider-a", "criminal", 3)

	if got := svc.Today("tenant-1").Total; got != 3 {
		t.Fatalf("day2 total = %v, want 3 (isolated from day1)", got)
	}
}

func TestCacheSavingsAndHitRate(t *testing.T) {
	svc := NewService(fixedClock(time.Now()))
	svc.RecordCacheHit("tenant-1", 5.0)
	svc.RecordCacheHit("tenant-1", 2.0)
	svc.RecordCacheMiss("tenant-1")

	report := svc.Today("tenant-1")
	if report.CacheSavings != 7.0 {
		t.Fatalf("CacheSavings = %v, want 7.0", report.CacheSavings)
	}
	if report.CacheHits != 2 || report.CacheMisses != 1 {
		t.Fatalf("CacheHits/CacheMisses = %d/%d, want 2/1", report.CacheHits, report.CacheMisses)
	}
}

func TestBudgetThresholds(t *testing.T) {
	svc := NewService(fixedClock(time.Now()))
	soft := 5.0
	hard := 10.0
	svc.SetBudget("tenant-1", Budget{DailySoftWarning: &soft, HardCeiling: &hard})

	svc.RecordSpend("tenant-1", "provider-a", "criminal", 6.0)
	report := svc.Today("tenant-1")
	if !report.SoftWarning {
		t.Fatal("expected soft warning at 6.0 spend with 5.0 threshold")
	}
	if report.HardExceeded {
		t.Fatal("did not expect hard ceiling exceeded at 6.0 spend with 10.0 ceiling")
	}

	svc.RecordSpend("tenant-1", "provider-a", "criminal", 6.0)
	report = svc.Today("tenant-1")
	if !report.HardExceeded {
		t.Fatal("expected hard ceiling exceeded at 12.0 spend with 10.0 ceiling")
	}
}
