package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// =============================================================================
// Mock StatsProvider
// =============================================================================

type mockStatsProvider struct {
	mu    sync.Mutex
	stats Stats
	calls int
}

func (m *mockStatsProvider) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// =============================================================================
// Collector Tests
// =============================================================================

func TestCollectorPublishesStats(t *testing.T) {
	provider := &mockStatsProvider{stats: Stats{
		DiskCacheBytes:  4096,
		MemoryEntries:   3,
		MemoryBytes:     1200,
		ManifestByState: map[string]int{"materializing": 2},
	}}

	c := NewCollector(provider, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(ThumbnailCacheDiskBytes); got != 4096 {
		t.Errorf("disk bytes gauge = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(ThumbnailCacheMemoryEntries); got != 3 {
		t.Errorf("memory entries gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(ThumbnailCacheMemoryBytes); got != 1200 {
		t.Errorf("memory bytes gauge = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(ManifestItems.WithLabelValues("materializing")); got != 2 {
		t.Errorf("manifest materializing gauge = %v, want 2", got)
	}
}

func TestCollectorNilProvider(t *testing.T) {
	c := NewCollector(nil, time.Hour)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("collect() with nil provider panicked: %v", r)
		}
	}()
	c.collect()
}

func TestCollectorStartStop(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, 10*time.Millisecond)
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	// Immediate collection plus at least one tick
	if n := provider.callCount(); n < 2 {
		t.Errorf("GetStats called %d times, want >= 2", n)
	}
}

func TestInitializeMetrics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("InitializeMetrics panicked: %v", r)
		}
	}()
	InitializeMetrics()

	if n := testutil.CollectAndCount(SubscriptionsActive); n < 3 {
		t.Errorf("SubscriptionsActive has %d series after init, want >= 3", n)
	}
}

// =============================================================================
// Observer Tests
// =============================================================================

func TestFilesystemObserverRecords(t *testing.T) {
	observer := NewFilesystemObserver()
	if observer == nil {
		t.Fatal("NewFilesystemObserver returned nil")
	}

	before := testutil.ToFloat64(FilesystemOperationErrors.WithLabelValues("cache", "stat"))
	observer.ObserveOperation("cache", "stat", 0.001, errors.New("boom"))
	observer.ObserveOperation("cache", "stat", 0.001, nil)
	after := testutil.ToFloat64(FilesystemOperationErrors.WithLabelValues("cache", "stat"))

	if after-before != 1 {
		t.Errorf("operation errors increased by %v, want 1", after-before)
	}

	staleBefore := testutil.ToFloat64(FilesystemStaleErrors.WithLabelValues("open", "root"))
	observer.ObserveStaleError("open", "root")
	observer.ObserveRetryAttempt("open", "root")
	observer.ObserveRetrySuccess("open", "root")
	observer.ObserveRetryFailure("open", "root")
	observer.ObserveRetryDuration("open", "root", 0.2)
	if got := testutil.ToFloat64(FilesystemStaleErrors.WithLabelValues("open", "root")); got-staleBefore != 1 {
		t.Errorf("stale errors increased by %v, want 1", got-staleBefore)
	}
}
