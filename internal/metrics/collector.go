package metrics

import (
	"time"

	"lazythumb/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the point-in-time values the collector publishes as gauges.
type Stats struct {
	DiskCacheBytes  int64
	MemoryEntries   int
	MemoryBytes     int64
	ManifestByState map[string]int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	ThumbnailCacheDiskBytes.Set(float64(stats.DiskCacheBytes))
	ThumbnailCacheMemoryEntries.Set(float64(stats.MemoryEntries))
	ThumbnailCacheMemoryBytes.Set(float64(stats.MemoryBytes))
	for state, n := range stats.ManifestByState {
		ManifestItems.WithLabelValues(state).Set(float64(n))
	}

	logging.Debug("Metrics collected: disk=%d bytes, memory=%d entries/%d bytes",
		stats.DiskCacheBytes, stats.MemoryEntries, stats.MemoryBytes)
}
