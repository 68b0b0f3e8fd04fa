// Package cache holds the process-local metrics counters served on the HTTP
// read path, and a Redis read-aside decorator for variant credential lookups.
package cache

import "sync"

// Counter kinds tracked per application.
const (
	KindTotal            = "total"
	KindReceivers        = "receivers"
	KindAppOpenedCounter = "appOpenedCounter"
)

// MetricsCache is a best-effort rolling counter map keyed by
// "<appID>:<kind>". It is written by the splitter and collector and read by
// the metrics endpoint. Not authoritative; it survives only until process
// restart.
type MetricsCache struct {
	mu       sync.RWMutex
	counters map[string]int64
}

func NewMetricsCache() *MetricsCache {
	return &MetricsCache{counters: make(map[string]int64)}
}

// RecordSubmission bumps the per-application message total.
func (c *MetricsCache) RecordSubmission(appID string) {
	c.add(appID, KindTotal, 1)
}

// AddReceivers accumulates delivered receiver counts for the application.
func (c *MetricsCache) AddReceivers(appID string, n int64) {
	c.add(appID, KindReceivers, n)
}

// IncrementAppOpened counts one notification-opened callback.
func (c *MetricsCache) IncrementAppOpened(appID string) {
	c.add(appID, KindAppOpenedCounter, 1)
}

// Get returns the counter value, zero when never written.
func (c *MetricsCache) Get(appID, kind string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[appID+":"+kind]
}

func (c *MetricsCache) add(appID, kind string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[appID+":"+kind] += n
}
