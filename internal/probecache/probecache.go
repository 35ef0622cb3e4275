// Package probecache caches container duration probes keyed by file path.
// Probing reopens and demuxes the whole header, so hosts that poll the
// buffer duration get the cached value as long as the file on disk is
// unchanged.
package probecache

import (
	"context"
	"os"
	"sync"
	"time"

	"replaytrim/internal/logger"
)

type entry struct {
	duration float64
	size     int64
	modTime  time.Time
}

// Cache is a thread-safe duration cache invalidated by file size and mtime.
type Cache struct {
	mutex  sync.RWMutex
	cache  map[string]entry
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty cache.
func New(log logger.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		cache:  make(map[string]entry),
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the background eviction worker.
func (c *Cache) Start() {
	go c.evictionWorker()
}

// Stop shuts down the eviction worker.
func (c *Cache) Stop() {
	c.cancel()
}

// Get returns the cached duration for path if the file is unchanged since it
// was probed.
func (c *Cache) Get(path string) (float64, bool) {
	c.mutex.RLock()
	e, found := c.cache[path]
	c.mutex.RUnlock()
	if !found {
		return 0, false
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() != e.size || !info.ModTime().Equal(e.modTime) {
		c.mutex.Lock()
		delete(c.cache, path)
		c.mutex.Unlock()
		return 0, false
	}
	return e.duration, true
}

// Set records a probed duration together with the file's current size and
// mtime.
func (c *Cache) Set(path string, duration float64) {
	info, err := os.Stat(path)
	if err != nil {
		// The file vanished between probe and cache; nothing to keep.
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[path] = entry{duration: duration, size: info.Size(), modTime: info.ModTime()}
	c.logger.Debugf("cached duration for %s: %.2fs", path, duration)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

func (c *Cache) evictionWorker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.runEviction()
		}
	}
}

// runEviction drops entries whose files disappeared or changed on disk.
func (c *Cache) runEviction() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	evicted := 0
	for path, e := range c.cache {
		info, err := os.Stat(path)
		if err != nil || info.Size() != e.size || !info.ModTime().Equal(e.modTime) {
			delete(c.cache, path)
			evicted++
		}
	}
	if evicted > 0 {
		c.logger.Infof("evicted %d stale probe entries, %d remain", evicted, len(c.cache))
	}
}
