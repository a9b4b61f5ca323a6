package discovery

import (
	"context"
	"sync"
	"time"
)

// cacheEntry holds one service's cached instance list.
type cacheEntry struct {
	instances []*Instance
	expiresAt time.Time
}

// DiscoveryClient resolves service names to instances through a
// Backend, with an optional bounded-freshness cache and a background
// refresh loop (§4.4). Grounded on the gokit discovery Client's
// instanceCache (sync.RWMutex-guarded map, TTL-checked on read) and
// core/redis_discovery.go's filter/metrics idiom.
type DiscoveryClient struct {
	backend Backend
	config  DiscoveryClientConfig
	logger  Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	refreshTask *periodicTask
}

// NewDiscoveryClient constructs a DiscoveryClient. config is defaulted
// and validated before use.
func NewDiscoveryClient(backend Backend, config DiscoveryClientConfig, logger Logger) (*DiscoveryClient, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NoOpLogger{}
	}

	c := &DiscoveryClient{
		backend: backend,
		config:  config,
		logger:  logger,
		cache:   make(map[string]cacheEntry),
	}
	if config.RefreshInterval > 0 {
		c.refreshTask = startPeriodicTask(config.RefreshInterval, c.refreshAll)
	}
	return c, nil
}

// Discover returns every UP instance of name matching filter. A fresh
// cache entry is served without touching the backend; otherwise it
// fetches, filters to StatusUp, and repopulates the cache with the
// unfiltered set so subsequent calls with different filters still hit
// cache (P3: cache entries are per service name, not per filter).
func (c *DiscoveryClient) Discover(ctx context.Context, name string, filter Filter) ([]*Instance, error) {
	start := time.Now()
	all, err := c.instancesFor(ctx, name)
	if err != nil {
		return nil, err
	}
	up := OnlyUp(all)
	result := ApplyFilter(up, filter)

	if m := GetGlobalMetricsRegistry(); m != nil {
		m.Counter("discovery.lookups", "service", name)
		m.Gauge("discovery.services.found", float64(len(result)), "service", name)
		m.Histogram("discovery.lookup.duration_ms", float64(time.Since(start).Milliseconds()), "service", name)
	}
	return result, nil
}

// DiscoverOne returns exactly one UP instance of name, or
// (nil, false, nil) if none are available.
func (c *DiscoveryClient) DiscoverOne(ctx context.Context, name string, filter Filter, strategy Strategy, callerKey string) (*Instance, bool, error) {
	instances, err := c.Discover(ctx, name, filter)
	if err != nil {
		return nil, false, err
	}
	if len(instances) == 0 {
		return nil, false, nil
	}
	inst := strategy.Select(instances, callerKey)
	if inst == nil {
		return nil, false, nil
	}
	return inst, true, nil
}

// instancesFor serves the cache when enabled and fresh, otherwise
// fetches from the backend and refreshes the cache entry.
func (c *DiscoveryClient) instancesFor(ctx context.Context, name string) ([]*Instance, error) {
	if c.config.CacheEnabled {
		c.mu.RLock()
		entry, ok := c.cache[name]
		c.mu.RUnlock()
		if ok && time.Now().Before(entry.expiresAt) {
			return entry.instances, nil
		}
	}

	instances, err := c.backend.GetInstances(ctx, name, Filter{})
	if err != nil {
		// Enumeration errors are transient by contract (Backend); serve
		// the stale cache entry if we have one rather than failing the
		// caller outright.
		c.mu.RLock()
		entry, ok := c.cache[name]
		c.mu.RUnlock()
		if ok {
			c.logger.Warn("discovery refresh failed, serving stale cache", map[string]interface{}{
				"service": name,
				"error":   err.Error(),
			})
			return entry.instances, nil
		}
		return nil, err
	}

	if c.config.CacheEnabled {
		c.mu.Lock()
		c.cache[name] = cacheEntry{instances: instances, expiresAt: time.Now().Add(c.config.CacheTTL)}
		c.mu.Unlock()
	}
	return instances, nil
}

// refreshAll re-fetches every cached service name from the backend,
// run by the background refresh loop on RefreshInterval.
func (c *DiscoveryClient) refreshAll() {
	c.mu.RLock()
	names := make([]string, 0, len(c.cache))
	for name := range c.cache {
		names = append(names, name)
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, name := range names {
		instances, err := c.backend.GetInstances(ctx, name, Filter{})
		if err != nil {
			c.logger.Warn("background refresh failed", map[string]interface{}{
				"service": name,
				"error":   err.Error(),
			})
			continue
		}
		c.mu.Lock()
		c.cache[name] = cacheEntry{instances: instances, expiresAt: time.Now().Add(c.config.CacheTTL)}
		c.mu.Unlock()
	}
}

// Invalidate drops the cached entry for name, forcing the next
// Discover to hit the backend.
func (c *DiscoveryClient) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, name)
}

// InvalidateAll drops every cached entry, forcing the next Discover
// call for any service to hit the backend (§4.4: clearCache "drops
// one service or all").
func (c *DiscoveryClient) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

// Close stops the background refresh loop. Safe to call even when no
// RefreshInterval was configured.
func (c *DiscoveryClient) Close() error {
	if c.refreshTask != nil {
		c.refreshTask.stop()
	}
	return nil
}
