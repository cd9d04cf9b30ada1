package geometry

import (
	"container/list"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/notargets/amrcomm/utils"
)

type CacheStats struct {
	Builds, Hits, Misses, Evictions int
	Size, Bytes                     int
}

type cacheEntry struct {
	key   PlanKey
	plan  *Plan
	ready chan struct{}
	elem  *list.Element
}

// PatternCache keeps built plans keyed by PlanKey. The first caller missing
// a key builds the plan; concurrent callers for the same key wait for it.
// Past Capacity the least recently used plan is evicted.
type PatternCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[PlanKey]*cacheEntry
	lru      *list.List // completed entries, most recently used first
	stats    CacheStats

	registry  *prometheus.Registry
	hits      prometheus.Counter
	misses    prometheus.Counter
	builds    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
	bytes     prometheus.Gauge
	log       zerolog.Logger
}

func NewPatternCache(capacity int) (c *PatternCache) {
	if capacity < 1 {
		capacity = 1
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amrcomm",
			Subsystem: "pattern_cache",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amrcomm",
			Subsystem: "pattern_cache",
			Name:      name,
			Help:      help,
		})
	}
	c = &PatternCache{
		capacity:  capacity,
		entries:   make(map[PlanKey]*cacheEntry),
		lru:       list.New(),
		registry:  prometheus.NewRegistry(),
		hits:      counter("hits_total", "Plan lookups served from the cache."),
		misses:    counter("misses_total", "Plan lookups that had to build."),
		builds:    counter("builds_total", "Plans built."),
		evictions: counter("evictions_total", "Plans evicted past capacity."),
		size:      gauge("plans", "Plans currently cached."),
		bytes:     gauge("bytes", "Estimated memory held by cached plans."),
		log:       utils.Logger("pattern-cache"),
	}
	c.registry.MustRegister(c.hits, c.misses, c.builds, c.evictions, c.size, c.bytes)
	return
}

// Registry exposes the cache metrics for scraping.
func (c *PatternCache) Registry() *prometheus.Registry { return c.registry }

func (c *PatternCache) Capacity() int { return c.capacity }

func (c *PatternCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Get returns the plan for key, calling build on a miss. hit reports whether
// the plan already existed or was being built by another caller.
func (c *PatternCache) Get(key PlanKey, build func() *Plan) (p *Plan, hit bool) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			e = &cacheEntry{key: key, ready: make(chan struct{})}
			c.entries[key] = e
			c.stats.Misses++
			c.misses.Inc()
			c.mu.Unlock()
			return c.fill(e, build), false
		}
		c.mu.Unlock()
		<-e.ready
		c.mu.Lock()
		if e.plan == nil { // the builder failed; try again
			c.mu.Unlock()
			continue
		}
		if e.elem != nil {
			c.lru.MoveToFront(e.elem)
		}
		c.stats.Hits++
		c.hits.Inc()
		c.mu.Unlock()
		return e.plan, true
	}
}

func (c *PatternCache) fill(e *cacheEntry, build func() *Plan) *Plan {
	defer func() {
		if p := recover(); p != nil {
			c.mu.Lock()
			if c.entries[e.key] == e {
				delete(c.entries, e.key)
			}
			c.mu.Unlock()
			close(e.ready)
			panic(p)
		}
	}()
	plan := build()
	c.mu.Lock()
	e.plan = plan
	c.stats.Builds++
	c.builds.Inc()
	if c.entries[e.key] == e { // not flushed while building
		e.elem = c.lru.PushFront(e)
		c.stats.Bytes += plan.Bytes()
		for c.lru.Len() > c.capacity {
			c.evict(c.lru.Back())
		}
	}
	c.updateGauges()
	c.mu.Unlock()
	close(e.ready)
	c.log.Debug().Str("kind", e.key.Kind.String()).Int("rank", e.key.Rank).
		Int("tags", plan.NumTags()).Msg("plan built")
	return plan
}

// evict removes a completed entry; c.mu must be held.
func (c *PatternCache) evict(el *list.Element) {
	e := c.lru.Remove(el).(*cacheEntry)
	e.elem = nil
	delete(c.entries, e.key)
	c.stats.Bytes -= e.plan.Bytes()
	c.stats.Evictions++
	c.evictions.Inc()
	c.log.Debug().Str("kind", e.key.Kind.String()).Int("rank", e.key.Rank).Msg("plan evicted")
}

func (c *PatternCache) updateGauges() {
	c.stats.Size = c.lru.Len()
	c.size.Set(float64(c.stats.Size))
	c.bytes.Set(float64(c.stats.Bytes))
}

// Flush drops every cached plan. Plans in use stay valid.
func (c *PatternCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Front(); el != nil; el = el.Next() {
		el.Value.(*cacheEntry).elem = nil
	}
	c.lru.Init()
	c.entries = make(map[PlanKey]*cacheEntry)
	c.stats.Bytes = 0
	c.updateGauges()
}
