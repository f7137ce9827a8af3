package sessioncache

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"
)

const (
	DefaultCapacity = 1000
	DefaultTTL      = time.Hour
)

// Observer receives cache events. observability.Metrics implements it.
type Observer interface {
	CacheLookup(hit bool)
	CacheEviction(reason string)
	CacheRemoteError(op string)
}

type entry struct {
	key      string
	rec      Record
	storedAt time.Time
}

// Cache is a bounded LRU store with a hard TTL. TTL counts from the last
// Set of a key and is independent of reads; LRU order only decides which
// entry goes when the cache is full.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration

	remote   Remote
	observer Observer
	now      func() time.Time
}

type Option func(*Cache)

// WithRemote enables the write-through mirror.
func WithRemote(r Remote) Option {
	return func(c *Cache) { c.remote = r }
}

func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(capacity int, ttl time.Duration, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the record for key. Expired entries are removed and reported
// absent. On a local miss the remote mirror is consulted and a hit is
// copied back into the local cache.
func (c *Cache) Get(ctx context.Context, key string) (Record, bool) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		if c.now().Sub(e.storedAt) > c.ttl {
			c.removeElement(el)
			c.mu.Unlock()
			c.observeEviction("ttl")
		} else {
			c.order.MoveToFront(el)
			rec := e.rec
			c.mu.Unlock()
			c.observeLookup(true)
			return rec, true
		}
	} else {
		c.mu.Unlock()
	}

	if c.remote == nil {
		c.observeLookup(false)
		return Record{}, false
	}

	rec, err := c.remote.Get(ctx, key)
	if err != nil {
		c.remoteFailed("get", key, err)
		c.observeLookup(false)
		return Record{}, false
	}
	if rec == nil {
		c.observeLookup(false)
		return Record{}, false
	}

	// The mirror's copy keeps the age it already has; it does not get a
	// fresh local TTL.
	now := c.now()
	storedAt := rec.UpdatedAt
	if storedAt.IsZero() || storedAt.After(now) {
		storedAt = now
	}
	if now.Sub(storedAt) > c.ttl {
		c.observeLookup(false)
		return Record{}, false
	}

	c.mu.Lock()
	evicted := c.insertLocked(key, *rec, storedAt)
	c.mu.Unlock()
	if evicted {
		c.observeEviction("capacity")
	}
	c.observeLookup(true)
	return *rec, true
}

// Set stores rec under key, evicting the least recently used entry if the
// cache is full, and writes through to the remote mirror.
func (c *Cache) Set(ctx context.Context, key string, rec Record) {
	c.mu.Lock()
	evicted := c.insertLocked(key, rec, c.now())
	c.mu.Unlock()
	if evicted {
		c.observeEviction("capacity")
	}

	if c.remote != nil {
		if err := c.remote.Set(ctx, key, rec, c.ttl); err != nil {
			c.remoteFailed("set", key, err)
		}
	}
}

// Remove deletes key locally and from the remote mirror.
func (c *Cache) Remove(ctx context.Context, key string) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Delete(ctx, key); err != nil {
			c.remoteFailed("delete", key, err)
		}
	}
}

// SweepExpired drops every expired entry and returns how many went.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	now := c.now()
	n := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.Sub(el.Value.(*entry).storedAt) > c.ttl {
			c.removeElement(el)
			n++
		}
		el = prev
	}
	c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.observeEviction("ttl")
	}
	return n
}

// RunJanitor sweeps expired entries every interval until ctx is done.
func (c *Cache) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				log.Printf("[sessioncache] swept expired=%d size=%d", n, c.Len())
			}
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

type Stats struct {
	Size          int     `json:"cache_size"`
	Capacity      int     `json:"cache_max"`
	TTLSeconds    float64 `json:"cache_ttl"`
	RemoteEnabled bool    `json:"redis_enabled"`
}

// Stats sweeps expired entries first so Size reflects live sessions.
func (c *Cache) Stats() Stats {
	c.SweepExpired()
	return Stats{
		Size:          c.Len(),
		Capacity:      c.capacity,
		TTLSeconds:    c.ttl.Seconds(),
		RemoteEnabled: c.remote != nil,
	}
}

// insertLocked reports whether an entry was evicted for capacity.
func (c *Cache) insertLocked(key string, rec Record, storedAt time.Time) bool {
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.rec = rec
		e.storedAt = storedAt
		c.order.MoveToFront(el)
		return false
	}

	evicted := false
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			evicted = true
		}
	}
	c.items[key] = c.order.PushFront(&entry{key: key, rec: rec, storedAt: storedAt})
	return evicted
}

func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

func (c *Cache) remoteFailed(op, key string, err error) {
	log.Printf("[sessioncache] WARN remote %s failed key=%s err=%v (%v), continuing local-only", op, key, err, ErrCacheUnavailable)
	if c.observer != nil {
		c.observer.CacheRemoteError(op)
	}
}

func (c *Cache) observeLookup(hit bool) {
	if c.observer != nil {
		c.observer.CacheLookup(hit)
	}
}

func (c *Cache) observeEviction(reason string) {
	if c.observer != nil {
		c.observer.CacheEviction(reason)
	}
}
