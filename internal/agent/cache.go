package agent

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/mohammad-safakhou/researcher/internal/documents"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
)

// DefaultCacheCapacity is used when CacheOptions.Capacity is not positive.
const DefaultCacheCapacity = 32

// Factory builds the session for a document set. It is called with the cache
// lock held and must not call back into the cache.
type Factory func(key string, docs documents.Set) (*Session, error)

type CacheOptions struct {
	Capacity int
	// OnCreate runs after a session is added.
	OnCreate func(*Session)
	// OnEvict runs after a session leaves the cache through eviction,
	// invalidation or shutdown.
	OnEvict func(*Session)
	Metrics *telemetry.Metrics
}

// Cache keeps one session per distinct document set, bounded by capacity
// with least recently used eviction. It is safe for concurrent use.
type Cache struct {
	factory  Factory
	capacity int
	onCreate func(*Session)
	onEvict  func(*Session)
	metrics  *telemetry.Metrics

	mu     sync.Mutex
	order  *list.List // front is most recently used
	items  map[string]*list.Element
	closed bool
}

func NewCache(factory Factory, opts CacheOptions) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCacheCapacity
	}
	return &Cache{
		factory:  factory,
		capacity: opts.Capacity,
		onCreate: opts.OnCreate,
		onEvict:  opts.OnEvict,
		metrics:  opts.Metrics,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// CacheKey identifies a document set by content: the JSON encoding of its
// name-ordered [name, sha256 of searchable text] pairs. Equal names with
// different contents give different keys.
func CacheKey(docs documents.Set) string {
	pairs := make([][2]string, 0, len(docs))
	for _, name := range docs.Names() {
		sum := sha256.Sum256([]byte(docs[name].Searchable()))
		pairs = append(pairs, [2]string{name, hex.EncodeToString(sum[:])})
	}
	b, _ := json.Marshal(pairs)
	return string(b)
}

// GetOrCreate returns the session for docs, building it on first use.
func (c *Cache) GetOrCreate(docs documents.Set) (*Session, error) {
	key := CacheKey(docs)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		s := el.Value.(*cacheEntry).session
		c.mu.Unlock()
		return s, nil
	}

	s, err := c.factory(key, docs)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, session: s})
	var evicted []*Session
	for c.order.Len() > c.capacity {
		evicted = append(evicted, c.removeLocked(c.order.Back()))
	}
	size := c.order.Len()
	c.mu.Unlock()

	c.metrics.CacheSize(size)
	if c.onCreate != nil {
		c.onCreate(s)
	}
	c.evicted(evicted)
	return s, nil
}

// Invalidate drops the session for docs, if cached. The next GetOrCreate for
// the same set builds a fresh session.
func (c *Cache) Invalidate(docs documents.Set) bool {
	key := CacheKey(docs)
	c.mu.Lock()
	el, ok := c.items[key]
	var s *Session
	if ok {
		s = c.removeLocked(el)
	}
	size := c.order.Len()
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.metrics.CacheSize(size)
	c.evicted([]*Session{s})
	return true
}

// Len reports the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Shutdown evicts every session; later GetOrCreate calls fail with
// ErrCacheClosed.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var evicted []*Session
	for c.order.Len() > 0 {
		evicted = append(evicted, c.removeLocked(c.order.Back()))
	}
	c.mu.Unlock()

	c.metrics.CacheSize(0)
	c.evicted(evicted)
}

type cacheEntry struct {
	key     string
	session *Session
}

func (c *Cache) removeLocked(el *list.Element) *Session {
	e := c.order.Remove(el).(*cacheEntry)
	delete(c.items, e.key)
	return e.session
}

func (c *Cache) evicted(sessions []*Session) {
	for _, s := range sessions {
		c.metrics.CacheEvicted()
		if c.onEvict != nil {
			c.onEvict(s)
		}
	}
}
