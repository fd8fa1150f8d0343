package condition

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr/vm"
)

// DefaultCacheSize bounds the shared program cache.
const DefaultCacheSize = 1000

// Cache is a thread-safe LRU cache of compiled expr-lang programs.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	hits    int64
	misses  int64
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

// NewCache returns a Cache holding at most maxSize programs. Values below 1
// select DefaultCacheSize.
func NewCache(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		items:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the program stored under key and marks it most recently used.
func (c *Cache) Get(key string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).program, true
}

// Put stores program under key, evicting the least recently used entries
// beyond capacity.
func (c *Cache) Put(key string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).program = program
		return
	}
	c.items[key] = c.lru.PushFront(&cacheEntry{key: key, program: program})
	c.evict()
}

// Resize changes the capacity, evicting immediately if it shrank.
func (c *Cache) Resize(maxSize int) {
	if maxSize < 1 {
		maxSize = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	c.evict()
}

func (c *Cache) evict() {
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		delete(c.items, back.Value.(*cacheEntry).key)
		c.lru.Remove(back)
	}
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the size and hit counters.
func (c *Cache) Stats() (size int, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), c.hits, c.misses
}

func (c *Cache) String() string {
	size, hits, misses := c.Stats()
	return fmt.Sprintf("condition.Cache{size=%d, hits=%d, misses=%d}", size, hits, misses)
}
