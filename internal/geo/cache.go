package geo

import (
	"container/list"
	"sync"
	"time"
)

// CacheEntry закэшированное значение высоты
type CacheEntry struct {
	Key       CellKey
	Value     float64
	Known     bool // false: источник вернул "неизвестно", это тоже кэшируется
	Timestamp time.Time
}

// CellKey ячейка плоской сетки, в которую квантуется запрос.
// Одинаковые N/E в разных зонах UTM это разные места на земле.
type CellKey struct {
	Zone UTM
	N    int64
	E    int64
}

// LRUCache потокобезопасный LRU кэш с опциональным TTL
type LRUCache struct {
	capacity  int
	ttl       time.Duration // 0 = без истечения
	items     map[CellKey]*list.Element
	evictList *list.List
	mu        sync.Mutex

	// Metrics
	hits   uint64
	misses uint64
}

// NewLRUCache creates a new LRU cache
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[CellKey]*list.Element),
		evictList: list.New(),
	}
}

// Get возвращает значение; found=false при промахе
func (c *LRUCache) Get(key CellKey) (value float64, known bool, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*CacheEntry)

		if c.ttl > 0 && time.Since(entry.Timestamp) > c.ttl {
			c.removeElement(elem)
			c.misses++
			return 0, false, false
		}

		c.evictList.MoveToFront(elem)
		c.hits++
		return entry.Value, entry.Known, true
	}

	c.misses++
	return 0, false, false
}

// Set adds or updates a value in the cache
func (c *LRUCache) Set(key CellKey, value float64, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.evictList.MoveToFront(elem)
		entry := elem.Value.(*CacheEntry)
		entry.Value = value
		entry.Known = known
		entry.Timestamp = time.Now()
		return
	}

	entry := &CacheEntry{
		Key:       key,
		Value:     value,
		Known:     known,
		Timestamp: time.Now(),
	}
	c.items[key] = c.evictList.PushFront(entry)

	if c.evictList.Len() > c.capacity {
		c.removeOldest()
	}
}

// Clear removes all entries from the cache
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[CellKey]*list.Element)
	c.evictList.Init()
}

// Size returns the number of items in the cache
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Stats returns cache statistics
func (c *LRUCache) Stats() (hits, misses uint64, hitRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits = c.hits
	misses = c.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// Clean удаляет просроченные записи
func (c *LRUCache) Clean() int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()

	// От самых старых к новым
	for elem := c.evictList.Back(); elem != nil; {
		entry := elem.Value.(*CacheEntry)
		if now.Sub(entry.Timestamp) <= c.ttl {
			// Все более новые записи тоже валидны
			break
		}
		prev := elem.Prev()
		c.removeElement(elem)
		removed++
		elem = prev
	}

	return removed
}

func (c *LRUCache) removeOldest() {
	if elem := c.evictList.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*CacheEntry)
	delete(c.items, entry.Key)
	c.evictList.Remove(elem)
}
