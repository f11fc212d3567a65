// ABOUTME: TTL cache of recently processed webhook event IDs
// ABOUTME: Suppresses the duplicate deliveries the platform retries on slow responses

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	id      string
	expires time.Time
}

// Cache remembers which event IDs were processed recently. The platform
// redelivers events it considers unacknowledged, so the webhook handler
// consults this before running the pipeline. Size-capped with oldest-first
// eviction; expired entries are pruned inline, no background goroutine.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // *entry values, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a Cache holding at most maxSize IDs for ttl each.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether id was already recorded within the TTL, recording it
// if not. The check and the record are one atomic step so two concurrent
// deliveries of the same event cannot both pass.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if elem, ok := c.seen[id]; ok {
		if elem.Value.(*entry).expires.After(now) {
			return true
		}
		// Expired but not yet pruned from the middle of the list
		c.order.Remove(elem)
		delete(c.seen, id)
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.seen[id] = c.order.PushBack(&entry{id: id, expires: now.Add(c.ttl)})
	return false
}

// pruneLocked drops expired entries from the front. Entries are never
// re-marked, so insertion order is expiry order.
func (c *Cache) pruneLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		if e.expires.After(now) {
			return
		}
		c.order.Remove(front)
		delete(c.seen, e.id)
	}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*entry)
	c.order.Remove(front)
	delete(c.seen, e.id)
}

// Forget removes id so a redelivery will be processed again. The handler
// calls this when processing fails in a way the platform should retry.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.seen[id]; ok {
		c.order.Remove(elem)
		delete(c.seen, id)
	}
}

// Len returns the number of live entries. Mostly for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
