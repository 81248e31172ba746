// ABOUTME: Thread-safe TTL cache of keys already acted on, bounded by size
// ABOUTME: Used by the conversation coordinator so each read receipt is published once

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/hobbylink/meetup-chat/internal/chat"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for a TTL. When full, the oldest key is forgotten to
// make room. Insertion order is kept in a linked list so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts a goroutine that sweeps expired keys every
// sweepInterval. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

const sweepInterval = time.Minute

// ReceiptKey is the cache key for a read receipt on messageID.
func ReceiptKey(messageID chat.ID) string {
	return "read:" + messageID.String()
}

// Seen reports whether key was remembered within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Remember records key and reports whether it was new. A key seen within the
// TTL returns false and is left untouched, so callers can use the result to
// act exactly once.
func (c *Cache) Remember(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return false
	}

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*entry).seenAt = c.now()
		c.order.MoveToBack(elem)
		return true
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, seenAt: c.now()})
	return true
}

// Forget drops key so the next Remember reports it as new.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Len returns the number of keys held, expired ones not yet swept included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) liveLocked(key string) bool {
	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	return c.now().Sub(elem.Value.(*entry).seenAt) < c.ttl
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.entries, front.Value.(*entry).key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired keys. Entries are ordered by seenAt, so it stops at
// the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.order.Front(); elem != nil; {
		e := elem.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		next := elem.Next()
		c.order.Remove(elem)
		delete(c.entries, e.key)
		elem = next
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
