package session

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Cache is a bounded LRU over in-memory session histories. Two limits
// apply: maxGlobal entries total, maxPerUser entries per user. Eviction
// drops the least recently used entry of the violated scope. Evicted
// histories are safe to drop: the store holds the durable copy.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	maxGlobal  int
	maxPerUser int
	order      *list.List // front = most recently used
	entries    map[uuid.UUID]*list.Element
	perUser    map[string]int
	logger     *slog.Logger
}

type cacheEntry struct {
	sessionID uuid.UUID
	userID    string
	history   *History
}

// NewCache creates a cache with the given bounds. Both must be
// positive; maxPerUser is additionally capped at maxGlobal.
func NewCache(maxGlobal, maxPerUser int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if maxGlobal < 1 {
		maxGlobal = 1
	}
	if maxPerUser < 1 {
		maxPerUser = 1
	}
	if maxPerUser > maxGlobal {
		maxPerUser = maxGlobal
	}
	return &Cache{
		maxGlobal:  maxGlobal,
		maxPerUser: maxPerUser,
		order:      list.New(),
		entries:    make(map[uuid.UUID]*list.Element),
		perUser:    make(map[string]int),
		logger:     logger,
	}
}

// Get returns the cached history for a session and marks it as recently
// used.
func (c *Cache) Get(sessionID uuid.UUID) (*History, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).history, true
}

// Put inserts or refreshes a session history, evicting as needed to
// respect both bounds.
func (c *Cache) Put(sessionID uuid.UUID, userID string, history *History) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[sessionID]; ok {
		elem.Value.(*cacheEntry).history = history
		c.order.MoveToFront(elem)
		return
	}

	if c.perUser[userID] >= c.maxPerUser {
		c.evictOldestOf(userID)
	}
	if c.order.Len() >= c.maxGlobal {
		c.evictOldest()
	}

	elem := c.order.PushFront(&cacheEntry{
		sessionID: sessionID,
		userID:    userID,
		history:   history,
	})
	c.entries[sessionID] = elem
	c.perUser[userID]++
}

// Remove drops a session from the cache if present.
func (c *Cache) Remove(sessionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[sessionID]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// UserLen returns the number of cached sessions of one user.
func (c *Cache) UserLen(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perUser[userID]
}

// evictOldest drops the globally least recently used entry.
// Caller holds c.mu.
func (c *Cache) evictOldest() {
	if back := c.order.Back(); back != nil {
		e := back.Value.(*cacheEntry)
		c.logger.Debug("evicting session from cache",
			"session_id", e.sessionID, "user_id", e.userID, "scope", "global")
		c.removeElement(back)
	}
}

// evictOldestOf drops the least recently used entry of one user.
// Caller holds c.mu.
func (c *Cache) evictOldestOf(userID string) {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*cacheEntry)
		if e.userID == userID {
			c.logger.Debug("evicting session from cache",
				"session_id", e.sessionID, "user_id", userID, "scope", "user")
			c.removeElement(elem)
			return
		}
	}
}

// removeElement unlinks an element and fixes the bookkeeping.
// Caller holds c.mu.
func (c *Cache) removeElement(elem *list.Element) {
	e := c.order.Remove(elem).(*cacheEntry)
	delete(c.entries, e.sessionID)
	c.perUser[e.userID]--
	if c.perUser[e.userID] == 0 {
		delete(c.perUser, e.userID)
	}
}
