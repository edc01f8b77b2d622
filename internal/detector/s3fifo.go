package detector

import (
	"container/list"
	"sync"

	"redactflow/internal/logger"
)

// s3fifo bounds a Store with an S3-FIFO eviction layer (Yang et al., 2023).
//
// New keys enter the small probationary queue S (about 10% of capacity).
// When S overflows its oldest key is either promoted to the main queue M, if
// it was read while in S, or dropped and remembered in a bounded ghost ring.
// A key found in the ghost ring on insert goes straight to M. When M
// overflows its oldest key is dropped without a ghost entry.
//
// Dropped keys are deleted from the backing store too, so the backing store
// never holds more than capacity entries written through this layer. After a
// restart the in-memory layer is cold; reads fall through to the backing store
// and re-warm it.
//
// Sizing:
//
//	small = max(1, capacity/10)
//	main  = capacity - small
//	ghost = max(4, 2*small)
type s3fifo struct {
	mu sync.Mutex

	capacity int
	small    int

	entries map[string]*s3Entry
	sQueue  *list.List // of string keys
	mQueue  *list.List
	ghosts  ghostRing

	backing Store
}

type s3Entry struct {
	value string
	freq  uint8 // saturating at 3
	elem  *list.Element
	main  bool
}

// NewS3FIFO wraps backing with an S3-FIFO layer holding at most capacity
// entries; capacity below 2 is raised to 2.
func NewS3FIFO(backing Store, capacity int, log *logger.Logger) Store {
	capacity = max(capacity, 2)
	small := max(capacity/10, 1)
	ghostCap := max(2*small, 4)
	log.Debugf("cache_init", "S3-FIFO capacity=%d small=%d ghost=%d", capacity, small, ghostCap)
	return &s3fifo{
		capacity: capacity,
		small:    small,
		entries:  make(map[string]*s3Entry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghosts:   newGhostRing(ghostCap),
		backing:  backing,
	}
}

// Get bumps the frequency of a resident key. A miss falls through to the
// backing store and a hit there is re-inserted into memory.
func (c *s3fifo) Get(key string) (string, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.freq = min(e.freq+1, 3)
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	v, ok := c.backing.Get(key)
	if !ok {
		return "", false
	}
	c.drop(c.insert(key, v))
	return v, true
}

// Set stores key -> value in memory and in the backing store. Updating a
// resident key keeps its queue position.
func (c *s3fifo) Set(key, value string) {
	evicted := c.insert(key, value)
	c.backing.Set(key, value)
	c.drop(evicted)
}

// Delete removes key from memory and from the backing store.
func (c *s3fifo) Delete(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.queue(e).Remove(e.elem)
		delete(c.entries, key)
	}
	c.mu.Unlock()
	c.backing.Delete(key)
}

// Close closes the backing store. In-memory state is discarded.
func (c *s3fifo) Close() error {
	return c.backing.Close()
}

// Len returns the number of resident keys.
func (c *s3fifo) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *s3fifo) queue(e *s3Entry) *list.List {
	if e.main {
		return c.mQueue
	}
	return c.sQueue
}

// insert adds or updates key and returns the keys evicted to make room.
func (c *s3fifo) insert(key, value string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return nil
	}

	e := &s3Entry{value: value, main: c.ghosts.contains(key)}
	e.elem = c.queue(e).PushBack(key)
	c.entries[key] = e

	var evicted []string
	for len(c.entries) > c.capacity {
		if c.sQueue.Len() > 0 {
			evicted = c.evictSmall(evicted)
		} else {
			evicted = c.evictMain(evicted)
		}
	}
	return evicted
}

// evictSmall pops the oldest S key: promoted to M if it was read, dropped to
// the ghost ring otherwise. Must be called with c.mu held.
func (c *s3fifo) evictSmall(evicted []string) []string {
	key := c.sQueue.Remove(c.sQueue.Front()).(string)
	e := c.entries[key]

	if e.freq == 0 {
		delete(c.entries, key)
		c.ghosts.add(key)
		return append(evicted, key)
	}

	e.freq = 0
	e.main = true
	e.elem = c.mQueue.PushBack(key)
	if c.mQueue.Len() > c.capacity-c.small {
		evicted = c.evictMain(evicted)
	}
	return evicted
}

// evictMain pops and drops the oldest M key. Must be called with c.mu held.
func (c *s3fifo) evictMain(evicted []string) []string {
	front := c.mQueue.Front()
	if front == nil {
		return evicted
	}
	key := c.mQueue.Remove(front).(string)
	delete(c.entries, key)
	return append(evicted, key)
}

// drop deletes evicted keys from the backing store, outside c.mu.
func (c *s3fifo) drop(keys []string) {
	for _, k := range keys {
		c.backing.Delete(k)
	}
}

// ghostRing is a bounded FIFO set of recently evicted keys.
type ghostRing struct {
	buf   []string
	set   map[string]struct{}
	head  int
	count int
}

func newGhostRing(capacity int) ghostRing {
	return ghostRing{buf: make([]string, capacity), set: make(map[string]struct{}, capacity)}
}

func (g *ghostRing) contains(key string) bool {
	_, ok := g.set[key]
	return ok
}

// add records key, forgetting the oldest ghost when full.
func (g *ghostRing) add(key string) {
	if g.contains(key) {
		return
	}
	if g.count == len(g.buf) {
		delete(g.set, g.buf[g.head])
		g.head = (g.head + 1) % len(g.buf)
		g.count--
	}
	g.buf[(g.head+g.count)%len(g.buf)] = key
	g.set[key] = struct{}{}
	g.count++
}
