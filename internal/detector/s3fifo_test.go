package detector

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"redactflow/internal/logger"
)

// newTestS3FIFO creates a small S3-FIFO over an in-memory backing store.
func newTestS3FIFO(capacity int) *s3fifo {
	return NewS3FIFO(NewMemoryStore(), capacity, logger.Nop()).(*s3fifo)
}

// ── Basic contract ───────────────────────────────────────────────────────────

func TestS3FIFOGetSetDelete(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(10)
	defer c.Close() //nolint:errcheck

	if _, ok := c.Get("x"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("digest-a", `[{"start":0}]`)
	v, ok := c.Get("digest-a")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if v != `[{"start":0}]` {
		t.Errorf("unexpected value: %q", v)
	}

	c.Set("digest-a", `[]`)
	v, ok = c.Get("digest-a")
	if !ok || v != `[]` {
		t.Errorf("expected overwritten value, got %q ok=%v", v, ok)
	}

	c.Delete("digest-a")
	if _, ok := c.Get("digest-a"); ok {
		t.Error("expected miss after Delete")
	}
}

// ── Eviction: capacity enforcement ──────────────────────────────────────────

func TestS3FIFOCapacityEnforced(t *testing.T) {
	t.Parallel()
	capacity := 10
	c := newTestS3FIFO(capacity)
	defer c.Close() //nolint:errcheck

	for i := 0; i < capacity+5; i++ {
		c.Set(fmt.Sprintf("key-%d", i), fmt.Sprintf("v-%d", i))
	}

	c.mu.Lock()
	total := c.sQueue.Len() + c.mQueue.Len()
	c.mu.Unlock()

	if total > capacity {
		t.Errorf("in-memory entries %d exceeds capacity %d", total, capacity)
	}
}

func TestS3FIFOEvictionDeletesFromBacking(t *testing.T) {
	t.Parallel()
	backing := NewMemoryStore()
	c := NewS3FIFO(backing, 2, logger.Nop())
	defer c.Close() //nolint:errcheck

	c.Set("victim", "v")
	c.Set("displacer", "d")
	c.Set("trigger", "t")

	if _, ok := backing.Get("victim"); ok {
		t.Error("expected evicted key to be deleted from the backing store")
	}
	if _, ok := backing.Get("trigger"); !ok {
		t.Error("expected newest key in the backing store")
	}
}

// ── Promotion: freq > 0 on S eviction triggers M promotion ─────────────────

func TestS3FIFOPromotionToM(t *testing.T) {
	t.Parallel()
	// capacity=2: small=1, main=1.
	c := newTestS3FIFO(2)
	defer c.Close() //nolint:errcheck

	c.Set("hot", "v-hot")
	c.Get("hot") // freq → 1
	c.Set("cold", "v-cold")

	// total=3 > 2: "hot" leaves S and, having been read, moves to M.
	c.Set("extra", "v-extra")

	c.mu.Lock()
	e, ok := c.entries["hot"]
	c.mu.Unlock()

	if !ok {
		t.Fatal("expected 'hot' to still be resident after S eviction")
	}
	if !e.main {
		t.Error("expected 'hot' to be promoted to M queue")
	}
}

// ── Ghost set: recently evicted S key bypasses S on re-insert ───────────────

func TestS3FIFOGhostBypassesS(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(2)
	defer c.Close() //nolint:errcheck

	c.Set("victim", "v")
	c.Set("displacer", "d")
	c.Set("trigger", "t")

	c.mu.Lock()
	_, victimResident := c.entries["victim"]
	inGhost := c.ghosts.contains("victim")
	c.mu.Unlock()

	if victimResident {
		t.Error("expected 'victim' to be evicted from memory")
	}
	if !inGhost {
		t.Error("expected 'victim' to be in ghost after S eviction")
	}

	c.Set("victim", "v-new")

	c.mu.Lock()
	e, ok := c.entries["victim"]
	c.mu.Unlock()

	if !ok {
		t.Fatal("expected 'victim' to be resident after re-insert")
	}
	if !e.main {
		t.Error("expected 'victim' to bypass S and go to M on ghost-hit re-insert")
	}
}

// ── Ghost capacity: oldest ghost entry is forgotten when the ring is full ────

func TestS3FIFOGhostBounded(t *testing.T) {
	t.Parallel()
	// capacity=20: small=2, ghost=4.
	c := newTestS3FIFO(20)
	defer c.Close() //nolint:errcheck

	ghostCap := len(c.ghosts.buf)

	for i := 0; i < 30; i++ {
		c.Set(fmt.Sprintf("evict-%d", i), "v")
		c.Set(fmt.Sprintf("filler-%d", i), "f")
	}

	c.mu.Lock()
	count, setLen := c.ghosts.count, len(c.ghosts.set)
	c.mu.Unlock()

	if count > ghostCap {
		t.Errorf("ghost count %d exceeds capacity %d", count, ghostCap)
	}
	if setLen != count {
		t.Errorf("ghost set (%d) out of sync with ring count (%d)", setLen, count)
	}
}

func TestGhostRingForgetsOldest(t *testing.T) {
	t.Parallel()
	g := newGhostRing(2)
	g.add("a")
	g.add("b")
	g.add("a") // already present, no-op
	g.add("c")

	if g.contains("a") {
		t.Error("expected 'a' to be forgotten")
	}
	if !g.contains("b") || !g.contains("c") {
		t.Error("expected 'b' and 'c' to be remembered")
	}
}

// ── Cold read: backing hit re-warms the memory layer ────────────────────────

func TestS3FIFOColdReadRewarmsMemory(t *testing.T) {
	t.Parallel()
	backing := NewMemoryStore()
	backing.Set("cold-key", "v-cold")

	c := NewS3FIFO(backing, 10, logger.Nop()).(*s3fifo)
	defer c.Close() //nolint:errcheck

	if c.Len() != 0 {
		t.Fatal("expected empty memory layer before Get")
	}

	v, ok := c.Get("cold-key")
	if !ok || v != "v-cold" {
		t.Fatalf("expected cold-key hit from backing, got ok=%v v=%q", ok, v)
	}

	c.mu.Lock()
	_, inMem := c.entries["cold-key"]
	c.mu.Unlock()
	if !inMem {
		t.Error("expected cold-key to be re-warmed into memory after Get")
	}
}

// ── Concurrent safety ────────────────────────────────────────────────────────

func TestS3FIFOConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(100)
	defer c.Close() //nolint:errcheck

	const goroutines = 20
	const ops = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i%50)
				c.Set(key, fmt.Sprintf("v-%d-%d", g, i))
				c.Get(key)
				if i%10 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.sQueue.Len() + c.mQueue.Len()
	if total > c.capacity {
		t.Errorf("post-concurrency: %d entries exceed capacity %d", total, c.capacity)
	}
	if len(c.entries) != total {
		t.Errorf("entries map (%d) out of sync with queue lengths (%d)", len(c.entries), total)
	}
	if c.ghosts.count > len(c.ghosts.buf) {
		t.Errorf("ghost count %d exceeds capacity %d", c.ghosts.count, len(c.ghosts.buf))
	}
}

// ── Frequency saturation ─────────────────────────────────────────────────────

func TestS3FIFOFrequencySaturation(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(10)
	defer c.Close() //nolint:errcheck

	c.Set("k", "v")
	for i := 0; i < 100; i++ {
		c.Get("k")
	}

	c.mu.Lock()
	e := c.entries["k"]
	c.mu.Unlock()

	if e.freq != 3 {
		t.Errorf("expected freq=3 (saturated), got %d", e.freq)
	}
}

// ── bbolt backing ────────────────────────────────────────────────────────────

func TestS3FIFOWithBoltBacking(t *testing.T) {
	t.Parallel()
	backing, err := OpenBoltStore(filepath.Join(t.TempDir(), "detections.db"), logger.Nop())
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}

	c := NewS3FIFO(backing, 100, logger.Nop())
	defer c.Close() //nolint:errcheck

	c.Set("persist", `[{"entity_type":"PERSON"}]`)

	v, ok := c.Get("persist")
	if !ok || v != `[{"entity_type":"PERSON"}]` {
		t.Fatalf("expected hit, got ok=%v v=%q", ok, v)
	}

	c.Delete("persist")
	if _, ok := c.Get("persist"); ok {
		t.Error("expected miss after Delete")
	}
}
