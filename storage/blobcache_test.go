package storage

import "testing"

func TestBlobCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newBlobCache(2)
	c.put(1, []byte("a"))
	c.put(2, []byte("b"))
	c.get(1) // touch 1, making 2 the LRU victim
	c.put(3, []byte("c"))

	if _, ok := c.get(2); ok {
		t.Fatalf("expected frame 2 to be evicted")
	}
	if _, ok := c.get(1); !ok {
		t.Fatalf("expected frame 1 to remain cached")
	}
	if _, ok := c.get(3); !ok {
		t.Fatalf("expected frame 3 to be cached")
	}
}

func TestBlobCacheHitMissStats(t *testing.T) {
	c := newBlobCache(4)
	c.put(1, []byte("a"))
	c.get(1)
	c.get(2)

	stats := c.stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestBlobCacheInvalidateRemovesEntry(t *testing.T) {
	c := newBlobCache(4)
	c.put(1, []byte("a"))
	c.invalidate(1)
	if _, ok := c.get(1); ok {
		t.Fatalf("expected frame 1 removed after invalidate")
	}
}
