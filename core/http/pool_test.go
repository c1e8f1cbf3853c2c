package http

import (
	"sync"
	"testing"
)

// TestPoolAcquireRelease tests the free-list round trip
func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(4)

	s := p.Stats()
	if s.Capacity != 4 || s.Free != 4 {
		t.Fatalf("fresh pool stats = %+v", s)
	}

	c := p.Acquire()
	if c == nil {
		t.Fatal("Acquire returned nil")
	}
	if got := p.Stats().Free; got != 3 {
		t.Errorf("free after acquire = %d", got)
	}

	p.Release(c)
	if got := p.Stats().Free; got != 4 {
		t.Errorf("free after release = %d", got)
	}
	if s := p.Stats(); s.Acquires != 1 || s.Overflows != 0 {
		t.Errorf("counters = %+v", s)
	}
}

// TestPoolOverflow tests that an empty free list degrades into allocation
func TestPoolOverflow(t *testing.T) {
	p := NewPool(2)

	a := p.Acquire()
	b := p.Acquire()
	c := p.Acquire() // beyond capacity
	if a == nil || b == nil || c == nil {
		t.Fatal("overflow acquire failed")
	}

	s := p.Stats()
	if s.Acquires != 3 {
		t.Errorf("acquires = %d", s.Acquires)
	}
	if s.Overflows != 1 {
		t.Errorf("overflows = %d", s.Overflows)
	}

	// Releasing all three keeps the free list at capacity.
	p.Release(a)
	p.Release(b)
	p.Release(c)
	if got := p.Stats().Free; got != 2 {
		t.Errorf("free after over-release = %d", got)
	}
}

// TestPoolReleaseResets tests that a recycled context carries no state over
func TestPoolReleaseResets(t *testing.T) {
	p := NewPool(1)

	c := p.Acquire()
	mt := newMockTransport("POST", "/a?x=1")
	c.Init(nil, mt)
	c.SetParams(map[string]string{"id": "1"})
	c.Set("k", "v")
	c.String(200, "done")
	p.Release(c)

	c2 := p.Acquire()
	if c2 != c {
		t.Fatal("expected the recycled context back")
	}
	if c2.Responded() || c2.IsAborted() {
		t.Error("terminal state survived recycling")
	}
	if c2.Method() != "" || c2.RawURL() != "" || c2.Param("id") != "" {
		t.Error("request state survived recycling")
	}
	if _, ok := c2.Get("k"); ok {
		t.Error("scratch state survived recycling")
	}
}

// TestPoolConcurrentChurn tests the pool under parallel acquire/release
func TestPoolConcurrentChurn(t *testing.T) {
	p := NewPool(8)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := p.Acquire()
				p.Release(c)
			}
		}()
	}
	wg.Wait()

	s := p.Stats()
	if s.Acquires != 16*200 {
		t.Errorf("acquires = %d", s.Acquires)
	}
	if s.Free > s.Capacity {
		t.Errorf("free %d exceeds capacity %d", s.Free, s.Capacity)
	}
}

// BenchmarkPoolAcquireRelease measures the free-list hot path
func BenchmarkPoolAcquireRelease(b *testing.B) {
	p := NewPool(64)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c := p.Acquire()
		p.Release(c)
	}
}
