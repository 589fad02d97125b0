package dedup

import (
	"sync"
	"testing"
	"time"
)

func TestSameBucketRejected(t *testing.T) {
	w := New()
	defer w.Close()

	if !w.ShouldProcess("bob@example.org", "ping", 100) {
		t.Fatal("first event should be accepted")
	}
	if w.ShouldProcess("bob@example.org", "ping", 900) {
		t.Error("event in the same 2s bucket should be rejected")
	}
	if !w.ShouldProcess("bob@example.org", "ping", 2500) {
		t.Error("event in the next bucket should be accepted")
	}
}

func TestKeyComponents(t *testing.T) {
	w := New()
	defer w.Close()

	if !w.ShouldProcess("bob", "ping", 0) {
		t.Fatal("first event rejected")
	}
	if !w.ShouldProcess("alice", "ping", 0) {
		t.Error("different sender should be accepted")
	}
	if !w.ShouldProcess("bob", "pong", 0) {
		t.Error("different body should be accepted")
	}
	if got := w.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestProtocolIDKey(t *testing.T) {
	w := New()
	defer w.Close()

	tests := []struct {
		peer, id string
		want     bool
	}{
		{"bob@example.org", "m1", true},
		{"bob@example.org", "m1", false},
		{"bob@example.org", "m2", true},
		{"carol@example.org", "m1", true},
	}
	for _, tt := range tests {
		if got := w.ShouldProcessID(tt.peer, tt.id); got != tt.want {
			t.Errorf("ShouldProcessID(%q, %q) = %v, want %v", tt.peer, tt.id, got, tt.want)
		}
	}
	if !w.ShouldProcess("bob@example.org", "m1", 0) {
		t.Error("id keys must not collide with body keys")
	}
}

func TestEviction(t *testing.T) {
	w := New(WithHorizon(30 * time.Millisecond))
	defer w.Close()

	if !w.ShouldProcess("bob", "ping", 100) {
		t.Fatal("first event rejected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("key was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !w.ShouldProcess("bob", "ping", 100) {
		t.Error("event should be accepted again after eviction")
	}
}

func TestConcurrentDuplicates(t *testing.T) {
	w := New()
	defer w.Close()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.ShouldProcess("carol", "same text", 4200) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("accepted %d concurrent duplicates, want 1", accepted)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	w := New()
	w.ShouldProcess("a", "b", 0)
	w.Close()
	if got := w.Len(); got != 0 {
		t.Errorf("Len() after Close = %d, want 0", got)
	}
}
