package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendAndHistory(t *testing.T) {
	c := NewCache(5)
	c.Append("15551234567", "first")
	c.Append("15551234567", "second")

	got := c.History("15551234567")
	if len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("history out of order: %v", got)
	}
}

func TestHistoryIsIsolatedPerPhone(t *testing.T) {
	c := NewCache(5)
	c.Append("15551234567", "alpha")
	c.Append("15559990000", "beta")

	if got := c.History("15551234567"); len(got) != 1 || got[0] != "alpha" {
		t.Errorf("unexpected history for first phone: %v", got)
	}
	if got := c.History("15559990000"); len(got) != 1 || got[0] != "beta" {
		t.Errorf("unexpected history for second phone: %v", got)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := NewCache(5)
	for i := 1; i <= 6; i++ {
		c.Append("15551234567", fmt.Sprintf("message %d", i))
	}

	got := c.History("15551234567")
	if len(got) != 5 {
		t.Fatalf("history length = %d, want 5", len(got))
	}
	for _, input := range got {
		if input == "message 1" {
			t.Errorf("oldest input should have been evicted, got %v", got)
		}
	}
	if got[0] != "message 2" || got[4] != "message 6" {
		t.Errorf("unexpected window after eviction: %v", got)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	c := NewCache(5)
	c.Append("15551234567", "original")

	got := c.History("15551234567")
	got[0] = "mutated"

	if again := c.History("15551234567"); again[0] != "original" {
		t.Errorf("caller mutation leaked into cache: %v", again)
	}
}

func TestClear(t *testing.T) {
	c := NewCache(5)
	c.Append("15551234567", "something")
	c.Clear("15551234567")
	if got := c.History("15551234567"); len(got) != 0 {
		t.Errorf("expected empty history after clear, got %v", got)
	}
}

func TestConcurrentAppend(t *testing.T) {
	c := NewCache(5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			phone := fmt.Sprintf("1555000%04d", n%8)
			c.Append(phone, fmt.Sprintf("msg %d", n))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		phone := fmt.Sprintf("1555000%04d", i)
		if got := c.History(phone); len(got) > 5 {
			t.Errorf("history for %s exceeds capacity: %d", phone, len(got))
		}
	}
}
