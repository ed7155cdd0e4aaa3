// Package session provides the in-memory conversation context cache.
//
// The cache holds a bounded window of recent raw user inputs per phone
// number. It is process-lifetime only: contents are lost on restart, which
// is an accepted tradeoff for this relay rather than a bug.
package session

import (
	"hash/fnv"
	"log/slog"
	"sync"
)

// shardCount controls lock granularity. Distinct phone numbers are handled
// concurrently by the transport, so contention is spread across shards.
const shardCount = 16

type shard struct {
	mu        sync.Mutex
	histories map[string][]string
}

// Cache is a sharded map of phone number -> bounded input history.
// Construct one per process and inject it into the dispatcher; it must not
// be referenced as ambient package state.
type Cache struct {
	capacity int
	shards   [shardCount]*shard
}

// NewCache creates a session cache keeping the last capacity inputs per user.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache{capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &shard{histories: make(map[string][]string)}
	}
	slog.Debug("session.NewCache: created", "capacity", capacity, "shards", shardCount)
	return c
}

func (c *Cache) shardFor(phone string) *shard {
	h := fnv.New32a()
	h.Write([]byte(phone))
	return c.shards[h.Sum32()%shardCount]
}

// Append records a raw user input, evicting the oldest entry once the
// window is full. The history is created lazily on first use.
func (c *Cache) Append(phone, input string) {
	s := c.shardFor(phone)
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.histories[phone], input)
	if len(history) > c.capacity {
		history = history[len(history)-c.capacity:]
	}
	s.histories[phone] = history
}

// History returns a copy of the recorded inputs for phone, oldest first.
func (c *Cache) History(phone string) []string {
	s := c.shardFor(phone)
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.histories[phone]
	out := make([]string, len(history))
	copy(out, history)
	return out
}

// Clear drops the history for phone.
func (c *Cache) Clear(phone string) {
	s := c.shardFor(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, phone)
}
