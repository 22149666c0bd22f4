package equiv

import (
	"golang.org/x/exp/maps"

	"bpfverify/internal/state"
)

// PruneKey is the checkpoint cache key spec.md §9 specifies: "insn_idx
// xor callsite". Using a real struct key rather than the literal xor
// keeps callsite and instruction index individually inspectable for
// logging without losing the spec's intent that the two combine into one
// cache key.
type PruneKey struct {
	InsnIdx  int
	Callsite int
}

// checkpointEntry is one cached explored state plus its hit/miss counters
// (spec.md §4.9: "Checkpoints accumulate hit/miss counters; states with
// miss>>hit are evicted to a free list").
type checkpointEntry struct {
	state *state.VerifierState
	hits  int
	miss  int
}

// EvictRatio: once miss exceeds hits by this factor (and miss has crossed
// a minimum sample size), the checkpoint is evicted.
const (
	evictRatio   = 4
	evictMinMiss = 8
)

// Cache is the prune-point checkpoint cache.
type Cache struct {
	byKey map[PruneKey][]*checkpointEntry
	free  []*state.VerifierState
}

// NewCache returns an empty checkpoint cache.
func NewCache() *Cache {
	return &Cache{byKey: map[PruneKey][]*checkpointEntry{}}
}

// Lookup consults the cache at key, returning the first checkpoint cur is
// equivalent to (per StatesEqual), bumping its hit counter. On a miss
// against every cached checkpoint at key, every checkpoint's miss counter
// is bumped and eviction runs at key; cur is not inserted (see Insert).
func (c *Cache) Lookup(key PruneKey, cur *state.VerifierState) (*state.VerifierState, bool) {
	entries := c.byKey[key]
	for _, e := range entries {
		if StatesEqual(e.state, cur) {
			e.hits++
			return e.state, true
		}
		e.miss++
	}
	c.evict(key)
	return nil, false
}

// Insert adds cur as a new checkpoint at key.
func (c *Cache) Insert(key PruneKey, cur *state.VerifierState) {
	c.byKey[key] = append(c.byKey[key], &checkpointEntry{state: cur})
}

// evict drops checkpoints at key whose miss rate has grown far past their
// hit rate, moving them to the free list (spec.md §4.9's "evicted to a
// free list"; internal/verifier may later recycle entries from Free()
// to avoid allocating a fresh arena slot for every new checkpoint).
func (c *Cache) evict(key PruneKey) {
	entries := c.byKey[key]
	kept := entries[:0]
	for _, e := range entries {
		if e.miss >= evictMinMiss && e.miss > e.hits*evictRatio {
			c.free = append(c.free, e.state)
			continue
		}
		kept = append(kept, e)
	}
	c.byKey[key] = kept
}

// Free returns and clears the eviction free list.
func (c *Cache) Free() []*state.VerifierState {
	f := c.free
	c.free = nil
	return f
}

// Keys returns every prune-point key currently populated, for diagnostics.
func (c *Cache) Keys() []PruneKey { return maps.Keys(c.byKey) }
