package wal

import (
	"container/list"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cuemby/raftcore/pkg/metrics"
)

// payloadCache caches decoded entry payloads keyed by log index. Entries are
// exposed as the same byte slice handed to put, not a copy, matching the
// zero-copy borrow contract callers expect from a cache hit; callers must
// not mutate what Read returns.
type payloadCache interface {
	get(index uint64) ([]byte, bool)
	put(index uint64, payload []byte)
	remove(index uint64)
	purge()
}

func newPayloadCache(policy CachePolicy, size int) payloadCache {
	if policy == CacheLFU {
		return newLFUCache(size)
	}
	return newLRUCache(size)
}

// lruCache adapts hashicorp/golang-lru, the default payload cache policy.
type lruCache struct {
	c *lru.Cache
}

func newLRUCache(size int) *lruCache {
	c, err := lru.New(size)
	if err != nil {
		// Only returns an error for size <= 0, already normalized away
		// by Options.normalized.
		c, _ = lru.New(1)
	}
	return &lruCache{c: c}
}

func (l *lruCache) get(index uint64) ([]byte, bool) {
	v, ok := l.c.Get(index)
	if !ok {
		metrics.WALCacheMisses.Inc()
		return nil, false
	}
	metrics.WALCacheHits.Inc()
	return v.([]byte), true
}

func (l *lruCache) put(index uint64, payload []byte) { l.c.Add(index, payload) }
func (l *lruCache) remove(index uint64)              { l.c.Remove(index) }
func (l *lruCache) purge()                           { l.c.Purge() }

// lfuCache is a classic O(1) least-frequently-used cache: each frequency
// bucket is a list of recently-touched-at-that-frequency entries, so eviction
// picks the least-recently-touched member of the lowest non-empty bucket.
// No example repo in the corpus implements LFU (hashicorp/golang-lru only
// covers LRU); this is the one payload-cache policy built on the standard
// library alone, recorded in DESIGN.md.
type lfuCache struct {
	capacity int
	minFreq  int
	items    map[uint64]*lfuItem
	freqs    map[int]*list.List
}

type lfuItem struct {
	index   uint64
	payload []byte
	freq    int
	elem    *list.Element
}

func newLFUCache(capacity int) *lfuCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &lfuCache{
		capacity: capacity,
		items:    make(map[uint64]*lfuItem),
		freqs:    make(map[int]*list.List),
	}
}

func (c *lfuCache) touch(it *lfuItem) {
	oldFreq := it.freq
	c.freqs[oldFreq].Remove(it.elem)
	if c.freqs[oldFreq].Len() == 0 {
		delete(c.freqs, oldFreq)
		if c.minFreq == oldFreq {
			c.minFreq++
		}
	}
	it.freq++
	if c.freqs[it.freq] == nil {
		c.freqs[it.freq] = list.New()
	}
	it.elem = c.freqs[it.freq].PushFront(it)
}

func (c *lfuCache) get(index uint64) ([]byte, bool) {
	it, ok := c.items[index]
	if !ok {
		metrics.WALCacheMisses.Inc()
		return nil, false
	}
	c.touch(it)
	metrics.WALCacheHits.Inc()
	return it.payload, true
}

func (c *lfuCache) put(index uint64, payload []byte) {
	if it, ok := c.items[index]; ok {
		it.payload = payload
		c.touch(it)
		return
	}
	if len(c.items) >= c.capacity {
		c.evict()
	}
	it := &lfuItem{index: index, payload: payload, freq: 1}
	if c.freqs[1] == nil {
		c.freqs[1] = list.New()
	}
	it.elem = c.freqs[1].PushFront(it)
	c.items[index] = it
	c.minFreq = 1
}

func (c *lfuCache) evict() {
	bucket := c.freqs[c.minFreq]
	if bucket == nil || bucket.Len() == 0 {
		return
	}
	back := bucket.Back()
	victim := back.Value.(*lfuItem)
	bucket.Remove(back)
	if bucket.Len() == 0 {
		delete(c.freqs, c.minFreq)
	}
	delete(c.items, victim.index)
}

func (c *lfuCache) remove(index uint64) {
	it, ok := c.items[index]
	if !ok {
		return
	}
	c.freqs[it.freq].Remove(it.elem)
	if c.freqs[it.freq].Len() == 0 {
		delete(c.freqs, it.freq)
	}
	delete(c.items, index)
}

func (c *lfuCache) purge() {
	c.items = make(map[uint64]*lfuItem)
	c.freqs = make(map[int]*list.List)
	c.minFreq = 0
}
