// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package verifycache remembers verification results by image content, so an
// image seen twice is verified once.
package verifycache // import "go.opentelemetry.io/clrverify/verifycache"

import (
	"sync/atomic"

	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/clrverify/metrics"
	"go.opentelemetry.io/clrverify/verifier"
)

// Key identifies an image content and the set of passes run over it.
type Key struct {
	hash xxh3.Uint128
	full bool
}

// KeyFor returns the key for data. full selects VerifyFullTableRows.
func KeyFor(data []byte, full bool) Key {
	return Key{hash: xxh3.Hash128(data), full: full}
}

func hashKey(k Key) uint32 {
	return uint32(k.hash.Lo)
}

// Cache is an LRU of verification results. It is safe for concurrent use.
type Cache struct {
	lru *lru.SyncedLRU[Key, []*verifier.Result]

	hit  atomic.Uint64
	miss atomic.Uint64
}

// Statistics are the counters of a Cache.
type Statistics struct {
	Hit  uint64
	Miss uint64
	Len  int
}

// New returns a cache holding up to size entries.
func New(size uint32) (*Cache, error) {
	l, err := lru.NewSynced[Key, []*verifier.Result](size, hashKey)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the results stored for k.
func (c *Cache) Get(k Key) ([]*verifier.Result, bool) {
	results, ok := c.lru.Get(k)
	if ok {
		c.hit.Add(1)
		metrics.Add(metrics.IDCacheHits, 1)
	} else {
		c.miss.Add(1)
		metrics.Add(metrics.IDCacheMisses, 1)
	}
	return results, ok
}

// Add stores results for k.
func (c *Cache) Add(k Key, results []*verifier.Result) {
	c.lru.Add(k, results)
	metrics.Add(metrics.IDCacheEntries, metrics.MetricValue(c.lru.Len()))
}

// GetOrVerify returns the cached results for k, or runs verify and caches
// its results. The second return value reports a cache hit.
func (c *Cache) GetOrVerify(k Key, verify func() []*verifier.Result) ([]*verifier.Result, bool) {
	if results, ok := c.Get(k); ok {
		return results, true
	}
	results := verify()
	c.Add(k, results)
	return results, false
}

// GetAndResetStatistics returns the counters and resets hit and miss.
func (c *Cache) GetAndResetStatistics() Statistics {
	return Statistics{
		Hit:  c.hit.Swap(0),
		Miss: c.miss.Swap(0),
		Len:  c.lru.Len(),
	}
}
