// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package meta

import (
	"context"
	"sync"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erigontech/erigon-lib/log/v3"

	tsbackoff "github.com/erigontech/tablestore/tablet/backoff"
	"github.com/erigontech/tablestore/tablet/tserr"
)

// ReplicaDescriptor is the wire shape of one replica as returned by the
// master's get-table-locations RPC.
type ReplicaDescriptor struct {
	Host string
	Port int
	Role Role
}

// TabletLocation is one tablet as returned by get-table-locations.
type TabletLocation struct {
	Id         TabletId
	LowerBound []byte
	UpperBound []byte
	Replicas   []ReplicaDescriptor
}

// MasterClient is the subset of the master RPC surface MetaCache consumes
// (spec §6): get-table-locations for a range starting at a key, returning
// a contiguous run of tablets plus an end-of-window marker.
type MasterClient interface {
	GetTableLocations(ctx context.Context, table string, startKey []byte, maxReturned int) (tablets []TabletLocation, windowEnd []byte, err error)
}

// Options configures a MetaCache.
type Options struct {
	MaxReturnedLocations int
	Backoff              tsbackoff.Options
	// NonCoveredRangeCacheSize bounds the supplementary LRU of
	// non-covered-range entries (SPEC_FULL.md §4.2), so a client scanning
	// many sparsely-populated tables doesn't grow the primary partition
	// without bound.
	NonCoveredRangeCacheSize int
}

func DefaultOptions() Options {
	return Options{
		MaxReturnedLocations:     64,
		Backoff:                  tsbackoff.DefaultOptions(),
		NonCoveredRangeCacheSize: 4096,
	}
}

// MetaCache maps primary-key byte strings to the TabletEntry covering
// them, one cached partition per table, fed by get-table-locations RPCs.
type MetaCache struct {
	master MasterClient
	opts   Options
	log    log.Logger

	mu     sync.Mutex
	tables map[string]*tableCache

	// stats are plain counters (SPEC_FULL.md §A.5); no metrics backend is
	// wired, this core only carries the counters themselves.
	lookups    atomicCounter
	cacheHits  atomicCounter
	masterRPCs atomicCounter
}

func New(master MasterClient, opts Options, logger log.Logger) *MetaCache {
	if logger == nil {
		logger = log.Root()
	}
	return &MetaCache{master: master, opts: opts, log: logger, tables: make(map[string]*tableCache)}
}

type tableCache struct {
	mu       sync.Mutex
	entries  *btree.BTree
	pending  map[string]*pendingFetch
	nonCover *lru.Cache[string, Entry]
}

type pendingFetch struct {
	done  chan struct{}
	entry Entry
	err   error
}

// newTableCache wires a bounded LRU of non-covered-range keys alongside the
// unbounded btree partition: once a table accumulates more non-covered
// ranges than nonCoverSize, the least-recently-inserted one is evicted from
// the btree too, so a client scanning many sparsely-populated tables can't
// grow the cache without bound (SPEC_FULL.md §4.2). The eviction only
// removes the entry if it's still the same non-covered range at that lower
// bound — a tablet that has since replaced it at the same key is left alone.
func newTableCache(nonCoverSize int) *tableCache {
	tc := &tableCache{entries: btree.New(16), pending: make(map[string]*pendingFetch)}
	lc, _ := lru.NewWithEvict[string, Entry](nonCoverSize, func(_ string, evicted Entry) {
		cur := tc.entries.Get(entryItem{Entry{Lower: evicted.Lower}})
		if cur == nil {
			return
		}
		c := cur.(entryItem).Entry
		if c.IsRange && bytesEqual(c.Upper, evicted.Upper) {
			tc.entries.Delete(cur)
		}
	})
	tc.nonCover = lc
	return tc
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *MetaCache) tableFor(table string) *tableCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, ok := c.tables[table]
	if !ok {
		tc = newTableCache(c.opts.NonCoveredRangeCacheSize)
		c.tables[table] = tc
	}
	return tc
}

// Entry returns the TabletEntry whose range contains key, fetching from
// the master on a cache miss. Concurrent calls for the same key while a
// fetch is in flight share that fetch (spec §4.2's at-most-one-per-range
// guarantee).
func (c *MetaCache) Entry(ctx context.Context, table string, key []byte) (Entry, error) {
	c.lookups.Add(1)
	tc := c.tableFor(table)

	if e, ok := lookupLocked(tc, key); ok {
		c.cacheHits.Add(1)
		return e, nil
	}

	pendingKey := string(key)
	tc.mu.Lock()
	if pf, ok := tc.pending[pendingKey]; ok {
		tc.mu.Unlock()
		<-pf.done
		return pf.entry, pf.err
	}
	// A fetch for key may have finished between the lookup above and
	// taking tc.mu; re-check the cache before starting another one.
	if e, ok := findEntry(tc, key); ok {
		tc.mu.Unlock()
		c.cacheHits.Add(1)
		return e, nil
	}
	pf := &pendingFetch{done: make(chan struct{})}
	tc.pending[pendingKey] = pf
	tc.mu.Unlock()

	entry, err := c.fetchAndMerge(ctx, table, tc, key)
	pf.entry, pf.err = entry, err
	close(pf.done)

	tc.mu.Lock()
	delete(tc.pending, pendingKey)
	tc.mu.Unlock()

	return entry, err
}

// lookupLocked searches the cached partition for the entry covering key.
func lookupLocked(tc *tableCache, key []byte) (Entry, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return findEntry(tc, key)
}

// findEntry is lookupLocked for a caller that already holds tc.mu.
func findEntry(tc *tableCache, key []byte) (Entry, bool) {
	var found Entry
	ok := false
	probe := entryItem{Entry{Lower: key}}
	// The entry covering key has the greatest Lower <= key; DescendLessOrEqual
	// walks candidates from key downward until one actually contains it.
	tc.entries.DescendLessOrEqual(probe, func(i btree.Item) bool {
		candidate := i.(entryItem).Entry
		if candidate.ContainsKey(key) {
			found, ok = candidate, true
		}
		return false
	})
	return found, ok
}

// fetchAndMerge issues the get-table-locations RPC (retrying transient
// master errors with backoff per spec §4.2) and merges the response into
// the cached partition, then resolves the entry covering key.
func (c *MetaCache) fetchAndMerge(ctx context.Context, table string, tc *tableCache, key []byte) (Entry, error) {
	bo := tsbackoff.New(c.opts.Backoff)
	for {
		c.masterRPCs.Add(1)
		tablets, windowEnd, err := c.master.GetTableLocations(ctx, table, key, c.opts.MaxReturnedLocations)
		if err == nil {
			mergeLocked(tc, key, windowEnd, tablets)
			e, ok := lookupLocked(tc, key)
			if !ok {
				return Entry{}, tserr.Serialization("meta: master response for table %q did not cover requested key", table)
			}
			return e, nil
		}
		if !tserr.IsRetriableAtRpcLevel(err) {
			c.log.Warn("meta-cache: fatal master error", "table", table, "err", err)
			return Entry{}, err
		}
		c.log.Debug("meta-cache: retrying table-locations lookup", "table", table, "err", err)
		if werr := bo.Wait(ctx); werr != nil {
			return Entry{}, werr
		}
	}
}

// mergeLocked merges a get-table-locations response into the cached
// partition: tablets cover their own ranges, and any gap between
// consecutive tablets (or between the requested key and the first tablet,
// or after the last tablet up to windowEnd) becomes a NonCoveredRange;
// with no tablets at all the whole window from the requested key is one
// NonCoveredRange. Overlapping stale entries are evicted first so a
// newer response always wins.
func mergeLocked(tc *tableCache, requestStart, windowEnd []byte, tablets []TabletLocation) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	rangeUpper := windowEnd
	if len(tablets) > 0 {
		last := tablets[len(tablets)-1]
		if len(rangeUpper) == 0 || (len(last.UpperBound) > 0 && bytesLess(rangeUpper, last.UpperBound)) {
			rangeUpper = last.UpperBound
		}
	}
	evictOverlapping(tc, requestStart, rangeUpper)

	cursor := requestStart
	for _, loc := range tablets {
		if bytesLess(cursor, loc.LowerBound) {
			insertNonCovered(tc, cursor, loc.LowerBound)
		}
		replicas := make([]*Replica, len(loc.Replicas))
		for i, rd := range loc.Replicas {
			replicas[i] = NewReplica(rd.Host, rd.Port, rd.Role)
		}
		t := NewTablet(loc.Id, loc.LowerBound, loc.UpperBound, replicas)
		tc.entries.ReplaceOrInsert(entryItem{TabletEntry(t)})
		cursor = loc.UpperBound
	}
	// A last tablet with an empty UpperBound already reaches +infinity, so
	// there is no trailing gap to record.
	reachesEnd := len(tablets) > 0 && len(cursor) == 0
	if !reachesEnd && (len(rangeUpper) == 0 || bytesLess(cursor, rangeUpper)) {
		insertNonCovered(tc, cursor, rangeUpper)
	}
}

// insertNonCovered adds a non-covered-range entry to both the cached
// partition and the bounded LRU that caps how many such ranges a table may
// accumulate (see newTableCache).
func insertNonCovered(tc *tableCache, lower, upper []byte) {
	e := NonCoveredRangeEntry(lower, upper)
	tc.entries.ReplaceOrInsert(entryItem{e})
	if tc.nonCover != nil {
		tc.nonCover.Add(string(lower), e)
	}
}

// evictOverlapping removes every cached entry whose range intersects
// [lower, upper) so a fresh response can fully replace it, preferring the
// newer data per spec §4.2.
func evictOverlapping(tc *tableCache, lower, upper []byte) {
	var toDelete []btree.Item
	tc.entries.Ascend(func(i btree.Item) bool {
		e := i.(entryItem).Entry
		if rangesOverlap(e.Lower, e.Upper, lower, upper) {
			toDelete = append(toDelete, i)
		}
		return true
	})
	for _, i := range toDelete {
		tc.entries.Delete(i)
	}
}

func rangesOverlap(aLower, aUpper, bLower, bUpper []byte) bool {
	if len(aUpper) > 0 && len(bLower) > 0 && !bytesLess(bLower, aUpper) {
		return false
	}
	if len(bUpper) > 0 && len(aLower) > 0 && !bytesLess(aLower, bUpper) {
		return false
	}
	return true
}

// Invalidate drops tablet t from the cache and marks its range for
// refresh on next access, called by tablet/rpc when a replica reports a
// non-retriable location error (tablet-gone, spec §4.2).
func (c *MetaCache) Invalidate(table string, t *Tablet) {
	tc := c.tableFor(table)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.entries.Delete(entryItem{TabletEntry(t)})
}

// Stats is a point-in-time snapshot of the no-backend counters described
// in SPEC_FULL.md §A.5.
type Stats struct {
	Lookups    int64
	CacheHits  int64
	MasterRPCs int64
}

func (c *MetaCache) Stats() Stats {
	return Stats{
		Lookups:    c.lookups.Load(),
		CacheHits:  c.cacheHits.Load(),
		MasterRPCs: c.masterRPCs.Load(),
	}
}
