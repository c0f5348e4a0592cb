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
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/btree"
	"github.com/stretchr/testify/require"
)

// fakeMaster serves a fixed, range-partitioned table of four tablets
// (split at g, n and t)
// spanning the whole key space, counting how many times it is invoked.
type fakeMaster struct {
	calls    atomic.Int64
	bounds   [][2][]byte
	replicas []ReplicaDescriptor
	mu       sync.Mutex
	blockCh  chan struct{} // optional: when set, GetTableLocations waits on it
}

func newFakeMaster() *fakeMaster {
	bounds := [][2][]byte{
		{nil, []byte("g")},
		{[]byte("g"), []byte("n")},
		{[]byte("n"), []byte("t")},
		{[]byte("t"), nil},
	}
	return &fakeMaster{
		bounds:   bounds,
		replicas: []ReplicaDescriptor{{Host: "h1", Port: 1, Role: RoleLeader}, {Host: "h2", Port: 2, Role: RoleFollower}},
	}
}

func (f *fakeMaster) GetTableLocations(ctx context.Context, table string, startKey []byte, maxReturned int) ([]TabletLocation, []byte, error) {
	f.calls.Add(1)
	if f.blockCh != nil {
		<-f.blockCh
	}
	var out []TabletLocation
	for i, b := range f.bounds {
		if len(b[1]) > 0 && bytesLess(b[1], startKey) {
			continue
		}
		out = append(out, TabletLocation{
			Id:         NewTabletId([]byte{byte('0' + i)}),
			LowerBound: b[0],
			UpperBound: b[1],
			Replicas:   f.replicas,
		})
		if len(out) >= maxReturned {
			break
		}
	}
	return out, nil, nil
}

func TestEntryResolvesCoveringTablet(t *testing.T) {
	m := New(newFakeMaster(), DefaultOptions(), nil)
	e, err := m.Entry(context.Background(), "t1", []byte("abc"))
	require.NoError(t, err)
	require.NotNil(t, e.Tablet)
	require.False(t, e.IsRange)
	require.Equal(t, "0", e.Tablet.Id.String())
}

func TestPartitionInvariantAfterLookups(t *testing.T) {
	m := New(newFakeMaster(), DefaultOptions(), nil)
	for _, k := range [][]byte{[]byte("a"), []byte("h"), []byte("o"), []byte("z")} {
		_, err := m.Entry(context.Background(), "t1", k)
		require.NoError(t, err)
	}
	tc := m.tableFor("t1")
	var prevUpper []byte
	first := true
	tc.entries.Ascend(func(i btree.Item) bool {
		e := i.(entryItem).Entry
		if !first {
			require.True(t, bytes.Equal(prevUpper, e.Lower), "adjacent entries must share a boundary")
		}
		first = false
		prevUpper = e.Upper
		return true
	})
	require.Empty(t, prevUpper, "last entry must extend to +infinity")
}

func TestAtMostOneConcurrentLookup(t *testing.T) {
	fm := newFakeMaster()
	fm.blockCh = make(chan struct{})
	m := New(fm, DefaultOptions(), nil)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = m.Entry(context.Background(), "t1", []byte("same-key"))
		}()
	}
	close(fm.blockCh)
	wg.Wait()
	require.Equal(t, int64(1), fm.calls.Load())
}

func TestNonCoveredRangeAdvancesToUpperBound(t *testing.T) {
	m := New(newFakeMaster(), DefaultOptions(), nil)
	e, err := m.Entry(context.Background(), "t1", []byte("z"))
	require.NoError(t, err)
	require.True(t, e.Tablet != nil || e.IsRange)

	// A key in the gap between two tablets resolves to a non-covered range
	// whose Upper is the next tablet's lower bound.
	gapped := newFakeMaster()
	gapped.bounds = [][2][]byte{{nil, []byte("g")}, {[]byte("n"), nil}}
	m2 := New(gapped, DefaultOptions(), nil)
	gap, err := m2.Entry(context.Background(), "t1", []byte("h"))
	require.NoError(t, err)
	require.True(t, gap.IsRange)
	require.Equal(t, []byte("n"), gap.Upper)
}

func TestNonCoveredRangeCacheIsBounded(t *testing.T) {
	tc := newTableCache(2)
	insertNonCovered(tc, []byte("a"), []byte("b"))
	insertNonCovered(tc, []byte("c"), []byte("d"))
	insertNonCovered(tc, []byte("e"), []byte("f"))

	_, stillCached := lookupLocked(tc, []byte("a"))
	require.False(t, stillCached, "oldest non-covered range should have been evicted")

	_, ok := lookupLocked(tc, []byte("c"))
	require.True(t, ok)
	_, ok = lookupLocked(tc, []byte("e"))
	require.True(t, ok)
}

func TestNonCoveredRangeEvictionSparesReplacedEntry(t *testing.T) {
	tc := newTableCache(1)
	insertNonCovered(tc, []byte("a"), []byte("b"))
	// A tablet now covers what used to be a non-covered range at the same
	// lower bound; evicting the stale LRU entry for "a" must not delete it.
	tc.entries.ReplaceOrInsert(entryItem{TabletEntry(NewTablet(NewTabletId([]byte("t")), []byte("a"), []byte("b"), nil))})
	insertNonCovered(tc, []byte("c"), []byte("d")) // evicts "a" from the LRU (size 1)

	e, ok := lookupLocked(tc, []byte("a"))
	require.True(t, ok)
	require.NotNil(t, e.Tablet, "tablet that replaced the non-covered range must survive LRU eviction")
}

// TestInvalidateRemovesTabletAndRefreshesOnNextAccess checks that an
// invalidated tablet leaves no cached entry behind, so the next lookup of
// its range goes back to the master and finds the tablet again.
func TestInvalidateRemovesTabletAndRefreshesOnNextAccess(t *testing.T) {
	fm := newFakeMaster()
	m := New(fm, DefaultOptions(), nil)
	e, err := m.Entry(context.Background(), "t1", []byte("abc"))
	require.NoError(t, err)
	require.NotNil(t, e.Tablet)
	m.Invalidate("t1", e.Tablet)

	tc := m.tableFor("t1")
	_, ok := lookupLocked(tc, []byte("abc"))
	require.False(t, ok)

	again, err := m.Entry(context.Background(), "t1", []byte("abc"))
	require.NoError(t, err)
	require.NotNil(t, again.Tablet)
	require.True(t, bytes.Equal(again.Tablet.UpperBound, e.Tablet.UpperBound))
	require.Equal(t, int64(2), fm.calls.Load())
}
