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

package scan_test

import (
	"context"
	"io"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/tablestore/tablet/internal/fixture"
	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpc"
	"github.com/erigontech/tablestore/tablet/scan"
)

type kv struct{ key, val int }

// TestScanCompleteness implements spec §8's "Scan completeness" property:
// 4 partitions, keys 0..99, projection = all columns, yields exactly the
// 100 (key, val) pairs with val == key, each exactly once.
func TestScanCompleteness(t *testing.T) {
	cluster := fixture.KeyValCluster(4, 100, 7)
	s := fixture.KeyValSchema()

	cache := meta.New(cluster, meta.DefaultOptions(), nil)
	driver := rpc.NewDriver(cluster)

	sc, err := scan.New(cache, driver, "kv", s, []string{"key", "val"}, nil, nil, scan.DefaultOptions())
	require.NoError(t, err)

	var got []kv
	for {
		batch, err := sc.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for i := 0; i < batch.NumRows(); i++ {
			row := batch.Row(i)
			got = append(got, kv{key: int(row.Int32(0)), val: int(row.Int32(1))})
		}
	}

	require.Len(t, got, 100)
	sort.Slice(got, func(i, j int) bool { return got[i].key < got[j].key })

	want := make([]kv, 100)
	for i := range want {
		want[i] = kv{key: i, val: i}
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(kv{})); diff != "" {
		t.Fatalf("scanned (key, val) pairs differ from the expected 0..99 sequence (-want +got):\n%s", diff)
	}
}

// TestScanEmptyProjection implements spec §8's "Scan with empty
// projection" property: projecting no columns still yields exactly R rows,
// countable by summing batch row counts, with row_len == 0.
func TestScanEmptyProjection(t *testing.T) {
	cluster := fixture.KeyValCluster(4, 100, 11)
	s := fixture.KeyValSchema()

	cache := meta.New(cluster, meta.DefaultOptions(), nil)
	driver := rpc.NewDriver(cluster)

	sc, err := scan.New(cache, driver, "kv", s, []string{}, nil, nil, scan.DefaultOptions())
	require.NoError(t, err)

	total := 0
	for {
		batch, err := sc.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 0, batch.RowLen())
		total += batch.NumRows()
	}
	require.Equal(t, 100, total)
}

// TestScanCancellationSafety implements spec §8's "Cancellation safety"
// property in its observable form: closing a Scan mid-batch does not panic
// and leaves it usable as a no-op sink for any caller that still holds it.
func TestScanCancellationSafety(t *testing.T) {
	cluster := fixture.KeyValCluster(4, 100, 5)
	s := fixture.KeyValSchema()

	cache := meta.New(cluster, meta.DefaultOptions(), nil)
	driver := rpc.NewDriver(cluster)

	sc, err := scan.New(cache, driver, "kv", s, []string{"key", "val"}, nil, nil, scan.DefaultOptions())
	require.NoError(t, err)

	_, err = sc.Next(context.Background())
	require.NoError(t, err)
	sc.Close()
	sc.Close() // must be idempotent
}
