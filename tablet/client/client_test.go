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

package client

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/tablestore/tablet/internal/fixture"
	"github.com/erigontech/tablestore/tablet/scan"
)

// TestNewScanCompletesFullTable exercises the assembled Client (master +
// dialer wired through New) rather than constructing MetaCache/Driver by
// hand, covering the full-table, no-stopKey path that requires the
// Scanning/Lookup -> Finished transition on an empty upper bound.
func TestNewScanCompletesFullTable(t *testing.T) {
	cluster := fixture.KeyValCluster(4, 100, 7)
	s := fixture.KeyValSchema()

	c := New(cluster, cluster, DefaultClientOptions())

	sc, err := c.NewScan("kv", s, []string{"key", "val"}, nil, nil, scan.DefaultOptions())
	require.NoError(t, err)

	total := 0
	for {
		batch, err := sc.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += batch.NumRows()
	}
	require.Equal(t, 100, total)
}

// TestNewWiresInvalidationSink asserts the fix for the review comment that
// rpc.Driver.Sink was never assigned outside tests: Client.New must wire
// the Driver's Sink back to its own MetaCache so a tablet-gone outcome
// observed mid-RPC actually drops the stale cache entry.
func TestNewWiresInvalidationSink(t *testing.T) {
	cluster := fixture.KeyValCluster(2, 10, 3)
	s := fixture.KeyValSchema()

	c := New(cluster, cluster, DefaultClientOptions())

	require.Same(t, c.cache, c.driver.Sink)

	before := c.Stats()
	sc, err := c.NewScan("kv", s, []string{"key", "val"}, nil, nil, scan.DefaultOptions())
	require.NoError(t, err)
	_, err = sc.Next(context.Background())
	require.NoError(t, err)
	after := c.Stats()
	require.GreaterOrEqual(t, after.Lookups, before.Lookups)
}
