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

// Package scan implements the Scan state machine (spec §4.5): Lookup,
// Scanning and Finished, walking a table's tablets in primary-key order
// via MetaCache and ReplicaRpc and yielding decoded RowBatches.
package scan

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpc"
	"github.com/erigontech/tablestore/tablet/rpcpb"
	"github.com/erigontech/tablestore/tablet/schema"
	"github.com/erigontech/tablestore/tablet/tserr"
	"github.com/erigontech/tablestore/tablet/wire"
)

type state int

const (
	stateLookup state = iota
	stateScanning
	stateFinished
)

// Options configures a Scan beyond its table, projection and key bounds.
type Options struct {
	ReadMode rpcpb.ReadMode
	Deadline time.Time
	// CloseTimeout bounds the best-effort close-scan issued when a Scan is
	// abandoned mid-batch (SPEC_FULL.md §A.3).
	CloseTimeout time.Duration
	Log          log.Logger
}

func DefaultOptions() Options {
	return Options{ReadMode: rpcpb.ReadLatest, CloseTimeout: 2 * time.Second, Log: log.Root()}
}

// Scan is the client-visible cursor over a table's rows in primary-key
// order, projected to a subset of columns (spec §3/§4.5).
type Scan struct {
	cache  *meta.MetaCache
	driver *rpc.Driver
	table  string

	full        *schema.Schema
	projection  *schema.Schema
	wireColumns []rpcpb.ColumnSchema

	startKey []byte
	stopKey  []byte
	opts     Options

	state      state
	lowerBound []byte
	active     *tabletScan
}

// New builds a Scan over table, projected to the columns named in
// projectedColumnNames (nil means every column; a non-nil empty slice
// projects no columns, spec §8's "empty projection" case), covering
// [startKey, stopKey) in KeyCodec-encoded form (empty bounds mean
// ±infinity).
func New(cache *meta.MetaCache, driver *rpc.Driver, table string, full *schema.Schema, projectedColumnNames []string, startKey, stopKey []byte, opts Options) (*Scan, error) {
	idxs := make([]int, 0, len(projectedColumnNames))
	if projectedColumnNames == nil {
		for i := 0; i < full.NumColumns(); i++ {
			idxs = append(idxs, i)
		}
	}
	for _, name := range projectedColumnNames {
		idx, ok := full.ColumnIndex(name)
		if !ok {
			return nil, tserr.InvalidArgument("scan: unknown projected column %q", name)
		}
		idxs = append(idxs, idx)
	}
	projection, err := full.Project(idxs)
	if err != nil {
		return nil, err
	}
	wireColumns := make([]rpcpb.ColumnSchema, projection.NumColumns())
	for i, c := range projection.Columns() {
		wireColumns[i] = rpcpb.ColumnSchema{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	if opts.Log == nil {
		opts.Log = log.Root()
	}
	if opts.CloseTimeout == 0 {
		opts.CloseTimeout = 2 * time.Second
	}
	return &Scan{
		cache:       cache,
		driver:      driver,
		table:       table,
		full:        full,
		projection:  projection,
		wireColumns: wireColumns,
		startKey:    startKey,
		stopKey:     stopKey,
		opts:        opts,
		state:       stateLookup,
		lowerBound:  startKey,
	}, nil
}

// Next blocks until the next RowBatch is available (skipping non-covered
// ranges on the way), the scan completes (io.EOF), or an unrecoverable
// error occurs.
// Only tablet-gone errors are recovered internally by returning to Lookup
// (spec §7's propagation rule); everything else ends the scan.
func (s *Scan) Next(ctx context.Context) (*wire.RowBatch, error) {
	for {
		if s.reachedStop() {
			s.state = stateFinished
		}
		switch s.state {
		case stateFinished:
			return nil, io.EOF

		case stateLookup:
			s.opts.Log.Debug("scan: entered lookup", "table", s.table, "lb", s.lowerBound)
			entry, err := s.cache.Entry(ctx, s.table, s.lowerBound)
			if err != nil {
				return nil, err
			}
			if entry.IsRange {
				if len(entry.Upper) == 0 {
					s.state = stateFinished
					continue
				}
				s.lowerBound = entry.Upper
				continue
			}
			ts, batch, err := openTabletScan(ctx, s, entry.Tablet)
			if err != nil {
				if tserr.IsTabletGone(err) {
					// Invalidate so the retried lookup re-resolves this
					// range from the master instead of hitting the same
					// gone tablet again.
					s.cache.Invalidate(s.table, entry.Tablet)
					continue
				}
				return nil, err
			}
			s.active = ts
			if !ts.hasMore {
				if len(entry.Tablet.UpperBound) == 0 {
					s.active = nil
					s.state = stateFinished
				} else {
					s.lowerBound = entry.Tablet.UpperBound
					s.active = nil
					s.state = stateLookup
				}
			} else {
				s.state = stateScanning
			}
			return batch, nil

		case stateScanning:
			batch, err := s.active.cont(ctx, s)
			if err != nil {
				if tserr.IsTabletGone(err) {
					s.cache.Invalidate(s.table, s.active.tablet)
					s.active = nil
					s.state = stateLookup
					continue
				}
				return nil, err
			}
			if !s.active.hasMore {
				if len(s.active.tablet.UpperBound) == 0 {
					s.active = nil
					s.state = stateFinished
				} else {
					s.lowerBound = s.active.tablet.UpperBound
					s.active = nil
					s.state = stateLookup
				}
			}
			return batch, nil
		}
	}
}

// Close abandons the scan, best-effort closing any open server-side
// scanner (SPEC_FULL.md §A.3, spec §8's cancellation-safety property). Safe
// to call more than once and safe to call without having drained Next.
func (s *Scan) Close() {
	if s.active != nil {
		s.active.close(s.opts.CloseTimeout, s.opts.Log)
		s.active = nil
	}
	s.state = stateFinished
}

func (s *Scan) reachedStop() bool {
	return len(s.stopKey) > 0 && !bytesLess(s.lowerBound, s.stopKey)
}

func bytesLess(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
