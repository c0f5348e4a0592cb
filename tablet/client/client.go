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

// Package client assembles tablet/meta, tablet/rpc and tablet/scan into
// the single entry point applications construct (SPEC_FULL.md §B), the
// way erigon's ethconfig.Config pattern assembles a struct of tunables
// with a Default...() constructor rather than parsing flags itself.
package client

import (
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	tsbackoff "github.com/erigontech/tablestore/tablet/backoff"
	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpc"
	"github.com/erigontech/tablestore/tablet/rpcchannel"
	"github.com/erigontech/tablestore/tablet/scan"
	"github.com/erigontech/tablestore/tablet/schema"
)

// ClientOptions holds the client-wide tunables: meta-cache capacity,
// default RPC timeout, backoff policy, and the master's location-prefetch
// window (SPEC_FULL.md §B).
type ClientOptions struct {
	MetaCacheCapacity    int
	DefaultRPCTimeout    time.Duration
	Backoff              tsbackoff.Options
	MaxReturnedLocations int
	Log                  log.Logger
}

// DefaultClientOptions returns the zero-value-safe defaults used when a
// field of ClientOptions is left unset.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MetaCacheCapacity:    4096,
		DefaultRPCTimeout:    10 * time.Second,
		Backoff:              tsbackoff.DefaultOptions(),
		MaxReturnedLocations: 64,
		Log:                  log.Root(),
	}
}

// Client is the assembled scan-execution engine: a MetaCache resolving
// tablet locations, a Driver issuing replica RPCs on its behalf, wired so
// that a tablet-gone outcome observed by the Driver invalidates the
// MetaCache entry that produced the stale target (spec §4.3).
type Client struct {
	cache  *meta.MetaCache
	driver *rpc.Driver
	opts   ClientOptions
}

// New assembles a Client from a master RPC client and a replica dialer.
func New(master meta.MasterClient, dialer rpcchannel.Dialer, opts ClientOptions) *Client {
	if opts.Log == nil {
		opts.Log = log.Root()
	}
	if opts.MaxReturnedLocations == 0 {
		opts.MaxReturnedLocations = 64
	}
	if opts.DefaultRPCTimeout == 0 {
		opts.DefaultRPCTimeout = 10 * time.Second
	}
	if opts.MetaCacheCapacity == 0 {
		opts.MetaCacheCapacity = 4096
	}
	if opts.Backoff == (tsbackoff.Options{}) {
		opts.Backoff = tsbackoff.DefaultOptions()
	}

	cache := meta.New(master, meta.Options{
		MaxReturnedLocations:     opts.MaxReturnedLocations,
		Backoff:                  opts.Backoff,
		NonCoveredRangeCacheSize: opts.MetaCacheCapacity,
	}, opts.Log)

	driver := rpc.NewDriver(dialer)
	driver.Sink = cache
	driver.BackoffOpts = opts.Backoff
	driver.PerAttemptTimeout = opts.DefaultRPCTimeout
	driver.Log = opts.Log

	return &Client{cache: cache, driver: driver, opts: opts}
}

// NewScan opens a Scan over table (spec §4.5), projected to
// projectedColumnNames (nil means every column; a non-nil empty slice
// projects none), covering
// [startKey, stopKey) in KeyCodec-encoded form.
func (c *Client) NewScan(table string, full *schema.Schema, projectedColumnNames []string, startKey, stopKey []byte, scanOpts scan.Options) (*scan.Scan, error) {
	if scanOpts.Log == nil {
		scanOpts.Log = c.opts.Log
	}
	return scan.New(c.cache, c.driver, table, full, projectedColumnNames, startKey, stopKey, scanOpts)
}

// Stats returns the MetaCache's per-call counters (SPEC_FULL.md §A.5).
func (c *Client) Stats() meta.Stats { return c.cache.Stats() }
