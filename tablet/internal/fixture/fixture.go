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

// Package fixture builds small, deterministic fake tables for tablet/scan's
// end-to-end tests, the way the teacher's tests/state_test_util.go builds
// fixed state fixtures from declarative descriptions rather than ad hoc
// literals scattered across test functions.
package fixture

import (
	"encoding/binary"
	"fmt"

	"github.com/erigontech/tablestore/tablet/internal/fakerpc"
	"github.com/erigontech/tablestore/tablet/keycodec"
	"github.com/erigontech/tablestore/tablet/schema"
)

// KeyValSchema is the (key int32 PK, val int32) schema used by the scan
// completeness fixtures.
func KeyValSchema() *schema.Schema {
	s, err := schema.New([]schema.Column{
		{Name: "key", Type: schema.Int32},
		{Name: "val", Type: schema.Int32},
	}, 1)
	if err != nil {
		panic(err) // fixture schema is a compile-time constant shape
	}
	return s
}

// KeyValCluster builds a fakerpc.Cluster holding numRows (key, key) pairs
// for key in [0, numRows), split across numTablets contiguous, equally
// sized key ranges. This stands in for the spec's "4 hash partitions"
// scan-completeness scenario: MetaCache itself only ever routes by range,
// so multiple disjoint tablets are what exercises the same tablet-crossing
// behavior regardless of how the server chose to partition them.
func KeyValCluster(numTablets, numRows, batchSize int) *fakerpc.Cluster {
	s := KeyValSchema()

	bounds := make([][]byte, numTablets+1)
	bounds[0] = nil
	bounds[numTablets] = nil
	perTablet := (numRows + numTablets - 1) / numTablets
	for i := 1; i < numTablets; i++ {
		boundary := i * perTablet
		key, err := keycodec.Encode(s, []keycodec.Value{keycodec.IntValue(int64(boundary))})
		if err != nil {
			panic(err)
		}
		bounds[i] = key
	}

	tablets := make([]*fakerpc.Tablet, numTablets)
	for i := 0; i < numTablets; i++ {
		lo, hi := i*perTablet, (i+1)*perTablet
		if hi > numRows {
			hi = numRows
		}
		var rows []fakerpc.Row
		for k := lo; k < hi; k++ {
			key, err := keycodec.Encode(s, []keycodec.Value{keycodec.IntValue(int64(k))})
			if err != nil {
				panic(err)
			}
			rows = append(rows, fakerpc.Row{Key: key, Wire: encodeKeyValRow(int32(k), int32(k))})
		}
		tablets[i] = &fakerpc.Tablet{
			ID:         []byte(fmt.Sprintf("tablet-%d", i)),
			LowerBound: bounds[i],
			UpperBound: bounds[i+1],
			Host:       fmt.Sprintf("fake-tablet-%d", i),
			Port:       1,
			Rows:       rows,
		}
	}
	return fakerpc.NewCluster("kv", batchSize, tablets)
}

func encodeKeyValRow(key, val int32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(key))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(val))
	return buf
}
