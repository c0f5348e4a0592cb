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

// Package hashpart implements the 64-bit Murmur2 variant used to sanity
// check hash-partitioning interop (spec §8). No pack dependency implements
// Murmur2 (only Murmur3, e.g. spaolacci/murmur3-style APIs elsewhere in the
// ecosystem), so this is a small hand-rolled implementation of the
// documented algorithm rather than a third-party import (see DESIGN.md).
package hashpart

const (
	m64 uint64 = 0xc6a4a7935bd1e995
	r64 uint = 47
)

// Murmur2_64 computes the 64-bit Murmur2 hash of data with the given seed,
// matching the variant this client's cluster uses for hash partitioning.
func Murmur2_64(data []byte, seed uint64) uint64 {
	h := seed ^ (uint64(len(data)) * m64)

	n := len(data) - len(data)%8
	for i := 0; i < n; i += 8 {
		k := leUint64(data[i : i+8])
		k *= m64
		k ^= k >> r64
		k *= m64

		h ^= k
		h *= m64
	}

	tail := data[n:]
	if len(tail) > 0 {
		var k uint64
		for i := len(tail) - 1; i >= 0; i-- {
			k = (k << 8) | uint64(tail[i])
		}
		h ^= k
		h *= m64
	}

	h ^= h >> r64
	h *= m64
	h ^= h >> r64
	return h
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
