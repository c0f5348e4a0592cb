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

// Package mathx holds the small set of overflow-checked integer helpers the
// wire decoder and schema layout math need; adapted from erigon-lib's
// common/math integer helpers, trimmed to what this module exercises.
package mathx

import "math/bits"

// SafeMul returns x*y and whether the multiplication overflowed a uint64;
// tablet/wire uses this to validate num_rows*row_len against the rows
// sidecar's actual length without risking a silent wraparound on a
// corrupt/adversarial header.
func SafeMul(x, y uint64) (product uint64, overflow bool) {
	hi, lo := bits.Mul64(x, y)
	return lo, hi != 0
}

// CeilDiv computes ceil(x/y) for non-negative x and positive y, returning 0
// if y is 0; tablet/schema uses this for the trailing null bitmap's
// byte length (ceil(num_columns/8), spec §4.4/§6).
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}
