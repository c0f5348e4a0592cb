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

package rpc

import "time"

// SpeculationKind controls whether and how ReplicaRpc races an attempt
// against a slow reply before it fails (spec §4.3).
type SpeculationKind int

const (
	// SpecNone is purely sequential: the next candidate is only tried
	// after the current one fails.
	SpecNone SpeculationKind = iota
	// SpecFull starts the next candidate as soon as PerAttemptTimeout
	// elapses without a reply, re-arming after every such timeout, until
	// candidates are exhausted. The first reply to arrive wins.
	SpecFull
	// SpecStaggered starts exactly one extra, parallel attempt after
	// Stagger elapses without a reply.
	SpecStaggered
)

// Speculation is a value describing one of the SpeculationKind variants;
// Stagger is only meaningful for SpecStaggered.
type Speculation struct {
	Kind    SpeculationKind
	Stagger time.Duration
}

func NoSpeculation() Speculation   { return Speculation{Kind: SpecNone} }
func FullSpeculation() Speculation { return Speculation{Kind: SpecFull} }
func StaggeredSpeculation(d time.Duration) Speculation {
	return Speculation{Kind: SpecStaggered, Stagger: d}
}
