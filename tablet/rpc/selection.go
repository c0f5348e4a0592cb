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

import (
	"math/rand"

	"github.com/erigontech/tablestore/tablet/meta"
)

// Selection picks which of a tablet's replicas are eligible for an
// attempt (spec §4.3).
type Selection int

const (
	// SelectionLeader makes only the current leader eligible. If the
	// tablet's leader designation is currently unknown, every live
	// replica is offered in list order. A successful reply does not record
	// a leader; only Tablet.SetLeader does.
	SelectionLeader Selection = iota
	// SelectionClosest prefers replicas on LocalHost, then falls back to
	// the rest in random order.
	SelectionClosest
)

// candidates orders t's replicas per sel, excluding any replica whose
// address is in dead.
func candidates(t *meta.Tablet, sel Selection, localHost string, dead map[string]bool) []*meta.Replica {
	replicas := t.Replicas()
	var eligible []*meta.Replica
	for _, r := range replicas {
		if r.KnownDead() || dead[r.Addr()] {
			continue
		}
		eligible = append(eligible, r)
	}

	switch sel {
	case SelectionLeader:
		if leader := t.Leader(); leader != nil {
			if !leader.KnownDead() && !dead[leader.Addr()] {
				return []*meta.Replica{leader}
			}
			return nil
		}
		return eligible
	case SelectionClosest:
		var local, rest []*meta.Replica
		for _, r := range eligible {
			if localHost != "" && r.Host == localHost {
				local = append(local, r)
			} else {
				rest = append(rest, r)
			}
		}
		rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		return append(local, rest...)
	default:
		return eligible
	}
}
