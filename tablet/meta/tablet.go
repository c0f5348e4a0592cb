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

// Package meta implements the MetaCache / TableLocations component (spec
// §4.2): the map from a primary-key byte string to the TabletEntry that
// covers it, fed by get-table-locations RPCs and invalidated by replica
// failure feedback from tablet/rpc.
package meta

import (
	"encoding/hex"
	"net"
	"strconv"
	"sync"
)

// TabletId is an opaque, stable tablet identifier; formattable as ASCII
// bytes for use directly in RPC payloads (spec §3).
type TabletId struct {
	raw []byte
}

func NewTabletId(raw []byte) TabletId { return TabletId{raw: append([]byte(nil), raw...)} }

func (id TabletId) Bytes() []byte { return append([]byte(nil), id.raw...) }
func (id TabletId) String() string {
	if isASCIIPrintable(id.raw) {
		return string(id.raw)
	}
	return hex.EncodeToString(id.raw)
}

func isASCIIPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// Role is a replica's standing within its tablet's consensus group.
type Role int

const (
	RoleUnknown Role = iota
	RoleLeader
	RoleFollower
	RoleLearner
)

// Replica describes one copy of a tablet on one tablet server. The
// known-dead flag is set and cleared by tablet/rpc as calls fail or
// succeed, and Role is changed by Tablet.SetLeader; both are guarded by
// the replica's own mutex. Identity fields (Host/Port) are immutable.
type Replica struct {
	Host string
	Port int

	mu        sync.RWMutex
	role      Role
	knownDead bool
}

func NewReplica(host string, port int, role Role) *Replica {
	return &Replica{Host: host, Port: port, role: role}
}

func (r *Replica) Role() Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

func (r *Replica) SetRole(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.role = role
}

func (r *Replica) KnownDead() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.knownDead
}

func (r *Replica) MarkDead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownDead = true
}

// MarkAlive clears the known-dead flag, called on a successful RPC so a
// replica that was transiently unreachable becomes eligible again.
func (r *Replica) MarkAlive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownDead = false
}

func (r *Replica) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Tablet is a contiguous primary-key range of a table, served by a
// replica set. Tablet is shared by reference across the MetaCache and
// every in-flight ReplicaRpc that targets it (spec §9): its identity
// fields are immutable, and its replica list and leader designation are
// guarded by mu so concurrent scans observe consistent replica health.
type Tablet struct {
	Id TabletId
	// LowerBound/UpperBound are KeyCodec-encoded; an empty bound means
	// -infinity (LowerBound) or +infinity (UpperBound).
	LowerBound []byte
	UpperBound []byte

	mu          sync.RWMutex
	replicas    []*Replica
	leaderIdx   int // -1 if unknown; consulted before scanning replicas
	leaderEpoch uint64
}

func NewTablet(id TabletId, lower, upper []byte, replicas []*Replica) *Tablet {
	t := &Tablet{Id: id, LowerBound: lower, UpperBound: upper, replicas: replicas, leaderIdx: -1}
	for i, r := range replicas {
		if r.Role() == RoleLeader {
			t.leaderIdx = i
			break
		}
	}
	return t
}

// Replicas returns a copy of the tablet's replica list; the *Replica
// values in it are shared with the tablet.
func (t *Tablet) Replicas() []*Replica {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Replica(nil), t.replicas...)
}

// Leader returns the replica last known to be the leader, per the small
// leader-cache described in SPEC_FULL.md §A.2, or nil if unknown.
func (t *Tablet) Leader() *Replica {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.leaderIdx < 0 || t.leaderIdx >= len(t.replicas) {
		return nil
	}
	return t.replicas[t.leaderIdx]
}

// InvalidateLeader clears the cached leader designation; called by
// tablet/rpc on a wrong-leader response. Afterwards Leader returns nil and
// SelectionLeader offers every live replica, until SetLeader records a
// leader again.
func (t *Tablet) InvalidateLeader() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaderIdx = -1
	t.leaderEpoch++
}

// SetLeader records replica r as the current leader.
func (t *Tablet) SetLeader(r *Replica) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.SetRole(RoleLeader)
	for i, rep := range t.replicas {
		if rep == r {
			t.leaderIdx = i
			return
		}
	}
}

// ContainsKey reports whether key falls in [LowerBound, UpperBound) under
// memcmp order, honoring the ±infinity convention for empty bounds.
func (t *Tablet) ContainsKey(key []byte) bool {
	if len(t.LowerBound) > 0 && bytesLess(key, t.LowerBound) {
		return false
	}
	if len(t.UpperBound) > 0 && !bytesLess(key, t.UpperBound) {
		return false
	}
	return true
}

func bytesLess(a, b []byte) bool {
	return compareBytes(a, b) < 0
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
