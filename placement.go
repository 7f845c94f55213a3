// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"sync"
)

// Placement records that a vertex is owned by a process.
type Placement struct {
	_msgpack struct{} `msgpack:",as_array"`

	Vertex VertexID
	Owner  int
}

// A PlacementTable maps vertices to their owning processes, and
// counts the vertices placed on each process. Entries are written
// once: the owner of a vertex never changes after it is first
// recorded, whether by a local decision or by a merge of decisions
// made elsewhere. Lookups may proceed concurrently; writes are
// exclusive with all other access.
type PlacementTable struct {
	mu     sync.RWMutex
	owners map[VertexID]int
	counts []int64
}

// NewPlacementTable returns an empty table for nprocs processes.
func NewPlacementTable(nprocs int) *PlacementTable {
	return &PlacementTable{
		owners: make(map[VertexID]int),
		counts: make([]int64, nprocs),
	}
}

// Lookup returns the owner of vertex v, if it has been placed.
func (t *PlacementTable) Lookup(v VertexID) (owner int, ok bool) {
	t.mu.RLock()
	owner, ok = t.owners[v]
	t.mu.RUnlock()
	return
}

// Neighbors counts, for each process, the number of vertices in
// adj that are placed on that process, adding the counts into
// neighbors. It returns a snapshot of the per-process vertex
// counts taken under the same read lock.
func (t *PlacementTable) Neighbors(adj []VertexID, neighbors []float64) (counts []int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range adj {
		if owner, ok := t.owners[v]; ok {
			neighbors[owner]++
		}
	}
	return append([]int64(nil), t.counts...)
}

// Assign records owner as the owner of v, unless v is already
// placed. It returns the recorded owner, and whether this call
// placed the vertex.
func (t *PlacementTable) Assign(v VertexID, owner int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.owners[v]; ok {
		return prev, false
	}
	t.owners[v] = owner
	t.counts[owner]++
	return owner, true
}

// Merge records a batch of placements made elsewhere. Placements
// for vertices that are already placed are ignored. Merge returns
// the number of placements that were recorded.
func (t *PlacementTable) Merge(batch []Placement) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, p := range batch {
		if _, ok := t.owners[p.Vertex]; ok {
			continue
		}
		if p.Owner < 0 || p.Owner >= len(t.counts) {
			continue
		}
		t.owners[p.Vertex] = p.Owner
		t.counts[p.Owner]++
		n++
	}
	return n
}

// Counts returns the number of vertices placed on each process.
func (t *PlacementTable) Counts() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]int64(nil), t.counts...)
}

// Len returns the number of placed vertices.
func (t *PlacementTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.owners)
}

// A placementBuffer accumulates recent placement decisions until
// there are enough of them to be worth broadcasting.
type placementBuffer struct {
	mu        sync.Mutex
	threshold int
	pending   []Placement
}

// Add appends p to the buffer. If the buffer has reached its
// threshold, Add returns its contents and resets it; the caller is
// then responsible for broadcasting them.
func (b *placementBuffer) Add(p Placement) []Placement {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, p)
	if len(b.pending) < b.threshold {
		return nil
	}
	full := b.pending
	b.pending = nil
	return full
}

// Take returns the buffer's contents and resets it.
func (b *placementBuffer) Take() []Placement {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.pending
	b.pending = nil
	return pending
}

// Len returns the number of buffered placements.
func (b *placementBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
