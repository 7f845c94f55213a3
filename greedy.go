// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"
	"sync"

	"github.com/grailbio/ingress/comm"
)

// Greedy is a local-only approximation of LDG. Each process keeps
// its own record of the vertices it has placed on each partition,
// and scores partitions against that record alone. No placement
// decisions are exchanged between processes.
type Greedy struct {
	*Base

	mu         sync.Mutex
	partitions []map[VertexID]struct{}
	capacity   int64
}

// NewGreedy returns a local greedy strategy. opts.Capacity bounds
// the number of vertices each process expects to place on a
// partition; zero means unconstrained.
func NewGreedy(c comm.Comm, b Builder, opts Options) *Greedy {
	g := &Greedy{
		Base:       NewBase(c, b, opts),
		partitions: make([]map[VertexID]struct{}, c.NumProcs()),
		capacity:   opts.Capacity,
	}
	for i := range g.partitions {
		g.partitions[i] = make(map[VertexID]struct{})
	}
	return g
}

// AddVertex implements Strategy.
func (g *Greedy) AddVertex(ctx context.Context, id VertexID, neighbors []VertexID, data []byte, thread int) error {
	g.mu.Lock()
	owner := g.choose(neighbors)
	g.partitions[owner][id] = struct{}{}
	g.mu.Unlock()
	return g.Forward(ctx, owner, id, neighbors, data, thread)
}

// choose scores each partition by the number of neighbors recorded
// there, times the partition's penalty, and returns the first
// partition with the highest score. g.mu must be held.
func (g *Greedy) choose(neighbors []VertexID) int {
	var (
		best      int
		bestScore float64
	)
	for i, placed := range g.partitions {
		var n float64
		for _, v := range neighbors {
			if _, ok := placed[v]; ok {
				n++
			}
		}
		penalty := 1.0
		if g.capacity > 0 {
			penalty = 1 - float64(len(placed))/float64(g.capacity)
		}
		if score := n * penalty; i == 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// Local returns the number of vertices this process has placed on
// each partition.
func (g *Greedy) Local() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := make([]int, len(g.partitions))
	for i, placed := range g.partitions {
		n[i] = len(placed)
	}
	return n
}
