// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/ingress/comm"
	"github.com/grailbio/ingress/stats"
)

// LDG implements linear deterministic greedy streaming placement.
// Each vertex is placed, together with its out-edges, on the
// partition that already holds most of its neighbors, discounted by
// how full that partition is. Decisions are recorded in a placement
// table that every process replicates: local decisions are buffered
// and broadcast to the other processes in batches, so that the
// tables are eventually, not synchronously, consistent.
type LDG struct {
	*Base

	table *PlacementTable
	buf   placementBuffer
	// capacity is the vertex capacity of each partition, or 0 if it
	// is unconstrained.
	capacity float64

	broadcasts, merged *stats.Int
}

// NewLDG returns an LDG strategy. The capacity of each partition is
// (opts.NumVertices/P)*(1+opts.Slack); if the number of vertices is
// not known, partitions are unconstrained.
func NewLDG(c comm.Comm, b Builder, opts Options) *LDG {
	l := &LDG{
		Base:  NewBase(c, b, opts),
		table: NewPlacementTable(c.NumProcs()),
		buf:   placementBuffer{threshold: opts.Threshold},
	}
	if opts.NumVertices > 0 {
		l.capacity = float64(opts.NumVertices) / float64(c.NumProcs()) * (1 + opts.Slack)
	}
	l.broadcasts = l.stats.Int("ldg.broadcasts")
	l.merged = l.stats.Int("ldg.merged")
	c.Handle("ldg.placements", l.mergePlacements)
	return l
}

// Table returns the process's replica of the placement table.
func (l *LDG) Table() *PlacementTable {
	return l.table
}

// AddVertex implements Strategy.
func (l *LDG) AddVertex(ctx context.Context, id VertexID, neighbors []VertexID, data []byte, thread int) error {
	owner, placed := l.table.Assign(id, l.choose(neighbors))
	if placed {
		if batch := l.buf.Add(Placement{Vertex: id, Owner: owner}); batch != nil {
			if err := l.broadcast(ctx, batch); err != nil {
				return err
			}
		}
	}
	return l.Forward(ctx, owner, id, neighbors, data, thread)
}

// choose returns the partition with the highest score for a vertex
// with the provided neighbors. Partitions at capacity are not
// considered unless all of them are, in which case the least
// occupied partition is chosen. Ties go to the lowest partition.
func (l *LDG) choose(neighbors []VertexID) int {
	scores := make([]float64, l.Comm.NumProcs())
	counts := l.table.Neighbors(neighbors, scores)
	return argmaxScore(scores, counts, l.capacity)
}

// argmaxScore scales each partition's neighbor count in scores by
// its remaining capacity and returns the best partition.
func argmaxScore(scores []float64, counts []int64, capacity float64) int {
	best := -1
	for i := range scores {
		if capacity > 0 {
			if float64(counts[i]) >= capacity {
				continue
			}
			scores[i] *= 1 - float64(counts[i])/capacity
		}
		if best < 0 || scores[i] > scores[best] {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	best = 0
	for i := range counts {
		if counts[i] < counts[best] {
			best = i
		}
	}
	return best
}

// AddEdge implements Strategy. Edges streamed on their own are
// placed on the owner of their source, if it is known, and by
// hashing otherwise.
func (l *LDG) AddEdge(ctx context.Context, src, dst VertexID, data []byte, thread int) error {
	owner, ok := l.table.Lookup(src)
	if !ok {
		return l.Base.AddEdge(ctx, src, dst, data, thread)
	}
	return l.SendEdge(ctx, owner, EdgeRecord{Source: src, Target: dst, Data: data}, thread)
}

func (l *LDG) broadcast(ctx context.Context, batch []Placement) error {
	l.broadcasts.Add(1)
	me := l.Comm.ProcID()
	for dest := 0; dest < l.Comm.NumProcs(); dest++ {
		if dest == me {
			continue
		}
		if err := l.Comm.RemoteCall(ctx, dest, "ldg.placements", batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *LDG) mergePlacements(src int, payload []byte) error {
	var batch []Placement
	if err := comm.Decode(payload, &batch); err != nil {
		return errors.E(fmt.Sprintf("ldg: placements from %d", src), err)
	}
	n := l.table.Merge(batch)
	l.merged.Add(int64(n))
	if n < len(batch) {
		log.Debug.Printf("ldg: proc %d: ignored %d of %d placements from %d",
			l.Comm.ProcID(), len(batch)-n, len(batch), src)
	}
	return nil
}

// Finalize implements Strategy. Buffered placement decisions are
// broadcast before the records are delivered, so that every table
// replica is complete once Finalize returns.
func (l *LDG) Finalize(ctx context.Context) error {
	if batch := l.buf.Take(); len(batch) > 0 {
		if err := l.broadcast(ctx, batch); err != nil {
			return err
		}
	}
	return l.Base.Finalize(ctx)
}
