// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/ingress/comm"
	"github.com/grailbio/ingress/stats"
)

// Base holds the state shared by all strategies: the exchanges
// that carry placed vertex and edge records to their owners, and
// the Builder that receives them. Base itself implements Strategy
// by hashing: vertices are placed by their ID, and edges by their
// (source, target) pair. Strategies embed Base and override the
// decisions they make differently.
type Base struct {
	Comm    comm.Comm
	Builder Builder
	Options Options

	vertices, edges *comm.Exchange
	// present carries vertex IDs to their hash owners so that
	// distinct vertices can be counted when no vertex records are
	// placed.
	present         *comm.Exchange

	stats    *stats.Map
	sent     stats.Vector
	received *stats.Int

	// Accessed only by Finalize.
	nvertex, nedge int64
	replicas       map[VertexID]struct{}
}

// NewBase returns a Base for the process c, delivering records to
// b. NewBase registers the base exchanges on c, and so must be
// called on every process, before any process sends records.
func NewBase(c comm.Comm, b Builder, opts Options) *Base {
	base := &Base{
		Comm:     c,
		Builder:  b,
		Options:  opts,
		vertices: comm.NewExchange(c, "vertex", opts.BatchSize),
		edges:    comm.NewExchange(c, "edge", opts.BatchSize),
		present:  comm.NewExchange(c, "present", opts.BatchSize),
		stats:    stats.NewMap(),
		sent:     stats.NewVector(c.NumProcs()),
		replicas: make(map[VertexID]struct{}),
	}
	base.received = base.stats.Int("records.received")
	return base
}

// Stats returns a snapshot of the strategy's counters.
func (b *Base) Stats() stats.Values {
	return b.stats.Snapshot()
}

// AddVertex implements Strategy. The vertex is placed on the
// process given by its hash; each of its out-edges is placed by
// AddEdge.
func (b *Base) AddVertex(ctx context.Context, id VertexID, neighbors []VertexID, data []byte, thread int) error {
	owner := VertexOwner(id, b.Comm.NumProcs())
	if err := b.SendVertex(ctx, owner, VertexRecord{ID: id, Data: data}, thread); err != nil {
		return err
	}
	for _, dst := range neighbors {
		if dst == id {
			continue
		}
		if err := b.AddEdge(ctx, id, dst, nil, thread); err != nil {
			return err
		}
	}
	return nil
}

// AddEdge implements Strategy. The edge is placed by hashing its
// endpoints.
func (b *Base) AddEdge(ctx context.Context, src, dst VertexID, data []byte, thread int) error {
	owner := edgeOwner(src, dst, b.Comm.NumProcs())
	return b.SendEdge(ctx, owner, EdgeRecord{Source: src, Target: dst, Data: data}, thread)
}

// SendVertex forwards a placed vertex record to its owner.
func (b *Base) SendVertex(ctx context.Context, owner int, v VertexRecord, thread int) error {
	return b.vertices.Send(ctx, owner, v, thread)
}

// SendEdge forwards a placed edge record to its owner.
func (b *Base) SendEdge(ctx context.Context, owner int, e EdgeRecord, thread int) error {
	b.sent.Add(owner, 1)
	return b.edges.Send(ctx, owner, e, thread)
}

// Forward sends a vertex and all of its out-edges to owner. Self
// loops are not forwarded.
func (b *Base) Forward(ctx context.Context, owner int, id VertexID, neighbors []VertexID, data []byte, thread int) error {
	if err := b.SendVertex(ctx, owner, VertexRecord{ID: id, Data: data}, thread); err != nil {
		return err
	}
	for _, dst := range neighbors {
		if dst == id {
			continue
		}
		if err := b.SendEdge(ctx, owner, EdgeRecord{Source: id, Target: dst}, thread); err != nil {
			return err
		}
	}
	return nil
}

// Finalize implements Strategy. It delivers all buffered records,
// waits for every process to do the same, and then hands the
// records received by this process to its Builder.
func (b *Base) Finalize(ctx context.Context) error {
	start := time.Now()
	if err := b.vertices.Flush(ctx); err != nil {
		return err
	}
	if err := b.edges.Flush(ctx); err != nil {
		return err
	}
	if err := b.Comm.FullBarrier(ctx); err != nil {
		return err
	}
	var nvertex, nedge int
	for {
		batch, ok := b.vertices.Recv()
		if !ok {
			break
		}
		var records []VertexRecord
		if err := batch.Decode(&records); err != nil {
			return errors.E(fmt.Sprintf("ingress: vertex batch from %d", batch.Src), err)
		}
		for _, v := range records {
			b.Builder.AddVertex(v)
			b.replicas[v.ID] = struct{}{}
		}
		nvertex += len(records)
	}
	for {
		batch, ok := b.edges.Recv()
		if !ok {
			break
		}
		var records []EdgeRecord
		if err := batch.Decode(&records); err != nil {
			return errors.E(fmt.Sprintf("ingress: edge batch from %d", batch.Src), err)
		}
		for _, e := range records {
			b.Builder.AddEdge(e)
			b.replicas[e.Source] = struct{}{}
			b.replicas[e.Target] = struct{}{}
		}
		nedge += len(records)
	}
	b.nvertex += int64(nvertex)
	b.nedge += int64(nedge)
	b.received.Add(int64(nvertex + nedge))
	log.Debug.Printf("ingress: proc %d: received %d vertices, %d edges in %s",
		b.Comm.ProcID(), nvertex, nedge, time.Since(start))
	return b.Comm.Barrier(ctx)
}

// Report is a summary of a completed placement.
type Report struct {
	// Vertices is the number of vertices in the graph: the
	// configured vertex count if there is one, otherwise the number
	// of placed vertex records, otherwise the number of distinct
	// vertices named by placed edges (counted by their hash owner).
	Vertices int64
	// Edges is the number of placed edges.
	Edges int64
	// Replicas is the total number of vertex copies across all
	// processes: a vertex is present on a process if its record or
	// any of its edges is placed there.
	Replicas int64
	// ReplicationFactor is Replicas/Vertices.
	ReplicationFactor float64

	// LocalVertices and LocalEdges count the records placed on the
	// reporting process.
	LocalVertices, LocalEdges int64
	// SendImbalance is the ratio of the largest number of edges this
	// process sent to a single destination to the mean.
	SendImbalance float64
}

// String returns a one-line summary of the report.
func (r Report) String() string {
	return fmt.Sprintf("vertices=%d edges=%d replicas=%d rf=%.3f local_vertices=%d local_edges=%d send_imbalance=%.3f",
		r.Vertices, r.Edges, r.Replicas, r.ReplicationFactor, r.LocalVertices, r.LocalEdges, r.SendImbalance)
}

// Report implements Strategy.
func (b *Base) Report(ctx context.Context) (Report, error) {
	r := Report{
		LocalVertices: b.nvertex,
		LocalEdges:    b.nedge,
		SendImbalance: b.sent.Imbalance(),
	}
	var err error
	if r.Vertices, err = b.Comm.AllReduce(ctx, b.nvertex); err != nil {
		return r, err
	}
	if r.Edges, err = b.Comm.AllReduce(ctx, b.nedge); err != nil {
		return r, err
	}
	if r.Replicas, err = b.Comm.AllReduce(ctx, int64(len(b.replicas))); err != nil {
		return r, err
	}
	switch {
	case b.Options.NumVertices > 0:
		r.Vertices = b.Options.NumVertices
	case r.Vertices == 0 && r.Edges > 0:
		if r.Vertices, err = b.distinct(ctx); err != nil {
			return r, err
		}
	}
	if r.Vertices > 0 {
		r.ReplicationFactor = float64(r.Replicas) / float64(r.Vertices)
	}
	if b.Comm.ProcID() == 0 {
		log.Printf("ingress: %s: %s", b.Options.Strategy, r)
	}
	return r, nil
}

// distinct counts the distinct vertices present on any process.
// Each process sends the vertices it holds to their hash owners,
// which then count them without duplicates.
func (b *Base) distinct(ctx context.Context) (int64, error) {
	nprocs := b.Comm.NumProcs()
	for id := range b.replicas {
		if err := b.present.Send(ctx, VertexOwner(id, nprocs), id, 0); err != nil {
			return 0, err
		}
	}
	if err := b.present.Flush(ctx); err != nil {
		return 0, err
	}
	if err := b.Comm.FullBarrier(ctx); err != nil {
		return 0, err
	}
	seen := make(map[VertexID]struct{})
	for {
		batch, ok := b.present.Recv()
		if !ok {
			break
		}
		var ids []VertexID
		if err := batch.Decode(&ids); err != nil {
			return 0, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	return b.Comm.AllReduce(ctx, int64(len(seen)))
}
