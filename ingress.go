// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"
	"sort"
	"sync"
)

// VertexID identifies a vertex in the global graph.
type VertexID uint64

// VertexRecord is a vertex together with its payload. Each vertex
// record is placed exactly once and forwarded to its owner.
type VertexRecord struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID   VertexID
	Data []byte
}

// EdgeRecord is a directed edge together with its payload. Each edge
// record is placed exactly once and forwarded to its owner.
type EdgeRecord struct {
	_msgpack struct{} `msgpack:",as_array"`

	Source, Target VertexID
	Data           []byte
}

// Adjacency is a vertex as delivered by a vertex-streaming loader:
// the vertex, its payload, and the targets of its out-edges.
type Adjacency struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID        VertexID
	Neighbors []VertexID
	Data      []byte
}

// A Builder consumes the records placed on a process. Builders
// stand in for the local graph representation; they are invoked
// only from Finalize, by a single goroutine.
type Builder interface {
	AddVertex(VertexRecord)
	AddEdge(EdgeRecord)
}

// A Strategy decides the owning process of each vertex and edge
// presented to it, and forwards the record to its owner. AddVertex
// and AddEdge may be called concurrently by the ingestion threads
// of a process; thread identifies the caller. Finalize and Report
// are collective: every process must call them, in the same order.
type Strategy interface {
	// AddVertex places the vertex id with the given out-neighbors
	// and payload.
	AddVertex(ctx context.Context, id VertexID, neighbors []VertexID, data []byte, thread int) error
	// AddEdge places the edge (src, dst) with the given payload.
	AddEdge(ctx context.Context, src, dst VertexID, data []byte, thread int) error
	// Finalize completes placement and hands every record owned by
	// this process to its Builder. Finalize may be called more than
	// once; later calls process records added since the last call.
	Finalize(ctx context.Context) error
	// Report returns cluster-wide placement statistics. Report
	// should be called after Finalize.
	Report(ctx context.Context) (Report, error)
}

// MemGraph is a Builder that keeps placed records in memory. It is
// safe for concurrent use.
type MemGraph struct {
	mu       sync.Mutex
	vertices map[VertexID][]byte
	edges    []EdgeRecord
}

// NewMemGraph returns an empty MemGraph.
func NewMemGraph() *MemGraph {
	return &MemGraph{vertices: make(map[VertexID][]byte)}
}

// AddVertex implements Builder.
func (g *MemGraph) AddVertex(v VertexRecord) {
	g.mu.Lock()
	g.vertices[v.ID] = v.Data
	g.mu.Unlock()
}

// AddEdge implements Builder.
func (g *MemGraph) AddEdge(e EdgeRecord) {
	g.mu.Lock()
	g.edges = append(g.edges, e)
	g.mu.Unlock()
}

// HasVertex tells whether the vertex id was placed on this graph.
func (g *MemGraph) HasVertex(id VertexID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.vertices[id]
	return ok
}

// Vertices returns the IDs of the vertices placed on this graph, in
// ascending order.
func (g *MemGraph) Vertices() []VertexID {
	g.mu.Lock()
	ids := make([]VertexID, 0, len(g.vertices))
	for id := range g.vertices {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Edges returns the edges placed on this graph, in arrival order.
func (g *MemGraph) Edges() []EdgeRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]EdgeRecord(nil), g.edges...)
}

// NumVertices returns the number of vertices placed on this graph.
func (g *MemGraph) NumVertices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.vertices)
}

// NumEdges returns the number of edges placed on this graph.
func (g *MemGraph) NumEdges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}
