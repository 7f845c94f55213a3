// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func writeLookupTable(t *testing.T, graph []Adjacency, nprocs int) string {
	t.Helper()
	var b strings.Builder
	for _, v := range graph {
		fmt.Fprintf(&b, "%d %d\n", v.ID, int(v.ID)%nprocs)
	}
	path := filepath.Join(t.TempDir(), "lookup.txt")
	assert.NoError(t, ioutil.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func TestSingleOwner(t *testing.T) {
	const (
		P = 3
		N = 500
	)
	graph := randomGraph(1, N, 8)
	for _, strategy := range []string{"random", "dbh", "ldg", "lookup", "greedy"} {
		t.Run(strategy, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Strategy = strategy
			opts.Threshold = 50
			opts.BatchSize = 16
			if strategy == "lookup" {
				opts.LookupPath = writeLookupTable(t, graph, P)
			}
			c := newTestCluster(t, P, opts)
			defer c.Close()
			c.Load(t, split(graph, P), 4)

			owners := make(map[VertexID]int)
			var nedge int
			for i, g := range c.graphs {
				for _, id := range g.Vertices() {
					if prev, ok := owners[id]; ok {
						t.Errorf("vertex %d placed on %d and %d", id, prev, i)
					}
					owners[id] = i
				}
				nedge += g.NumEdges()
			}
			expect.EQ(t, len(owners), N)
			expect.EQ(t, nedge, numEdges(graph))

			if strategy == "lookup" {
				for id, owner := range owners {
					if want := int(id) % P; owner != want {
						t.Errorf("vertex %d: got owner %d, want %d", id, owner, want)
					}
				}
			}
			if strategy == "ldg" {
				// Vertex-streaming strategies place a vertex's edges with
				// the vertex.
				for i, g := range c.graphs {
					for _, e := range g.Edges() {
						if owners[e.Source] != i {
							t.Errorf("edge %d->%d placed on %d, but its source on %d", e.Source, e.Target, i, owners[e.Source])
						}
					}
				}
				// Every table replica converges.
				for i, s := range c.strategies {
					if got, want := s.(*LDG).Table().Len(), N; got != want {
						t.Errorf("proc %d: table has %d entries, want %d", i, got, want)
					}
				}
			}

			reports := make([]Report, P)
			c.Run(t, func(i int, s Strategy) (err error) {
				reports[i], err = s.Report(context.Background())
				return
			})
			r := reports[0]
			expect.EQ(t, r.Vertices, int64(N))
			expect.EQ(t, r.Edges, int64(numEdges(graph)))
			if r.Replicas < r.Vertices {
				t.Errorf("%d replicas of %d vertices", r.Replicas, r.Vertices)
			}
			if r.ReplicationFactor < 1 || r.ReplicationFactor > P {
				t.Errorf("replication factor %v out of range", r.ReplicationFactor)
			}
			for i := 1; i < P; i++ {
				expect.EQ(t, reports[i].Replicas, r.Replicas)
			}
		})
	}
}

func TestEdgeStreaming(t *testing.T) {
	const P = 4
	for _, strategy := range []string{"random", "dbh", "ldg", "greedy"} {
		t.Run(strategy, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Strategy = strategy
			c := newTestCluster(t, P, opts)
			defer c.Close()
			inputs := make([]Input, P)
			var nedge int
			for src := 0; src < 100; src++ {
				for dst := src + 1; dst < src+4; dst++ {
					inputs[src%P].Edges = append(inputs[src%P].Edges,
						EdgeRecord{Source: VertexID(src), Target: VertexID(dst)})
					nedge++
				}
			}
			c.Load(t, inputs, 2)
			var got int
			for _, g := range c.graphs {
				got += g.NumEdges()
				expect.EQ(t, g.NumVertices(), 0)
			}
			expect.EQ(t, got, nedge)

			reports := make([]Report, P)
			c.Run(t, func(i int, s Strategy) (err error) {
				reports[i], err = s.Report(context.Background())
				return
			})
			// Vertices 0 through 102 are named by edges.
			expect.EQ(t, reports[0].Vertices, int64(103))
			expect.EQ(t, reports[0].Edges, int64(nedge))
		})
	}
}

func TestReportSingleProc(t *testing.T) {
	opts := DefaultOptions()
	c := newTestCluster(t, 1, opts)
	defer c.Close()
	graph := randomGraph(2, 100, 4)
	c.Load(t, split(graph, 1), 1)
	r, err := c.strategies[0].Report(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, r.ReplicationFactor, 1.0)
	expect.EQ(t, r.LocalVertices, int64(100))
}

func TestDBHRouting(t *testing.T) {
	const (
		P = 4
		A = VertexID(1)
		B = VertexID(6)
	)
	opts := DefaultOptions()
	opts.Strategy = "dbh"
	c := newTestCluster(t, P, opts)
	defer c.Close()
	inputs := make([]Input, P)
	inputs[0].Vertices = []Adjacency{{ID: A, Neighbors: []VertexID{2, 3, 4, 5, B}}}
	inputs[1].Vertices = []Adjacency{{ID: B, Neighbors: []VertexID{A}}}
	inputs[2].Edges = []EdgeRecord{{Source: 7, Target: 8}}
	c.Load(t, inputs, 1)

	for i, s := range c.strategies {
		d := s.(*DBH)
		deg, ok := d.Degree(A)
		expect.EQ(t, ok, true)
		expect.EQ(t, deg, int64(5))
		deg, ok = d.Degree(B)
		expect.EQ(t, ok, true)
		expect.EQ(t, deg, int64(1))
		if deg, _ := d.Degree(8); deg != 0 {
			t.Errorf("proc %d: vertex 8 has degree %d", i, deg)
		}
	}
	want := VertexOwner(A, P)
	var found int
	for i, g := range c.graphs {
		for _, e := range g.Edges() {
			if (e.Source == A && e.Target == B) || (e.Source == B && e.Target == A) {
				found++
				if i != want {
					t.Errorf("edge %d->%d placed on %d, want %d", e.Source, e.Target, i, want)
				}
			}
			if e.Source == A && i != want {
				t.Errorf("edge %d->%d placed on %d, want %d", e.Source, e.Target, i, want)
			}
		}
	}
	expect.EQ(t, found, 2)
}

func TestDBHFinalizeSkip(t *testing.T) {
	const P = 3
	opts := DefaultOptions()
	opts.Strategy = "dbh"
	c := newTestCluster(t, P, opts)
	defer c.Close()
	graph := randomGraph(3, 60, 5)
	c.Load(t, split(graph, P), 2)
	ctx := context.Background()
	c.Run(t, func(i int, s Strategy) error {
		return s.Finalize(ctx)
	})
	for i, s := range c.strategies {
		if got, want := s.(*DBH).Stats()["dbh.merges"], int64(1); got != want {
			t.Errorf("proc %d: got %d merges, want %d", i, got, want)
		}
	}
	// New edges trigger a new merge, which accumulates degrees.
	c.Run(t, func(i int, s Strategy) error {
		if i == 0 {
			if err := s.AddEdge(ctx, 0, 1, nil, 0); err != nil {
				return err
			}
		}
		return s.Finalize(ctx)
	})
	var before int64
	for _, v := range graph[0].Neighbors {
		if v != 0 {
			before++
		}
	}
	for i, s := range c.strategies {
		d := s.(*DBH)
		expect.EQ(t, d.Stats()["dbh.merges"], int64(2))
		if deg, _ := d.Degree(0); deg != before+1 {
			t.Errorf("proc %d: vertex 0 has degree %d, want %d", i, deg, before+1)
		}
	}
	var nedge int
	for _, g := range c.graphs {
		nedge += g.NumEdges()
	}
	expect.EQ(t, nedge, numEdges(graph)+1)
}

func TestDBHVertexRange(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategy = "dbh"
	opts.NumVertices = 10
	c := newTestCluster(t, 1, opts)
	defer c.Close()
	ctx := context.Background()
	assert.NoError(t, c.strategies[0].AddEdge(ctx, 9, 0, nil, 0))
	err := c.strategies[0].AddEdge(ctx, 3, 10, nil, 0)
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestDBHMissingDegree(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategy = "dbh"
	c := newTestCluster(t, 1, opts)
	defer c.Close()
	ctx := context.Background()
	d := c.strategies[0].(*DBH)
	// Stage an edge without counting it.
	assert.NoError(t, d.staged.Send(ctx, 0, EdgeRecord{Source: 100, Target: 1}, 0))
	err := d.Finalize(ctx)
	if !errors.Is(errors.Integrity, err) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	expect.EQ(t, errors.Recover(err).Severity, errors.Fatal)
}

func TestLDGTies(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategy = "ldg"
	c := newTestCluster(t, 3, opts)
	defer c.Close()
	ctx := context.Background()
	l := c.strategies[1].(*LDG)
	assert.NoError(t, l.AddVertex(ctx, 1, []VertexID{10, 11}, nil, 0))
	assert.NoError(t, l.AddVertex(ctx, 2, []VertexID{20}, nil, 0))
	for _, id := range []VertexID{1, 2} {
		owner, ok := l.Table().Lookup(id)
		expect.EQ(t, ok, true)
		expect.EQ(t, owner, 0)
	}
}

func TestLDGCapacity(t *testing.T) {
	// Partition 0 is full; its score of zero ties with partition 1's,
	// but it is not eligible.
	expect.EQ(t, argmaxScore([]float64{1, 0}, []int64{10, 3}, 10), 1)
	expect.EQ(t, argmaxScore([]float64{1, 0, 0}, []int64{10, 10, 4}, 10), 2)
	// All partitions are full: the least occupied wins.
	expect.EQ(t, argmaxScore([]float64{3, 1}, []int64{11, 10}, 10), 1)
	// Unconstrained partitions are scored by neighbors alone.
	expect.EQ(t, argmaxScore([]float64{1, 2}, []int64{100, 0}, 0), 1)
	expect.EQ(t, argmaxScore([]float64{2, 2}, []int64{100, 0}, 0), 0)

	opts := DefaultOptions()
	opts.Strategy = "ldg"
	opts.NumVertices = 20
	opts.Slack = 0
	c := newTestCluster(t, 2, opts)
	defer c.Close()
	l := c.strategies[0].(*LDG)
	var full []Placement
	for v := VertexID(100); v < 110; v++ {
		full = append(full, Placement{Vertex: v, Owner: 0})
	}
	expect.EQ(t, l.Table().Merge(full), 10)
	ctx := context.Background()
	assert.NoError(t, l.AddVertex(ctx, 1, []VertexID{100}, nil, 0))
	owner, _ := l.Table().Lookup(1)
	expect.EQ(t, owner, 1)
}

func TestPlacementBuffer(t *testing.T) {
	const (
		P         = 3
		threshold = 4
	)
	opts := DefaultOptions()
	opts.Strategy = "ldg"
	opts.Threshold = threshold
	c := newTestCluster(t, P, opts)
	defer c.Close()
	ctx := context.Background()
	l := c.strategies[0].(*LDG)
	for v := VertexID(0); v < threshold-1; v++ {
		assert.NoError(t, l.AddVertex(ctx, v, nil, nil, 0))
	}
	expect.EQ(t, l.buf.Len(), threshold-1)
	expect.EQ(t, l.Stats()["ldg.broadcasts"], int64(0))
	assert.NoError(t, l.AddVertex(ctx, threshold-1, nil, nil, 0))
	expect.EQ(t, l.buf.Len(), 0)
	expect.EQ(t, l.Stats()["ldg.broadcasts"], int64(1))

	c.Run(t, func(i int, s Strategy) error {
		return c.procs[i].FullBarrier(ctx)
	})
	for i := 1; i < P; i++ {
		other := c.strategies[i].(*LDG)
		expect.EQ(t, other.Table().Len(), threshold)
		expect.EQ(t, other.Stats()["ldg.merged"], int64(threshold))
	}
}

func TestLookupMissing(t *testing.T) {
	const P = 2
	path := filepath.Join(t.TempDir(), "table")
	table := "1 1\n\n2 0\nbogus line here\n3 x\n4 7\n5\t1\n"
	assert.NoError(t, ioutil.WriteFile(path, []byte(table), 0644))

	f, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	parsed, skipped, err := ReadLookupTable(strings.NewReader(string(f)), P)
	assert.NoError(t, err)
	expect.EQ(t, parsed.Len(), 3)
	expect.EQ(t, skipped, 3)

	opts := DefaultOptions()
	opts.Strategy = "lookup"
	opts.LookupPath = path
	c := newTestCluster(t, P, opts)
	defer c.Close()
	inputs := make([]Input, P)
	inputs[1].Vertices = []Adjacency{
		{ID: 1, Neighbors: []VertexID{2}},
		{ID: 9, Neighbors: []VertexID{1}},
		{ID: 5},
	}
	inputs[0].Vertices = []Adjacency{{ID: 8}}
	c.Load(t, inputs, 1)

	expect.EQ(t, c.strategies[0].(*Lookup).Missing(), int64(1))
	expect.EQ(t, c.strategies[1].(*Lookup).Missing(), int64(1))
	expect.EQ(t, c.graphs[0].Vertices(), []VertexID{8, 9})
	expect.EQ(t, c.graphs[1].Vertices(), []VertexID{1, 5})
	expect.EQ(t, c.graphs[0].NumEdges(), 1)
	expect.EQ(t, c.graphs[1].NumEdges(), 1)
}

func TestLookupNoTable(t *testing.T) {
	if _, err := LoadLookupTable(context.Background(), filepath.Join(t.TempDir(), "missing"), 2); err == nil {
		t.Error("expected error")
	}
}

func TestGreedy(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategy = "greedy"
	c := newTestCluster(t, 3, opts)
	defer c.Close()
	ctx := context.Background()
	g := c.strategies[2].(*Greedy)
	// With no local placements, every vertex ties at partition 0.
	assert.NoError(t, g.AddVertex(ctx, 1, []VertexID{2}, nil, 0))
	assert.NoError(t, g.AddVertex(ctx, 2, []VertexID{1}, nil, 0))
	expect.EQ(t, g.Local(), []int{2, 0, 0})

	// A partition over capacity scores negatively.
	g.capacity = 1
	g.partitions[1][50] = struct{}{}
	expect.EQ(t, g.choose([]VertexID{1, 50}), 1)
	g.partitions[1][51] = struct{}{}
	g.partitions[1][52] = struct{}{}
	// Partition 0: 1*(1-2) = -1; partition 1: 1*(1-3) = -2;
	// partition 2: 0.
	expect.EQ(t, g.choose([]VertexID{1, 50}), 2)
}
