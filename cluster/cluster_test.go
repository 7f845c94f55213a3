// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"bytes"
	"context"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/ingress"
	"github.com/grailbio/ingress/internal/trace"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// ringInputs returns a graph of n vertices, each linked to its next
// k vertices on a ring, split across nprocs inputs.
func ringInputs(n, k, nprocs int) []ingress.Input {
	inputs := make([]ingress.Input, nprocs)
	for v := 0; v < n; v++ {
		adj := ingress.Adjacency{ID: ingress.VertexID(v)}
		for j := 1; j <= k; j++ {
			adj.Neighbors = append(adj.Neighbors, ingress.VertexID((v+j)%n))
		}
		inputs[v%nprocs].Vertices = append(inputs[v%nprocs].Vertices, adj)
	}
	return inputs
}

func checkResult(t *testing.T, result *Result, nvertex, nedge int) {
	t.Helper()
	var vertices, edges int
	for i := range result.Vertices {
		vertices += result.Vertices[i]
		edges += result.Edges[i]
	}
	expect.EQ(t, vertices, nvertex)
	expect.EQ(t, edges, nedge)
	expect.EQ(t, result.Report.Vertices, int64(nvertex))
	expect.EQ(t, result.Report.Edges, int64(nedge))
	if rf := result.Report.ReplicationFactor; rf < 1 {
		t.Errorf("replication factor %v", rf)
	}
	if result.Stats["comm.sent"] == 0 {
		t.Error("no messages sent")
	}
}

func TestRunLocal(t *testing.T) {
	const (
		P = 4
		N = 200
		K = 3
	)
	for _, strategy := range []string{"random", "dbh", "ldg", "greedy"} {
		opts := ingress.DefaultOptions()
		opts.Strategy = strategy
		opts.NumVertices = N
		result, err := RunLocal(context.Background(), ringInputs(N, K, P), Config{
			Options: opts,
			Threads: 2,
			Status:  new(status.Status),
		})
		assert.NoError(t, err)
		checkResult(t, result, N, N*K)
	}
}

func TestTrace(t *testing.T) {
	const P = 3
	result, err := RunLocal(context.Background(), ringInputs(30, 2, P), Config{Options: ingress.DefaultOptions(), Threads: 1})
	assert.NoError(t, err)
	var b bytes.Buffer
	assert.NoError(t, result.WriteTrace(&b))
	var tr trace.T
	assert.NoError(t, tr.Decode(&b))
	phases := make(map[string]int)
	for _, e := range tr.Events {
		switch e.Ph {
		case "M":
			phases["meta"]++
		case "X":
			phases[e.Name]++
			if e.Dur <= 0 {
				t.Errorf("event %s: nonpositive duration %d", e.Name, e.Dur)
			}
		default:
			t.Errorf("unexpected event phase %q", e.Ph)
		}
	}
	expect.EQ(t, phases, map[string]int{"meta": P, "ingest": P, "finalize": P})
}

func TestRunLocalNoInputs(t *testing.T) {
	_, err := RunLocal(context.Background(), nil, Config{Options: ingress.DefaultOptions()})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestRun(t *testing.T) {
	const (
		P = 3
		N = 90
		K = 2
	)
	b := bigmachine.Start(testsystem.New())
	defer b.Shutdown()

	for _, strategy := range []string{"dbh", "ldg"} {
		opts := ingress.DefaultOptions()
		opts.Strategy = strategy
		opts.Threshold = 10
		opts.BatchSize = 8
		result, err := Run(context.Background(), b, ringInputs(N, K, P), Config{
			Options: opts,
			Threads: 2,
		})
		assert.NoError(t, err)
		checkResult(t, result, N, N*K)
		if strategy == "ldg" && result.Stats["ldg.broadcasts"] == 0 {
			t.Error("no placement broadcasts")
		}
		if strategy == "dbh" {
			expect.EQ(t, result.Stats["dbh.merges"], int64(P))
		}
	}
}

func TestSession(t *testing.T) {
	sess := Start(nil, 2, 1)
	defer sess.Shutdown()
	expect.EQ(t, sess.Procs(), 2)
	opts := ingress.DefaultOptions()
	if _, err := sess.Run(context.Background(), ringInputs(10, 1, 3), opts); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	result, err := sess.Run(context.Background(), ringInputs(10, 1, 2), opts)
	assert.NoError(t, err)
	checkResult(t, result, 10, 10)
}
