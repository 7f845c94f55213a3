// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/ingress/comm"
	"github.com/grailbio/ingress/stats"
)

// DBH implements degree-based hashing. Each edge is placed on the
// hash owner of whichever of its endpoints has the larger global
// out-degree, the source winning ties, so that the edges of high
// degree vertices are spread across the cluster while low degree
// vertices stay whole.
//
// Global degrees are not known while edges stream in, so DBH works
// in phases. While ingesting, it counts the out-degree of each
// source vertex locally and stages the edge on the hash owner of
// its source. Finalize then sums the degree counts at process 0,
// broadcasts the sums back, and reassigns every staged edge to its
// final owner.
type DBH struct {
	*Base

	staged *comm.Exchange

	mu sync.Mutex
	// local holds the degree counts accumulated since the last
	// merge; global holds the merged counts.
	local, global []int64
	// fixed is set when the vertex count is known in advance; the
	// degree vectors are then never grown.
	fixed bool

	merges *stats.Int
}

// NewDBH returns a degree-based hashing strategy. If opts.NumVertices
// is set, degree vectors are allocated up front and vertex IDs must
// be smaller than it.
func NewDBH(c comm.Comm, b Builder, opts Options) *DBH {
	d := &DBH{
		Base:   NewBase(c, b, opts),
		staged: comm.NewExchange(c, "dbh.staged", opts.BatchSize),
	}
	if opts.NumVertices > 0 {
		d.local = make([]int64, opts.NumVertices)
		d.global = make([]int64, opts.NumVertices)
		d.fixed = true
	}
	d.merges = d.stats.Int("dbh.merges")
	c.Handle("dbh.degrees", d.addDegrees)
	c.Handle("dbh.global", d.setDegrees)
	return d
}

// AddVertex implements Strategy. The vertex record is placed by its
// hash; its out-edges are placed as by AddEdge.
func (d *DBH) AddVertex(ctx context.Context, id VertexID, neighbors []VertexID, data []byte, thread int) error {
	if err := d.SendVertex(ctx, VertexOwner(id, d.Comm.NumProcs()), VertexRecord{ID: id, Data: data}, thread); err != nil {
		return err
	}
	for _, dst := range neighbors {
		if dst == id {
			continue
		}
		if err := d.AddEdge(ctx, id, dst, nil, thread); err != nil {
			return err
		}
	}
	return nil
}

// AddEdge implements Strategy. It counts the edge toward the degree
// of src and stages the edge until Finalize.
func (d *DBH) AddEdge(ctx context.Context, src, dst VertexID, data []byte, thread int) error {
	if err := d.count(src, dst); err != nil {
		return err
	}
	owner := VertexOwner(src, d.Comm.NumProcs())
	return d.staged.Send(ctx, owner, EdgeRecord{Source: src, Target: dst, Data: data}, thread)
}

// count increments the local degree of src, making sure that both
// endpoints have a degree slot.
func (d *DBH) count(src, dst VertexID) error {
	max := src
	if dst > max {
		max = dst
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := uint64(len(d.local)); uint64(max) >= n {
		if d.fixed {
			return errors.E(errors.Invalid, fmt.Sprintf("dbh: vertex %d out of range (%d vertices)", max, n))
		}
		d.local = grow(d.local, int(max)+1)
	}
	d.local[src]++
	return nil
}

// Finalize implements Strategy. If no process has staged edges since
// the last call, the degree merge and reassignment are skipped.
func (d *DBH) Finalize(ctx context.Context) error {
	if err := d.staged.Flush(ctx); err != nil {
		return err
	}
	if err := d.Comm.FullBarrier(ctx); err != nil {
		return err
	}
	n, err := d.Comm.AllReduce(ctx, int64(d.staged.Size()))
	if err != nil {
		return err
	}
	if n > 0 {
		if err := d.merge(ctx); err != nil {
			return err
		}
		if err := d.assignEdges(ctx); err != nil {
			return err
		}
	}
	return d.Base.Finalize(ctx)
}

// merge sums the local degree counts of every process into the
// global degree vector, which is then replicated on every process.
// Full barriers separate the rounds, so that no process reads the
// global vector before it is complete.
func (d *DBH) merge(ctx context.Context) error {
	d.merges.Add(1)
	me := d.Comm.ProcID()
	d.mu.Lock()
	local := d.local
	d.local = make([]int64, len(local))
	d.mu.Unlock()
	if me != 0 {
		if err := d.Comm.RemoteCall(ctx, 0, "dbh.degrees", local); err != nil {
			return err
		}
	} else {
		d.mu.Lock()
		d.sum(local)
		d.mu.Unlock()
	}
	if err := d.Comm.FullBarrier(ctx); err != nil {
		return errors.E(fmt.Sprintf("dbh: proc %d: gathering degrees", me), err)
	}
	if me == 0 {
		d.mu.Lock()
		global := append([]int64(nil), d.global...)
		d.mu.Unlock()
		for dest := 1; dest < d.Comm.NumProcs(); dest++ {
			if err := d.Comm.RemoteCall(ctx, dest, "dbh.global", global); err != nil {
				return err
			}
		}
	}
	if err := d.Comm.FullBarrier(ctx); err != nil {
		return errors.E(fmt.Sprintf("dbh: proc %d: broadcasting degrees", me), err)
	}
	log.Debug.Printf("dbh: proc %d: merged degrees of %d vertices", me, len(d.global))
	return nil
}

// sum adds degrees into the global vector. d.mu must be held.
func (d *DBH) sum(degrees []int64) {
	if len(degrees) > len(d.global) {
		d.global = grow(d.global, len(degrees))
	}
	for i, n := range degrees {
		d.global[i] += n
	}
}

func (d *DBH) addDegrees(src int, payload []byte) error {
	var degrees []int64
	if err := comm.Decode(payload, &degrees); err != nil {
		return errors.E(fmt.Sprintf("dbh: degrees from %d", src), err)
	}
	d.mu.Lock()
	d.sum(degrees)
	d.mu.Unlock()
	return nil
}

func (d *DBH) setDegrees(src int, payload []byte) error {
	var degrees []int64
	if err := comm.Decode(payload, &degrees); err != nil {
		return errors.E(fmt.Sprintf("dbh: global degrees from %d", src), err)
	}
	d.mu.Lock()
	d.global = degrees
	if len(d.local) < len(degrees) && !d.fixed {
		d.local = grow(d.local, len(degrees))
	}
	d.mu.Unlock()
	return nil
}

// Degree returns the merged global out-degree of vertex id. It is
// valid only after Finalize.
func (d *DBH) Degree(id VertexID) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(id) >= uint64(len(d.global)) {
		return 0, false
	}
	return d.global[id], true
}

// assignEdges replays the staged edges received by this process,
// placing each on the hash owner of its higher degree endpoint.
func (d *DBH) assignEdges(ctx context.Context) error {
	var (
		nprocs = d.Comm.NumProcs()
		me     = d.Comm.ProcID()
	)
	for {
		batch, ok := d.staged.Recv()
		if !ok {
			break
		}
		var edges []EdgeRecord
		if err := batch.Decode(&edges); err != nil {
			return errors.E(fmt.Sprintf("dbh: staged edges from %d", batch.Src), err)
		}
		for _, e := range edges {
			src, ok := d.Degree(e.Source)
			if !ok {
				return errors.E(errors.Fatal, errors.Integrity,
					fmt.Sprintf("dbh: assign edges: vertex %d has no degree slot on proc %d", e.Source, me))
			}
			dst, ok := d.Degree(e.Target)
			if !ok {
				return errors.E(errors.Fatal, errors.Integrity,
					fmt.Sprintf("dbh: assign edges: vertex %d has no degree slot on proc %d", e.Target, me))
			}
			owner := VertexOwner(e.Source, nprocs)
			if dst > src {
				owner = VertexOwner(e.Target, nprocs)
			}
			if err := d.SendEdge(ctx, owner, e, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// grow returns v extended with zeros to length n.
func grow(v []int64, n int) []int64 {
	if n <= cap(v) {
		return v[:n]
	}
	w := make([]int64, n, 2*n)
	copy(w, v)
	return w
}
