// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Input is the portion of a graph loaded by one process. A loader
// may produce vertices with their adjacency lists, bare edges, or
// both.
type Input struct {
	_msgpack struct{} `msgpack:",as_array"`

	Vertices []Adjacency
	Edges    []EdgeRecord
}

// Len returns the number of records in the input.
func (in Input) Len() int {
	return len(in.Vertices) + len(in.Edges)
}

// Ingest streams the input into strategy s using the provided
// number of threads. Thread i handles every threads-th record
// starting at i, so that each thread sees its records in input
// order. Ingest does not finalize the strategy.
func Ingest(ctx context.Context, s Strategy, in Input, threads int) error {
	if threads <= 0 {
		threads = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for t := 0; t < threads; t++ {
		t := t
		g.Go(func() error {
			for i := t; i < len(in.Vertices); i += threads {
				v := in.Vertices[i]
				if err := s.AddVertex(ctx, v.ID, v.Neighbors, v.Data, t); err != nil {
					return err
				}
			}
			for i := t; i < len(in.Edges); i += threads {
				e := in.Edges[i]
				if err := s.AddEdge(ctx, e.Source, e.Target, e.Data, t); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
