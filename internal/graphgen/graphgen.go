// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package graphgen generates synthetic graphs with skewed degree
// distributions, for exercising ingress strategies.
package graphgen

import (
	"math/rand"

	"github.com/grailbio/ingress"
)

// Params describes a synthetic graph.
type Params struct {
	// Seed seeds the generator; equal parameters produce equal
	// graphs.
	Seed int64
	// Vertices is the number of vertices.
	Vertices int
	// MaxDegree bounds the out-degree of each vertex.
	MaxDegree int
	// Skew is the Zipf exponent of the out-degree and target
	// distributions. Values not greater than 1 select DefaultSkew.
	Skew float64
}

// DefaultSkew is the default Zipf exponent.
const DefaultSkew = 1.5

// Adjacency returns a graph with the provided parameters, as
// adjacency lists. Both out-degrees and edge targets follow a Zipf
// distribution, so that a few vertices have most of the edges. Self
// loops and duplicate edges are possible.
func Adjacency(p Params) []ingress.Adjacency {
	if p.Vertices <= 0 {
		return nil
	}
	skew := p.Skew
	if skew <= 1 {
		skew = DefaultSkew
	}
	var (
		r      = rand.New(rand.NewSource(p.Seed))
		degree = rand.NewZipf(r, skew, 1, uint64(p.MaxDegree))
		target = rand.NewZipf(r, skew, 1, uint64(p.Vertices-1))
		// perm maps Zipf ranks to vertex IDs, so that the popular
		// targets are not simply the lowest IDs.
		perm  = r.Perm(p.Vertices)
		graph = make([]ingress.Adjacency, p.Vertices)
	)
	for i := range graph {
		graph[i].ID = ingress.VertexID(i)
		graph[i].Neighbors = make([]ingress.VertexID, degree.Uint64())
		for j := range graph[i].Neighbors {
			graph[i].Neighbors[j] = ingress.VertexID(perm[target.Uint64()])
		}
	}
	return graph
}

// Edges returns the edges of a graph with the provided parameters,
// in the order in which Adjacency lists them.
func Edges(p Params) []ingress.EdgeRecord {
	var edges []ingress.EdgeRecord
	for _, v := range Adjacency(p) {
		for _, dst := range v.Neighbors {
			edges = append(edges, ingress.EdgeRecord{Source: v.ID, Target: dst})
		}
	}
	return edges
}

// Split distributes vertices and edges round-robin over n inputs, as
// n loaders reading disjoint shards would.
func Split(vertices []ingress.Adjacency, edges []ingress.EdgeRecord, n int) []ingress.Input {
	inputs := make([]ingress.Input, n)
	for i, v := range vertices {
		inputs[i%n].Vertices = append(inputs[i%n].Vertices, v)
	}
	for i, e := range edges {
		inputs[i%n].Edges = append(inputs[i%n].Edges, e)
	}
	return inputs
}
