// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package ingress implements the placement layer of a distributed graph
loader. As a loader streams vertices (with their adjacency lists) or
edges into a process, an ingress Strategy decides which process owns
each record and forwards it there. Once all processes have finished
streaming, Finalize hands every process the records it owns, by way
of a Builder.

Placement quality determines the communication volume and load
balance of whatever computation later runs over the graph. Graphs are
partitioned by vertex cut: every edge is owned by exactly one process,
while vertices may be replicated on every process that holds one of
their edges. The replication factor reported by Report is the mean
number of processes holding a copy of each vertex.

The following strategies are provided:

	random  vertices and edges are placed by hashing their IDs.
	dbh     degree-based hashing: an edge is placed by hashing its
	        endpoint with the higher global degree, so that the
	        edges of high-degree vertices are co-located.
	ldg     linear deterministic greedy streaming: a vertex is placed
	        on the partition that holds most of its already-placed
	        neighbors, discounted by how full the partition is.
	        Placements are shared among processes in batches.
	lookup  placement is read from a precomputed table of
	        "<vertex> <process>" lines, such as a METIS partitioning.
	greedy  like ldg, but each process considers only its own
	        placements and no table is shared.

Processes coordinate through a comm.Comm, which provides barriers,
all-reductions, remote calls and buffered exchanges. Package comm
provides an in-process implementation; package cluster runs each
process on a bigmachine machine.
*/
package ingress
