// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// edgeSeed seeds edge hashes so that they are independent of vertex
// hashes.
const edgeSeed = 0x9e3779b9

// HashVertex returns a 32-bit hash of a vertex ID. Vertex hashes are
// identical on every process.
func HashVertex(id VertexID) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return murmur3.Sum32(b[:])
}

// hashEdge returns a 32-bit hash of a directed edge.
func hashEdge(src, dst VertexID) uint32 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(src))
	binary.LittleEndian.PutUint64(b[8:], uint64(dst))
	return murmur3.Sum32WithSeed(b[:], edgeSeed)
}

// VertexOwner returns the process that owns vertex id when placement
// is by hashing, among nprocs processes.
func VertexOwner(id VertexID, nprocs int) int {
	return int(HashVertex(id) % uint32(nprocs))
}

func edgeOwner(src, dst VertexID, nprocs int) int {
	return int(hashEdge(src, dst) % uint32(nprocs))
}
