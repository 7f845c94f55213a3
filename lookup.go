// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/ingress/comm"
	"github.com/grailbio/ingress/stats"
)

// Lookup places vertices according to a precomputed table, such as
// one produced by an offline partitioner like METIS. Every process
// holds a full copy of the table. Vertices missing from the table
// are placed on process 0.
type Lookup struct {
	*Base

	table   *PlacementTable
	missing *stats.Int
}

// NewLookup returns a lookup strategy that places vertices according
// to table.
func NewLookup(c comm.Comm, b Builder, opts Options, table *PlacementTable) *Lookup {
	l := &Lookup{
		Base:  NewBase(c, b, opts),
		table: table,
	}
	l.missing = l.stats.Int("lookup.missing")
	return l
}

// Missing returns the number of vertices that were not found in the
// table.
func (l *Lookup) Missing() int64 {
	return l.missing.Get()
}

// AddVertex implements Strategy.
func (l *Lookup) AddVertex(ctx context.Context, id VertexID, neighbors []VertexID, data []byte, thread int) error {
	owner, ok := l.table.Lookup(id)
	if !ok {
		l.missing.Add(1)
		log.Printf("lookup: proc %d: no entry for vertex %d; placing it on proc 0", l.Comm.ProcID(), id)
		owner = 0
	}
	return l.Forward(ctx, owner, id, neighbors, data, thread)
}

// AddEdge implements Strategy. Edges streamed on their own follow
// their source vertex if it is in the table, and are hashed
// otherwise.
func (l *Lookup) AddEdge(ctx context.Context, src, dst VertexID, data []byte, thread int) error {
	owner, ok := l.table.Lookup(src)
	if !ok {
		return l.Base.AddEdge(ctx, src, dst, data, thread)
	}
	return l.SendEdge(ctx, owner, EdgeRecord{Source: src, Target: dst, Data: data}, thread)
}

// LoadLookupTable reads a placement table for nprocs processes from
// path, which may be any path supported by
// github.com/grailbio/base/file (for example, a local path or an S3
// URL). See ReadLookupTable for the format.
func LoadLookupTable(ctx context.Context, path string, nprocs int) (table *PlacementTable, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("lookup: open %s", path), err)
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()
	table, skipped, err := ReadLookupTable(f.Reader(ctx), nprocs)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("lookup: read %s", path), err)
	}
	log.Printf("lookup: loaded %d placements from %s (%d lines skipped)", table.Len(), path, skipped)
	return table, nil
}

// ReadLookupTable reads a placement table for nprocs processes from
// r. The table is plain text, with one "<vertex> <process>" pair per
// line, separated by whitespace. Blank and malformed lines, and lines
// naming processes outside [0, nprocs), are skipped; their number is
// returned. If a vertex appears more than once, its first entry
// wins.
func ReadLookupTable(r io.Reader, nprocs int) (table *PlacementTable, skipped int, err error) {
	table = NewPlacementTable(nprocs)
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		fields := strings.Fields(scan.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			skipped++
			continue
		}
		vid, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			skipped++
			continue
		}
		owner, err := strconv.Atoi(fields[1])
		if err != nil || owner < 0 || owner >= nprocs {
			skipped++
			continue
		}
		table.Assign(VertexID(vid), owner)
	}
	return table, skipped, scan.Err()
}
