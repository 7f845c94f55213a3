// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"

	"github.com/grailbio/ingress/ctxsync"
)

// localGroup is a set of processes that share an address space.
type localGroup struct {
	procs      []*Proc
	rendezvous *ctxsync.Rendezvous
}

type localTransport struct {
	group *localGroup
	id    int
}

// NewLocal returns n processes connected by an in-process
// transport. Messages are handed directly to the destination's
// inbox; collectives use a shared Rendezvous. Each returned Proc
// must be closed by the caller.
func NewLocal(n int) []*Proc {
	g := &localGroup{
		procs:      make([]*Proc, n),
		rendezvous: ctxsync.NewRendezvous(n),
	}
	for i := range g.procs {
		g.procs[i] = NewProc(&localTransport{group: g, id: i})
	}
	return g.procs
}

func (t *localTransport) NumProcs() int { return len(t.group.procs) }
func (t *localTransport) ProcID() int   { return t.id }

func (t *localTransport) Send(ctx context.Context, dest int, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.group.procs[dest].Deliver(m)
	return nil
}

func (t *localTransport) Reduce(ctx context.Context, v int64) (int64, error) {
	return t.group.rendezvous.Reduce(ctx, v)
}
