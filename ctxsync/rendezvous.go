// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ctxsync

import (
	"context"
	"sync"
)

// A Rendezvous is a reusable meeting point for a fixed number of
// participants. Each round completes when all participants have
// arrived; every participant then observes the sum of the values
// contributed in that round. A Rendezvous implements both plain
// barriers (contributing zero) and sum all-reductions.
//
// A participant that abandons a round (because its context is done)
// leaves the round permanently short; the remaining participants
// block until their own contexts complete.
type Rendezvous struct {
	n int

	mu      sync.Mutex
	cond    *Cond
	round   uint64
	arrived int
	sum     int64
	result  int64
}

// NewRendezvous returns a Rendezvous for n participants.
func NewRendezvous(n int) *Rendezvous {
	if n <= 0 {
		panic("ctxsync.NewRendezvous: n must be positive")
	}
	r := &Rendezvous{n: n}
	r.cond = NewCond(&r.mu)
	return r
}

// N returns the number of participants.
func (r *Rendezvous) N() int { return r.n }

// Barrier blocks until all participants have arrived.
func (r *Rendezvous) Barrier(ctx context.Context) error {
	_, err := r.Reduce(ctx, 0)
	return err
}

// Reduce contributes v to the current round and blocks until all
// participants have contributed. It returns the round's sum.
func (r *Rendezvous) Reduce(ctx context.Context, v int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	round := r.round
	r.sum += v
	r.arrived++
	if r.arrived == r.n {
		r.result = r.sum
		r.sum = 0
		r.arrived = 0
		r.round++
		r.cond.Broadcast()
		return r.result, nil
	}
	// The result cannot be overwritten before we read it: the next
	// round cannot complete without us.
	if err := r.cond.WaitFor(ctx, func() bool { return r.round != round }); err != nil {
		return 0, err
	}
	return r.result, nil
}
