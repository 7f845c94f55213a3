// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
)

// DefaultBatchSize is the number of records an Exchange buffers per
// destination (and sending thread) before it delivers them.
const DefaultBatchSize = 1024

// defaultShards is the number of independent send buffers kept by
// an Exchange. Sending threads are mapped onto shards by thread ID.
const defaultShards = 16

// A Batch is a set of records delivered together by one sender.
type Batch struct {
	// Src is the process that sent the batch.
	Src int
	// N is the number of records in the batch.
	N int

	payload []byte
}

// Decode decodes the batch's records into v, which must be a
// pointer to a slice of the record type that was sent.
func (b Batch) Decode(v interface{}) error {
	return Decode(b.payload, v)
}

// An Exchange buffers records bound for other processes and delivers
// them in batches. Records received from peers are kept until they
// are consumed with Recv or RecvFrom. Every process must create the
// same set of exchanges, with the same names, before records flow.
type Exchange struct {
	comm      Comm
	method    string
	batchSize int
	shards    []exchangeShard

	mu    sync.Mutex
	recvd [][]Batch
	size  int
}

type exchangeShard struct {
	mu   sync.Mutex
	bufs [][]interface{}
}

// NewExchange creates an exchange named name on the provided comm.
// If batchSize is non-positive, DefaultBatchSize is used.
func NewExchange(c Comm, name string, batchSize int) *Exchange {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	x := &Exchange{
		comm:      c,
		method:    "exchange." + name,
		batchSize: batchSize,
		shards:    make([]exchangeShard, defaultShards),
		recvd:     make([][]Batch, c.NumProcs()),
	}
	for i := range x.shards {
		x.shards[i].bufs = make([][]interface{}, c.NumProcs())
	}
	c.Handle(x.method, x.receive)
	return x
}

// Send buffers record for delivery to process dest. The thread
// argument identifies the calling goroutine; concurrent callers
// with distinct thread IDs contend less. Records sent by a single
// thread to a single destination arrive in order.
func (x *Exchange) Send(ctx context.Context, dest int, record interface{}, thread int) error {
	if dest < 0 || dest >= len(x.recvd) {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: %s: invalid destination %d", x.method, dest))
	}
	if thread < 0 {
		thread = -thread
	}
	shard := &x.shards[thread%len(x.shards)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.bufs[dest] = append(shard.bufs[dest], record)
	if len(shard.bufs[dest]) < x.batchSize {
		return nil
	}
	return x.deliver(ctx, dest, shard)
}

// Flush delivers all buffered records. Flush does not wait for
// the records to be applied at their destinations; use
// Comm.FullBarrier for that.
func (x *Exchange) Flush(ctx context.Context) error {
	for i := range x.shards {
		shard := &x.shards[i]
		shard.mu.Lock()
		for dest := range shard.bufs {
			if len(shard.bufs[dest]) == 0 {
				continue
			}
			if err := x.deliver(ctx, dest, shard); err != nil {
				shard.mu.Unlock()
				return err
			}
		}
		shard.mu.Unlock()
	}
	return nil
}

// deliver sends the shard's buffer for dest. The shard's lock must
// be held.
func (x *Exchange) deliver(ctx context.Context, dest int, shard *exchangeShard) error {
	records := shard.bufs[dest]
	shard.bufs[dest] = nil
	return x.comm.RemoteCall(ctx, dest, x.method, records)
}

func (x *Exchange) receive(src int, payload []byte) error {
	n, err := arrayLen(payload)
	if err != nil {
		return err
	}
	if src < 0 || src >= len(x.recvd) {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: %s: batch from invalid source %d", x.method, src))
	}
	x.mu.Lock()
	x.recvd[src] = append(x.recvd[src], Batch{Src: src, N: n, payload: payload})
	x.size += n
	x.mu.Unlock()
	return nil
}

// Recv returns a received batch from any source, or false if no
// batches are pending. Recv does not block.
func (x *Exchange) Recv() (Batch, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for src := range x.recvd {
		if b, ok := x.pop(src); ok {
			return b, true
		}
	}
	return Batch{}, false
}

// RecvFrom returns the next batch received from process src, or
// false if none are pending. RecvFrom does not block.
func (x *Exchange) RecvFrom(src int) (Batch, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pop(src)
}

func (x *Exchange) pop(src int) (Batch, bool) {
	if src < 0 || src >= len(x.recvd) || len(x.recvd[src]) == 0 {
		return Batch{}, false
	}
	b := x.recvd[src][0]
	x.recvd[src][0] = Batch{}
	x.recvd[src] = x.recvd[src][1:]
	x.size -= b.N
	return b, true
}

// Size returns the number of received records that have not yet
// been consumed.
func (x *Exchange) Size() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.size
}

// Clear discards all received, unconsumed records.
func (x *Exchange) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for src := range x.recvd {
		x.recvd[src] = nil
	}
	x.size = 0
}
