// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package comm provides the coordination primitives consumed by
// graph ingress: collective barriers, sum all-reductions, one-way
// remote calls, and buffered record exchanges. Primitives are
// implemented by a Proc on top of a Transport, which moves opaque
// messages between processes. Package comm provides an in-process
// transport (NewLocal); package cluster provides one based on
// bigmachine.
//
// Incoming messages are placed on a lock-free inbox and applied by
// a single dispatcher goroutine per process. Thus messages from one
// sender to one receiver are applied in the order they were sent,
// and handlers never run concurrently with each other.
package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/ingress/ctxsync"
	"github.com/grailbio/ingress/lfqueue"
	"github.com/grailbio/ingress/stats"
)

// Message is the unit of delivery between processes.
type Message struct {
	// Src is the sending process.
	Src int
	// Method names the handler that should receive the message.
	Method string
	// Payload is the Encoded argument.
	Payload []byte
}

// A Transport delivers messages between a fixed set of processes
// and provides the collective rendezvous used to implement barriers
// and reductions.
type Transport interface {
	// NumProcs returns the number of processes in the group.
	NumProcs() int
	// ProcID returns the rank of this process, in [0, NumProcs).
	ProcID() int
	// Send delivers m to process dest. When Send returns
	// successfully, m has been handed to the destination's Deliver.
	Send(ctx context.Context, dest int, m Message) error
	// Reduce blocks until every process has called Reduce and
	// returns the sum of the contributed values.
	Reduce(ctx context.Context, v int64) (int64, error)
}

// A Handler applies a remote call. Handlers are invoked on the
// receiving process's dispatcher goroutine, one at a time. Handlers
// must not block on collective operations.
type Handler func(src int, payload []byte) error

// Comm is the coordination handle injected into ingress strategies.
type Comm interface {
	// ProcID returns the rank of this process.
	ProcID() int
	// NumProcs returns the number of processes.
	NumProcs() int
	// Barrier blocks until every process has reached the barrier.
	Barrier(ctx context.Context) error
	// FullBarrier is a barrier that additionally guarantees that
	// every message sent by any process before entering the barrier
	// has been applied by its receiver.
	FullBarrier(ctx context.Context) error
	// AllReduce returns the sum of v across all processes.
	AllReduce(ctx context.Context, v int64) (int64, error)
	// RemoteCall asynchronously applies the handler registered under
	// method on process dest with the encoded arg.
	RemoteCall(ctx context.Context, dest int, method string, arg interface{}) error
	// Handle registers the handler for method. Handlers must be
	// registered on every process before any process calls them.
	Handle(method string, h Handler)
}

// Proc implements Comm for one process on top of a Transport.
type Proc struct {
	transport Transport

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	inbox *lfqueue.Queue
	wakec chan struct{}
	donec chan struct{}

	mu      sync.Mutex
	cond    *ctxsync.Cond
	pending int
	err     error

	stats                 *stats.Map
	sent, applied, failed *stats.Int
}

// NewProc returns a Proc for the provided transport and starts its
// dispatcher. The Proc must be closed when no longer needed.
func NewProc(t Transport) *Proc {
	p := &Proc{
		transport: t,
		handlers:  make(map[string]Handler),
		inbox:     lfqueue.New(),
		wakec:     make(chan struct{}, 1),
		donec:     make(chan struct{}),
		stats:     stats.NewMap(),
	}
	p.cond = ctxsync.NewCond(&p.mu)
	p.sent = p.stats.Int("comm.sent")
	p.applied = p.stats.Int("comm.applied")
	p.failed = p.stats.Int("comm.failed")
	go p.dispatch()
	return p
}

// ProcID implements Comm.
func (p *Proc) ProcID() int { return p.transport.ProcID() }

// NumProcs implements Comm.
func (p *Proc) NumProcs() int { return p.transport.NumProcs() }

// Stats returns a snapshot of the process's message counters.
func (p *Proc) Stats() stats.Values { return p.stats.Snapshot() }

// String returns a description of the process for diagnostics.
func (p *Proc) String() string {
	return fmt.Sprintf("proc %d/%d", p.ProcID(), p.NumProcs())
}

// Handle implements Comm.
func (p *Proc) Handle(method string, h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	if _, ok := p.handlers[method]; ok {
		log.Panicf("comm: handler %s registered twice", method)
	}
	p.handlers[method] = h
}

// Deliver queues an incoming message for application. Deliver is
// called by transports; it never blocks.
func (p *Proc) Deliver(m Message) {
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()
	p.inbox.Enqueue(&lfqueue.Node{Value: m})
	select {
	case p.wakec <- struct{}{}:
	default:
	}
}

// RemoteCall implements Comm. Calls addressed to the local process
// are queued on its own inbox.
func (p *Proc) RemoteCall(ctx context.Context, dest int, method string, arg interface{}) error {
	if dest < 0 || dest >= p.NumProcs() {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: remote call %s: invalid destination %d", method, dest))
	}
	payload, err := Encode(arg)
	if err != nil {
		return err
	}
	return p.send(ctx, dest, Message{Src: p.ProcID(), Method: method, Payload: payload})
}

func (p *Proc) send(ctx context.Context, dest int, m Message) error {
	p.sent.Add(1)
	if dest == p.ProcID() {
		p.Deliver(m)
		return nil
	}
	if err := p.transport.Send(ctx, dest, m); err != nil {
		return errors.E(fmt.Sprintf("comm: send %s to %d", m.Method, dest), err)
	}
	return nil
}

// Barrier implements Comm.
func (p *Proc) Barrier(ctx context.Context) error {
	if _, err := p.transport.Reduce(ctx, 0); err != nil {
		return errors.E(errors.Fatal, fmt.Sprintf("comm: %s: barrier", p), err)
	}
	return nil
}

// FullBarrier implements Comm. Since Transport.Send returns only
// after the message is queued at its destination, all messages sent
// before the first rendezvous are in some inbox once it completes.
// Each process then drains its own inbox before the second
// rendezvous. Handler failures observed since the last full barrier
// are returned.
func (p *Proc) FullBarrier(ctx context.Context) error {
	if err := p.Barrier(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	err := p.cond.WaitFor(ctx, func() bool { return p.pending == 0 })
	herr := p.err
	p.err = nil
	p.mu.Unlock()
	if err != nil {
		return errors.E(errors.Fatal, fmt.Sprintf("comm: %s: draining inbox", p), err)
	}
	if err := p.Barrier(ctx); err != nil {
		return err
	}
	return herr
}

// AllReduce implements Comm.
func (p *Proc) AllReduce(ctx context.Context, v int64) (int64, error) {
	sum, err := p.transport.Reduce(ctx, v)
	if err != nil {
		return 0, errors.E(errors.Fatal, fmt.Sprintf("comm: %s: all-reduce", p), err)
	}
	return sum, nil
}

// Close stops the dispatcher. Messages delivered after Close are
// not applied.
func (p *Proc) Close() {
	close(p.donec)
}

func (p *Proc) dispatch() {
	for {
		select {
		case <-p.wakec:
		case <-p.donec:
			return
		}
		for {
			n := p.inbox.Drain(p.apply)
			if n == 0 {
				break
			}
			p.mu.Lock()
			p.pending -= n
			if p.pending == 0 {
				p.cond.Broadcast()
			}
			p.mu.Unlock()
		}
	}
}

func (p *Proc) apply(n *lfqueue.Node) {
	m := n.Value.(Message)
	p.handlersMu.RLock()
	h := p.handlers[m.Method]
	p.handlersMu.RUnlock()
	var err error
	if h == nil {
		err = errors.E(errors.NotExist, fmt.Sprintf("comm: %s: no handler for %s", p, m.Method))
	} else {
		err = h(m.Src, m.Payload)
	}
	if err == nil {
		p.applied.Add(1)
		return
	}
	p.failed.Add(1)
	log.Error.Printf("%s: applying %s from %d: %v", p, m.Method, m.Src, err)
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}
