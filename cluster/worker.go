// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/ingress"
	"github.com/grailbio/ingress/comm"
	"github.com/grailbio/ingress/ctxsync"
	"github.com/grailbio/ingress/stats"
)

// retryPolicy is used to retry dials to peer machines.
var retryPolicy = retry.MaxRetries(retry.Backoff(100*time.Millisecond, 5*time.Second, 1.5), 8)

// SetupRequest configures a worker as one process of an ingress job.
type SetupRequest struct {
	// Job identifies the job.
	Job string
	// Rank is the process ID of the worker in the job.
	Rank int
	// Peers holds the bigmachine addresses of all processes in the
	// job, indexed by rank.
	Peers []string
	// Options configures the job's ingress strategy.
	Options ingress.Options
}

// DeliverRequest carries a message between processes of a job.
type DeliverRequest struct {
	Job     string
	Message comm.Message
}

// ReduceRequest contributes a value to a job's collective at rank 0.
type ReduceRequest struct {
	Job   string
	Value int64
}

// IngestRequest streams a portion of the graph into a worker.
type IngestRequest struct {
	Job     string
	Input   ingress.Input
	Threads int
}

// FinalizeReply is returned by a worker once its process of a job
// has completed placement.
type FinalizeReply struct {
	// Report is the cluster-wide placement report.
	Report ingress.Report
	// Vertices and Edges count the records placed on the worker.
	Vertices, Edges int
	// Stats holds the worker's strategy and message counters.
	Stats stats.Values
}

// job is the state of one process of an ingress job.
type job struct {
	proc     *comm.Proc
	graph    *ingress.MemGraph
	strategy ingress.Strategy
	// rendezvous is non-nil only on rank 0.
	rendezvous *ctxsync.Rendezvous
}

// worker is the bigmachine service that runs one process of an
// ingress job. Workers deliver messages to each other directly; the
// rank 0 worker hosts the job's collectives.
type worker struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	b *bigmachine.B

	mu   sync.Mutex
	jobs map[string]*job

	stats *stats.Map
}

func (w *worker) Init(b *bigmachine.B) error {
	w.b = b
	w.jobs = make(map[string]*job)
	w.stats = stats.NewMap()
	return nil
}

func (w *worker) lookup(id string) (*job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	j := w.jobs[id]
	if j == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("ingress job %s", id))
	}
	return j, nil
}

// Setup creates the worker's process for a job, including its
// strategy. Setup must complete on every worker of a job before any
// worker ingests records.
func (w *worker) Setup(ctx context.Context, req SetupRequest, _ *struct{}) error {
	if req.Rank < 0 || req.Rank >= len(req.Peers) {
		return errors.E(errors.Invalid, fmt.Sprintf("job %s: rank %d out of range", req.Job, req.Rank))
	}
	j := &job{graph: ingress.NewMemGraph()}
	if req.Rank == 0 {
		j.rendezvous = ctxsync.NewRendezvous(len(req.Peers))
	}
	j.proc = comm.NewProc(&machineTransport{
		w:    w,
		job:  req.Job,
		rank: req.Rank,
		addr: req.Peers,
		root: j.rendezvous,
	})
	strategy, err := ingress.New(ctx, j.proc, j.graph, req.Options)
	if err != nil {
		j.proc.Close()
		return err
	}
	j.strategy = strategy
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs[req.Job] != nil {
		j.proc.Close()
		return errors.E(errors.Exists, fmt.Sprintf("job %s", req.Job))
	}
	w.jobs[req.Job] = j
	log.Printf("job %s: proc %d/%d: %s", req.Job, req.Rank, len(req.Peers), req.Options)
	return nil
}

// Deliver queues a message for the worker's process.
func (w *worker) Deliver(ctx context.Context, req DeliverRequest, _ *struct{}) error {
	j, err := w.lookup(req.Job)
	if err != nil {
		return err
	}
	j.proc.Deliver(req.Message)
	return nil
}

// Reduce contributes a value to the current collective round of a
// job, and returns the round's sum once every process has
// contributed. It is served only by rank 0.
func (w *worker) Reduce(ctx context.Context, req ReduceRequest, sum *int64) error {
	j, err := w.lookup(req.Job)
	if err != nil {
		return err
	}
	if j.rendezvous == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("job %s: reduce at proc %d", req.Job, j.proc.ProcID()))
	}
	*sum, err = j.rendezvous.Reduce(ctx, req.Value)
	return err
}

// Ingest streams records into the worker's strategy.
func (w *worker) Ingest(ctx context.Context, req IngestRequest, _ *struct{}) error {
	j, err := w.lookup(req.Job)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := ingress.Ingest(ctx, j.strategy, req.Input, req.Threads); err != nil {
		return err
	}
	w.stats.Int("ingested").Add(int64(req.Input.Len()))
	log.Printf("job %s: proc %d: ingested %d records in %s", req.Job, j.proc.ProcID(), req.Input.Len(), time.Since(start))
	return nil
}

// Finalize completes placement for a job and reports on it.
// Finalize is collective: it must be called on every worker of the
// job concurrently.
func (w *worker) Finalize(ctx context.Context, id string, reply *FinalizeReply) error {
	j, err := w.lookup(id)
	if err != nil {
		return err
	}
	if err := j.strategy.Finalize(ctx); err != nil {
		return err
	}
	if reply.Report, err = j.strategy.Report(ctx); err != nil {
		return err
	}
	reply.Vertices = j.graph.NumVertices()
	reply.Edges = j.graph.NumEdges()
	reply.Stats = j.proc.Stats()
	if s, ok := j.strategy.(interface{ Stats() stats.Values }); ok {
		reply.Stats.Merge(s.Stats())
	}
	return nil
}

// Close releases a job's resources on the worker.
func (w *worker) Close(ctx context.Context, id string, _ *struct{}) error {
	w.mu.Lock()
	j := w.jobs[id]
	delete(w.jobs, id)
	w.mu.Unlock()
	if j != nil {
		j.proc.Close()
	}
	return nil
}

// Stats returns the worker's counters.
func (w *worker) Stats(ctx context.Context, _ struct{}, values *stats.Values) error {
	*values = make(stats.Values)
	w.stats.AddAll(*values)
	return nil
}

// machineTransport implements comm.Transport over bigmachine RPCs.
type machineTransport struct {
	w    *worker
	job  string
	rank int
	addr []string
	// root is the job's rendezvous if this is rank 0.
	root *ctxsync.Rendezvous

	mu       sync.Mutex
	machines map[int]*bigmachine.Machine
}

func (t *machineTransport) NumProcs() int { return len(t.addr) }
func (t *machineTransport) ProcID() int   { return t.rank }

// machine returns the machine of process dest, dialing it if
// necessary.
func (t *machineTransport) machine(ctx context.Context, dest int) (*bigmachine.Machine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.machines[dest]; m != nil {
		return m, nil
	}
	for retries := 0; ; retries++ {
		m, err := t.w.b.Dial(ctx, t.addr[dest])
		if err == nil {
			if t.machines == nil {
				t.machines = make(map[int]*bigmachine.Machine)
			}
			t.machines[dest] = m
			return m, nil
		}
		log.Error.Printf("job %s: proc %d: dial %s: %v", t.job, t.rank, t.addr[dest], err)
		if err := retry.Wait(ctx, retryPolicy, retries); err != nil {
			return nil, err
		}
	}
}

func (t *machineTransport) Send(ctx context.Context, dest int, m comm.Message) error {
	machine, err := t.machine(ctx, dest)
	if err != nil {
		return err
	}
	return machine.Call(ctx, "Ingress.Deliver", DeliverRequest{t.job, m}, nil)
}

func (t *machineTransport) Reduce(ctx context.Context, v int64) (int64, error) {
	if t.root != nil {
		return t.root.Reduce(ctx, v)
	}
	machine, err := t.machine(ctx, 0)
	if err != nil {
		return 0, err
	}
	var sum int64
	err = machine.Call(ctx, "Ingress.Reduce", ReduceRequest{t.job, v}, &sum)
	return sum, err
}
