// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cluster runs ingress jobs on a set of processes: either
// bigmachine machines, each hosting an Ingress service, or
// goroutines in the current process.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/ingress"
	"github.com/grailbio/ingress/comm"
	"github.com/grailbio/ingress/stats"
)

// Config configures an ingress job.
type Config struct {
	// Options configures the placement strategy.
	Options ingress.Options
	// Threads is the number of ingestion threads per process.
	Threads int
	// Status, if non-nil, receives the job's progress.
	Status *status.Status
}

// Result is the outcome of an ingress job.
type Result struct {
	// Job is the job's identifier.
	Job string
	// Report is the cluster-wide placement report.
	Report ingress.Report
	// Vertices and Edges hold the number of records placed on each
	// process.
	Vertices, Edges []int
	// Stats holds the counters of all processes, summed.
	Stats stats.Values
	// Duration is the time taken by the job.
	Duration time.Duration

	tracer *tracer
}

// String returns a multi-line summary of the result.
func (r *Result) String() string {
	s := fmt.Sprintf("job %s: %s in %s", r.Job, r.Report, r.Duration)
	for i := range r.Vertices {
		s += fmt.Sprintf("\n\tproc %d: %d vertices, %d edges", i, r.Vertices[i], r.Edges[i])
	}
	return s
}

func newResult(n int) *Result {
	return &Result{
		Job:      uuid.New().String(),
		Vertices: make([]int, n),
		Edges:    make([]int, n),
		Stats:    make(stats.Values),
		tracer:   newTracer(n),
	}
}

// progress tracks the state of each process of a job in a status
// group.
type progress struct {
	group *status.Group
	tasks []*status.Task
}

func newProgress(st *status.Status, job string, n int) *progress {
	p := new(progress)
	if st == nil {
		return p
	}
	p.group = st.Groupf("ingress %s", job)
	p.tasks = make([]*status.Task, n)
	for i := range p.tasks {
		p.tasks[i] = p.group.Start()
		p.tasks[i].Title(fmt.Sprintf("proc %d", i))
	}
	return p
}

func (p *progress) Print(i int, format string, args ...interface{}) {
	if p.group == nil {
		return
	}
	p.tasks[i].Printf(format, args...)
}

func (p *progress) Done() {
	for _, task := range p.tasks {
		task.Done()
	}
}

// eachFunc returns a function that runs fn concurrently for each of
// n processes. Processes take part in collectives, so all of them
// run at once, and the first failure cancels the rest.
func eachFunc(n int, cancel func()) func(fn func(i int) error) error {
	return func(fn func(i int) error) error {
		return traverse.Limit(n).Each(n, func(i int) error {
			err := fn(i)
			if err != nil {
				cancel()
			}
			return err
		})
	}
}

// Run runs an ingress job on len(inputs) machines started on b,
// ingesting inputs[i] on the machine with rank i. The machines are
// stopped when Run returns.
func Run(ctx context.Context, b *bigmachine.B, inputs []ingress.Input, config Config) (*Result, error) {
	n := len(inputs)
	if n == 0 {
		return nil, errors.E(errors.Invalid, "ingress: no inputs")
	}
	if err := config.Options.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	each := eachFunc(n, cancel)
	start := time.Now()
	result := newResult(n)
	prog := newProgress(config.Status, result.Job, n)
	defer prog.Done()

	log.Printf("job %s: starting %d machines", result.Job, n)
	machines, err := b.Start(ctx, n, bigmachine.Services{
		"Ingress": &worker{},
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, m := range machines {
			m.Cancel()
		}
	}()
	peers := make([]string, n)
	err = each(func(i int) error {
		prog.Print(i, "waiting for machine to boot")
		m := machines[i]
		<-m.Wait(bigmachine.Running)
		if err := m.Err(); err != nil {
			return errors.E(fmt.Sprintf("machine %s failed to start", m.Addr), err)
		}
		peers[i] = m.Addr
		result.tracer.Label(i, m.Addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = each(func(i int) error {
		prog.Print(i, "%s: setting up", machines[i].Addr)
		result.tracer.Begin(i, "setup")
		defer result.tracer.End(i, "setup")
		return machines[i].RetryCall(ctx, "Ingress.Setup", SetupRequest{
			Job:     result.Job,
			Rank:    i,
			Peers:   peers,
			Options: config.Options,
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = traverse.Limit(n).Each(n, func(i int) error {
			return machines[i].Call(context.Background(), "Ingress.Close", result.Job, nil)
		})
	}()
	err = each(func(i int) error {
		prog.Print(i, "%s: ingesting %d records", machines[i].Addr, inputs[i].Len())
		result.tracer.Begin(i, "ingest", "records", inputs[i].Len())
		defer result.tracer.End(i, "ingest")
		return machines[i].Call(ctx, "Ingress.Ingest", IngestRequest{
			Job:     result.Job,
			Input:   inputs[i],
			Threads: config.Threads,
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	replies := make([]FinalizeReply, n)
	err = each(func(i int) error {
		prog.Print(i, "%s: finalizing", machines[i].Addr)
		result.tracer.Begin(i, "finalize")
		if err := machines[i].Call(ctx, "Ingress.Finalize", result.Job, &replies[i]); err != nil {
			return err
		}
		result.tracer.End(i, "finalize", "vertices", replies[i].Vertices, "edges", replies[i].Edges)
		prog.Print(i, "%s: %d vertices, %d edges", machines[i].Addr, replies[i].Vertices, replies[i].Edges)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, reply := range replies {
		result.Vertices[i] = reply.Vertices
		result.Edges[i] = reply.Edges
		result.Stats.Merge(reply.Stats)
	}
	result.Report = replies[0].Report
	result.Duration = time.Since(start)
	log.Printf("%s", result)
	return result, nil
}

// RunLocal runs an ingress job on len(inputs) processes in the
// current process, connected by comm.NewLocal.
func RunLocal(ctx context.Context, inputs []ingress.Input, config Config) (*Result, error) {
	n := len(inputs)
	if n == 0 {
		return nil, errors.E(errors.Invalid, "ingress: no inputs")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	each := eachFunc(n, cancel)
	start := time.Now()
	result := newResult(n)
	prog := newProgress(config.Status, result.Job, n)
	defer prog.Done()

	procs := comm.NewLocal(n)
	defer func() {
		for _, p := range procs {
			p.Close()
		}
	}()
	var (
		graphs     = make([]*ingress.MemGraph, n)
		strategies = make([]ingress.Strategy, n)
		err        error
	)
	for i, p := range procs {
		graphs[i] = ingress.NewMemGraph()
		if strategies[i], err = ingress.New(ctx, p, graphs[i], config.Options); err != nil {
			return nil, err
		}
	}
	var (
		mu      sync.Mutex
		reports = make([]ingress.Report, n)
	)
	err = each(func(i int) error {
		prog.Print(i, "ingesting %d records", inputs[i].Len())
		result.tracer.Begin(i, "ingest", "records", inputs[i].Len())
		if err := ingress.Ingest(ctx, strategies[i], inputs[i], config.Threads); err != nil {
			return err
		}
		result.tracer.End(i, "ingest")
		prog.Print(i, "finalizing")
		result.tracer.Begin(i, "finalize")
		if err := strategies[i].Finalize(ctx); err != nil {
			return err
		}
		report, err := strategies[i].Report(ctx)
		if err != nil {
			return err
		}
		reports[i] = report
		result.Vertices[i] = graphs[i].NumVertices()
		result.Edges[i] = graphs[i].NumEdges()
		result.tracer.End(i, "finalize", "vertices", result.Vertices[i], "edges", result.Edges[i])
		prog.Print(i, "%d vertices, %d edges", result.Vertices[i], result.Edges[i])
		mu.Lock()
		result.Stats.Merge(procs[i].Stats())
		if s, ok := strategies[i].(interface{ Stats() stats.Values }); ok {
			result.Stats.Merge(s.Stats())
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Report = reports[0]
	result.Duration = time.Since(start)
	log.Printf("%s", result)
	return result, nil
}
