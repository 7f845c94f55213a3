// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"runtime"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/ingress"
)

func init() {
	config.Register("ingress/cluster", func(inst *config.Constructor) {
		var (
			procs   int
			threads int
			system  bigmachine.System
		)
		inst.IntVar(&procs, "procs", 4, "the number of ingress processes")
		inst.IntVar(&threads, "threads", runtime.NumCPU(), "the number of ingestion threads per process")
		inst.InstanceVar(&system, "system", "", "the bigmachine system on which processes run; processes are local if empty")
		inst.Doc = "ingress/cluster configures the processes that run ingress jobs"
		inst.New = func() (interface{}, error) {
			if procs <= 0 {
				return nil, errors.E(errors.Invalid, "ingress/cluster: procs must be positive")
			}
			return Start(system, procs, threads), nil
		}
	})
}

// A Session runs ingress jobs on a fixed number of processes. If the
// session has a bigmachine system, each process runs on its own
// machine; otherwise processes run in the current process.
type Session struct {
	system  bigmachine.System
	b       *bigmachine.B
	procs   int
	threads int
	status  *status.Status
}

// Start returns a session with procs processes, each ingesting with
// the provided number of threads. If system is non-nil, a bigmachine
// is started on it.
func Start(system bigmachine.System, procs, threads int) *Session {
	s := &Session{
		system:  system,
		procs:   procs,
		threads: threads,
		status:  new(status.Status),
	}
	if system != nil {
		s.b = bigmachine.Start(system)
	}
	return s
}

// Procs returns the number of processes in the session.
func (s *Session) Procs() int { return s.procs }

// Status returns the session's status, which tracks the progress of
// its jobs.
func (s *Session) Status() *status.Status { return s.status }

// Run runs an ingress job with the provided options. inputs must
// have one entry per process.
func (s *Session) Run(ctx context.Context, inputs []ingress.Input, opts ingress.Options) (*Result, error) {
	if len(inputs) != s.procs {
		return nil, errors.E(errors.Invalid, "ingress: need one input per process")
	}
	c := Config{Options: opts, Threads: s.threads, Status: s.status}
	if s.b == nil {
		return RunLocal(ctx, inputs, c)
	}
	return Run(ctx, s.b, inputs, c)
}

// Shutdown releases the session's resources.
func (s *Session) Shutdown() {
	if s.b != nil {
		s.b.Shutdown()
	}
}
