// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/ingress/internal/trace"
)

// A tracer records the phases of each process of a job. Each process
// is rendered as a trace process with a single thread, since its
// phases run one after another.
type tracer struct {
	start time.Time

	mu     sync.Mutex
	labels []string
	events [][]trace.Event
}

func newTracer(n int) *tracer {
	t := &tracer{
		start:  time.Now(),
		labels: make([]string, n),
		events: make([][]trace.Event, n),
	}
	for i := range t.labels {
		t.labels[i] = fmt.Sprintf("proc %d", i)
	}
	return t
}

// Label names process i in the trace.
func (t *tracer) Label(i int, label string) {
	t.mu.Lock()
	t.labels[i] = label
	t.mu.Unlock()
}

// Begin starts phase name on process i.
func (t *tracer) Begin(i int, name string, args ...interface{}) {
	t.event(i, "B", name, args)
}

// End ends phase name on process i.
func (t *tracer) End(i int, name string, args ...interface{}) {
	t.event(i, "E", name, args)
}

// event records an event; args are key-value pairs.
func (t *tracer) event(i int, ph, name string, args []interface{}) {
	if len(args)%2 != 0 {
		panic("tracer: odd number of arguments")
	}
	e := trace.Event{
		Pid:  i + 1,
		Ph:   ph,
		Ts:   time.Since(t.start).Nanoseconds() / 1e3,
		Name: name,
		Cat:  "ingress",
		Args: make(map[string]interface{}, len(args)/2),
	}
	for j := 0; j < len(args); j += 2 {
		e.Args[fmt.Sprint(args[j])] = args[j+1]
	}
	t.mu.Lock()
	t.events[i] = append(t.events[i], e)
	t.mu.Unlock()
}

// T returns the trace recorded so far, with matching begin and end
// events coalesced.
func (t *tracer) T() *trace.T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var events []trace.Event
	for i, label := range t.labels {
		events = append(events, trace.Event{
			Pid:  i + 1,
			Ph:   "M",
			Name: "process_name",
			Args: map[string]interface{}{"name": label},
		})
		events = trace.Coalesce(events, t.events[i])
	}
	return &trace.T{Events: events}
}

// WriteTrace writes the job's phase trace to w in the Chrome tracing
// format.
func (r *Result) WriteTrace(w io.Writer) error {
	if r.tracer == nil {
		return errors.E(errors.NotExist, "ingress: job has no trace")
	}
	return r.tracer.T().Encode(w)
}
