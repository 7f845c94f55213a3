// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package lfqueue

import (
	"sync"
	"testing"
)

type tagged struct {
	producer, seq int
}

func TestQueueEmpty(t *testing.T) {
	q := New()
	if !q.Empty() {
		t.Error("new queue is not empty")
	}
	if n := q.DequeueAll(); n != nil {
		t.Errorf("got %v, want nil", n)
	}
	q.Enqueue(&Node{Value: 1})
	if q.Empty() {
		t.Error("queue with an element is empty")
	}
	if got, want := q.Drain(func(*Node) {}), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !q.Empty() {
		t.Error("drained queue is not empty")
	}
	if got, want := q.Drain(func(*Node) {}), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQueueOrder(t *testing.T) {
	q := New()
	for i := 0; i < 10; i++ {
		q.Enqueue(&Node{Value: i})
	}
	var got []int
	for n := q.DequeueAll(); !q.End(n); n = q.Next(n) {
		got = append(got, n.Value.(int))
	}
	if len(got) != 10 {
		t.Fatalf("got %v values, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("value %d: got %v, want %v", i, v, i)
		}
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	const (
		P = 16
		N = 10000
	)
	q := New()
	var wg sync.WaitGroup
	wg.Add(P)
	for p := 0; p < P; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < N; i++ {
				q.Enqueue(&Node{Value: tagged{p, i}})
			}
		}(p)
	}
	wg.Wait()

	next := make([]int, P)
	n := q.Drain(func(n *Node) {
		v := n.Value.(tagged)
		if got, want := v.seq, next[v.producer]; got != want {
			t.Fatalf("producer %d: got seq %v, want %v", v.producer, got, want)
		}
		next[v.producer]++
	})
	if got, want := n, P*N; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for p, seq := range next {
		if seq != N {
			t.Errorf("producer %d: got %v items, want %v", p, seq, N)
		}
	}
	if !q.Empty() {
		t.Error("queue not empty after drain")
	}
}

// TestQueueRacingConsumer drains while producers are still active:
// each item must be observed exactly once, in per-producer order.
func TestQueueRacingConsumer(t *testing.T) {
	const (
		P = 8
		N = 20000
	)
	q := New()
	var wg sync.WaitGroup
	wg.Add(P)
	for p := 0; p < P; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < N; i++ {
				q.Enqueue(&Node{Value: tagged{p, i}})
			}
		}(p)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var (
		next  = make([]int, P)
		total int
	)
	visit := func(n *Node) {
		v := n.Value.(tagged)
		if got, want := v.seq, next[v.producer]; got != want {
			t.Fatalf("producer %d: got seq %v, want %v", v.producer, got, want)
		}
		next[v.producer]++
	}
	for {
		select {
		case <-done:
			total += q.Drain(visit)
			if got, want := total, P*N; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			return
		default:
			total += q.Drain(visit)
		}
	}
}

func TestQueueReenqueue(t *testing.T) {
	q := New()
	nodes := make([]*Node, 5)
	for i := range nodes {
		nodes[i] = &Node{Value: i}
		q.Enqueue(nodes[i])
	}
	// Re-enqueueing a node from within Drain is permitted and defers
	// it to the next drain.
	first := true
	q.Drain(func(n *Node) {
		if first {
			first = false
			q.Enqueue(n)
		}
	})
	var got []int
	q.Drain(func(n *Node) { got = append(got, n.Value.(int)) })
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("got %v, want [0]", got)
	}
}
