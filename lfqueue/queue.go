// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package lfqueue implements an intrusive, lock-free queue that
// admits any number of concurrent producers and a single consumer.
//
// The queue always begins with a sentinel node. Producers swap
// themselves into the tail and only then link the previous tail to
// the new node, so a consumer may briefly observe a node whose
// successor has not yet been linked; Next spins until the link
// lands. DequeueAll detaches everything behind the sentinel by
// re-enqueueing the sentinel itself: the returned list ends at the
// sentinel, and everything enqueued after it belongs to the next
// drain.
package lfqueue

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// A Node is an element of a Queue. Nodes carry their own link, so a
// node may be enqueued on at most one queue at a time, and must not
// be re-enqueued until it has been dequeued.
type Node struct {
	// Value is the payload carried by the node.
	Value interface{}

	next unsafe.Pointer // *Node
}

// Queue is a multi-producer, single-consumer queue. The zero Queue
// is not valid; use New.
type Queue struct {
	sentinel Node
	tail     unsafe.Pointer // *Node
}

// New returns a new, empty queue.
func New() *Queue {
	q := new(Queue)
	q.tail = unsafe.Pointer(&q.sentinel)
	return q
}

// Enqueue appends n to the queue. Enqueue may be called
// concurrently from any number of goroutines.
func (q *Queue) Enqueue(n *Node) {
	atomic.StorePointer(&n.next, nil)
	prev := (*Node)(atomic.SwapPointer(&q.tail, unsafe.Pointer(n)))
	// The link becomes visible strictly after the swap. Consumers
	// that race with us observe prev.next == nil until this store.
	atomic.StorePointer(&prev.next, unsafe.Pointer(n))
}

// Empty tells whether the queue is empty. The answer is only a
// snapshot: producers may have enqueued by the time it returns.
func (q *Queue) Empty() bool {
	return atomic.LoadPointer(&q.tail) == unsafe.Pointer(&q.sentinel)
}

// DequeueAll detaches and returns the head of every node currently
// linked into the queue, or nil if the queue is empty. The caller
// walks the list with Next until End returns true. Only one
// goroutine may call DequeueAll (and walk its result) at a time.
func (q *Queue) DequeueAll() *Node {
	head := (*Node)(atomic.LoadPointer(&q.sentinel.next))
	if head == nil {
		return nil
	}
	// By the time the sentinel has a successor, at least one enqueue
	// has fully completed. Parking the sentinel at the tail splits
	// the list: everything before it is ours, and the last returned
	// node will eventually link to the sentinel.
	q.Enqueue(&q.sentinel)
	return head
}

// Next returns the successor of n in a list returned by DequeueAll.
// If n's successor is still being linked by a producer, Next spins
// until it becomes visible.
func (q *Queue) Next(n *Node) *Node {
	for {
		if next := atomic.LoadPointer(&n.next); next != nil {
			return (*Node)(next)
		}
		runtime.Gosched()
	}
}

// End tells whether n terminates a list returned by DequeueAll.
func (q *Queue) End(n *Node) bool {
	return n == &q.sentinel
}

// Drain dequeues all nodes currently in the queue and invokes fn on
// each of them, in queue order. It returns the number of nodes
// visited. Drain is subject to the same single-consumer restriction
// as DequeueAll.
func (q *Queue) Drain(fn func(n *Node)) int {
	head := q.DequeueAll()
	if head == nil {
		return 0
	}
	var count int
	for n := head; !q.End(n); {
		// Fetch the successor before handing n to fn: fn may
		// re-enqueue n, which clears its link.
		next := q.Next(n)
		fn(n)
		count++
		n = next
	}
	return count
}
