// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides collections of counters used to account
// for ingress activity: records sent and received, placement
// broadcasts, degree merges, and so on. Each counter belongs to a
// snapshottable collection, and snapshots can be aggregated across
// processes.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a snapshot of the values in a collection.
type Values map[string]int64

// Merge adds every value in w to v.
func (v Values) Merge(w Values) {
	for k, x := range w {
		v[k] += x
	}
}

// String returns an abbreviated string with the values in this
// snapshot sorted by key.
func (v Values) String() string {
	var keys []string
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{
		values: make(map[string]*Int),
	}
}

// Int returns the counter with the provided name. The counter is
// created if it does not already exist.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	m.mu.Unlock()
	return v
}

// AddAll adds all counters in the map to the provided snapshot.
func (m *Map) AddAll(vals Values) {
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] += v.Get()
	}
	m.mu.Unlock()
}

// Snapshot returns the current values of all counters in the map.
func (m *Map) Snapshot() Values {
	vals := make(Values)
	m.AddAll(vals)
	return vals
}

// An Int is a integer counter. Ints can be atomically
// incremented and set. A nil *Int discards updates and reads
// as zero.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Get returns the current value of a counter.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}

// A Vector is a fixed-size array of counters, one per partition.
type Vector []Int

// NewVector returns a vector of n zeroed counters.
func NewVector(n int) Vector {
	return make(Vector, n)
}

// Add increments counter i by delta.
func (v Vector) Add(i int, delta int64) {
	v[i].Add(delta)
}

// Get returns the value of counter i.
func (v Vector) Get(i int) int64 {
	return v[i].Get()
}

// Values returns a snapshot of the vector's counters.
func (v Vector) Values() []int64 {
	vals := make([]int64, len(v))
	for i := range v {
		vals[i] = v[i].Get()
	}
	return vals
}

// Imbalance returns the ratio of the largest counter to the mean of
// all counters; a perfectly balanced vector has imbalance 1. An
// empty or all-zero vector has imbalance 0.
func (v Vector) Imbalance() float64 {
	var max, total int64
	for i := range v {
		x := v[i].Get()
		total += x
		if x > max {
			max = x
		}
	}
	if total == 0 {
		return 0
	}
	return float64(max) * float64(len(v)) / float64(total)
}
