// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import "testing"

func TestStats(t *testing.T) {
	coll := NewMap()
	var (
		x = coll.Int("x")
		_ = coll.Int("y")
	)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(123)
	x.Add(123)
	if got, want := x.Get(), int64(123*2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	all := make(Values)
	coll.AddAll(all)
	coll.AddAll(all)
	if got, want := len(all), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["x"], int64(123*4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["y"], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	snap := coll.Snapshot()
	snap.Merge(Values{"x": 1, "z": 2})
	if got, want := snap.String(), "x:247 y:0 z:2"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNilInt(t *testing.T) {
	var x *Int
	x.Add(1)
	x.Set(2)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestVector(t *testing.T) {
	v := NewVector(4)
	if got, want := v.Imbalance(), 0.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for i := 0; i < 4; i++ {
		v.Add(i, 10)
	}
	if got, want := v.Imbalance(), 1.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	v.Add(0, 30)
	// max=40, mean=70/4
	if got, want := v.Imbalance(), 40*4/70.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := v.Values(), []int64{40, 10, 10, 10}; len(got) != len(want) || got[0] != want[0] {
		t.Errorf("got %v, want %v", got, want)
	}
}
