// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ctxsync

import (
	"context"
	"sync"
	"testing"
)

func TestRendezvousReduce(t *testing.T) {
	const (
		N      = 8
		Rounds = 50
	)
	r := NewRendezvous(N)
	var wg sync.WaitGroup
	wg.Add(N)
	sums := make([][]int64, N)
	for i := 0; i < N; i++ {
		go func(i int) {
			defer wg.Done()
			for round := 0; round < Rounds; round++ {
				sum, err := r.Reduce(context.Background(), int64(i+round))
				if err != nil {
					t.Error(err)
					return
				}
				sums[i] = append(sums[i], sum)
			}
		}(i)
	}
	wg.Wait()
	for i := range sums {
		if got, want := len(sums[i]), Rounds; got != want {
			t.Fatalf("participant %d: got %v rounds, want %v", i, got, want)
		}
		for round, sum := range sums[i] {
			// sum_i (i+round) = N*(N-1)/2 + N*round
			if got, want := sum, int64(N*(N-1)/2+N*round); got != want {
				t.Errorf("participant %d round %d: got %v, want %v", i, round, got, want)
			}
		}
	}
}

func TestRendezvousCanceled(t *testing.T) {
	r := NewRendezvous(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got, want := r.Barrier(ctx), context.Canceled; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRendezvousSingle(t *testing.T) {
	r := NewRendezvous(1)
	sum, err := r.Reduce(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sum, int64(42); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
