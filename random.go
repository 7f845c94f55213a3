// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"github.com/grailbio/ingress/comm"
)

// Random places vertices and edges by hashing. It is the baseline
// against which the other strategies are measured.
type Random struct {
	*Base
}

// NewRandom returns a hashing strategy.
func NewRandom(c comm.Comm, b Builder, opts Options) *Random {
	return &Random{NewBase(c, b, opts)}
}
