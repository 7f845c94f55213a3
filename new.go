// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/ingress/comm"
)

// strategies is the set of strategy names accepted by New. "metis"
// and "lineargreedy" are accepted as aliases for "lookup" and
// "greedy".
var strategies = map[string]bool{
	"random":       true,
	"dbh":          true,
	"ldg":          true,
	"lookup":       true,
	"metis":        true,
	"greedy":       true,
	"lineargreedy": true,
}

// New returns the strategy named by opts.Strategy for the process c,
// which delivers placed records to b. New must be called on every
// process, with the same options, before any process adds records:
// strategies register their message handlers on c. The lookup
// strategy reads its table from opts.LookupPath.
func New(ctx context.Context, c comm.Comm, b Builder, opts Options) (Strategy, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Strategy {
	case "random":
		return NewRandom(c, b, opts), nil
	case "dbh":
		return NewDBH(c, b, opts), nil
	case "ldg":
		return NewLDG(c, b, opts), nil
	case "lookup", "metis":
		table, err := LoadLookupTable(ctx, opts.LookupPath, c.NumProcs())
		if err != nil {
			return nil, err
		}
		return NewLookup(c, b, opts, table), nil
	case "greedy", "lineargreedy":
		return NewGreedy(c, b, opts), nil
	}
	return nil, errors.E(errors.Invalid, fmt.Sprintf("ingress: unknown strategy %q", opts.Strategy))
}
