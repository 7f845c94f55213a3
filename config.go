// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"github.com/grailbio/base/config"
)

func init() {
	config.Register("ingress", func(inst *config.Constructor) {
		opts := DefaultOptions()
		var nverts, nedges, capacity int
		inst.StringVar(&opts.Strategy, "strategy", opts.Strategy, "the placement strategy: random, dbh, ldg, lookup, or greedy")
		inst.IntVar(&nverts, "nverts", 0, "the number of vertices in the graph, if known")
		inst.IntVar(&nedges, "nedges", 0, "the number of edges in the graph, if known")
		inst.FloatVar(&opts.Slack, "slack", opts.Slack, "the balance slack used by ldg")
		inst.IntVar(&opts.Threshold, "threshold", opts.Threshold, "the number of placements ldg buffers before broadcasting them")
		inst.StringVar(&opts.LookupPath, "lookup", "", "the placement table used by the lookup strategy")
		inst.IntVar(&capacity, "capacity", 0, "per-partition vertex capacity used by greedy; 0 is unconstrained")
		inst.IntVar(&opts.BatchSize, "batch", 0, "records buffered per destination before delivery")
		inst.Doc = "ingress configures graph placement"
		inst.New = func() (interface{}, error) {
			opts.NumVertices = int64(nverts)
			opts.NumEdges = int64(nedges)
			opts.Capacity = int64(capacity)
			if err := opts.Validate(); err != nil {
				return nil, err
			}
			return opts, nil
		}
	})
}
