// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ingress

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

const (
	// DefaultSlack is the default fraction by which a partition may
	// exceed its fair share of vertices before greedy strategies stop
	// placing vertices on it.
	DefaultSlack = 0.05
	// DefaultThreshold is the default number of placement decisions
	// a process accumulates before broadcasting them to its peers.
	DefaultThreshold = 5000
)

// Options configures an ingress strategy.
type Options struct {
	// Strategy names the placement strategy: one of "random", "dbh",
	// "ldg", "lookup", or "greedy".
	Strategy string
	// NumVertices and NumEdges are the total number of vertices and
	// edges in the graph, if known. They are sizing hints, except for
	// ldg, which derives its capacity constraint from NumVertices.
	NumVertices, NumEdges int64
	// Slack is the balance slack used by ldg.
	Slack float64
	// Threshold is the placement buffer size at which ldg broadcasts
	// its decisions.
	Threshold int
	// LookupPath is the path of the table read by the lookup
	// strategy. It may be any path supported by
	// github.com/grailbio/base/file.
	LookupPath string
	// Capacity is the per-partition vertex capacity used by greedy.
	// Zero means unconstrained.
	Capacity int64
	// BatchSize is the number of records buffered per destination
	// before records are delivered. Zero selects a default.
	BatchSize int
}

// DefaultOptions returns the default options: random placement,
// DefaultSlack, and DefaultThreshold.
func DefaultOptions() Options {
	return Options{
		Strategy:  "random",
		Slack:     DefaultSlack,
		Threshold: DefaultThreshold,
	}
}

// Validate checks that the options are consistent.
func (o Options) Validate() error {
	if _, ok := strategies[o.Strategy]; !ok {
		return errors.E(errors.Invalid, fmt.Sprintf("ingress: unknown strategy %q (want one of %s)", o.Strategy, strings.Join(strategyNames(), ", ")))
	}
	switch {
	case o.NumVertices < 0 || o.NumEdges < 0:
		return errors.E(errors.Invalid, "ingress: negative graph size")
	case o.Slack < 0:
		return errors.E(errors.Invalid, "ingress: negative slack")
	case o.Threshold <= 0:
		return errors.E(errors.Invalid, "ingress: placement threshold must be positive")
	case o.Capacity < 0:
		return errors.E(errors.Invalid, "ingress: negative capacity")
	case (o.Strategy == "lookup" || o.Strategy == "metis") && o.LookupPath == "":
		return errors.E(errors.Invalid, "ingress: lookup strategy requires a lookup table path")
	}
	return nil
}

// ParseOptions parses a comma-separated list of key=value graph
// options, as accepted by GraphLab's --graph_opts flag, on top of
// DefaultOptions. For example:
//
//	ingress=ldg,nverts=4847571,nedges=68993773,threshold=10000
//
// Recognized keys are ingress, nverts, nedges, slack, threshold,
// lookup, capacity, and batch.
func ParseOptions(s string) (Options, error) {
	opts := DefaultOptions()
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return opts, errors.E(errors.Invalid, fmt.Sprintf("ingress: option %q: expected key=value", kv))
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		var err error
		switch key {
		case "ingress":
			opts.Strategy = val
		case "nverts":
			opts.NumVertices, err = strconv.ParseInt(val, 10, 64)
		case "nedges":
			opts.NumEdges, err = strconv.ParseInt(val, 10, 64)
		case "slack":
			opts.Slack, err = strconv.ParseFloat(val, 64)
		case "threshold":
			opts.Threshold, err = strconv.Atoi(val)
		case "lookup":
			opts.LookupPath = val
		case "capacity":
			opts.Capacity, err = strconv.ParseInt(val, 10, 64)
		case "batch":
			opts.BatchSize, err = strconv.Atoi(val)
		default:
			return opts, errors.E(errors.Invalid, fmt.Sprintf("ingress: unknown option %q", key))
		}
		if err != nil {
			return opts, errors.E(errors.Invalid, fmt.Sprintf("ingress: option %s", key), err)
		}
	}
	return opts, opts.Validate()
}

// String returns the options in the format accepted by
// ParseOptions.
func (o Options) String() string {
	s := fmt.Sprintf("ingress=%s,nverts=%d,nedges=%d,slack=%g,threshold=%d",
		o.Strategy, o.NumVertices, o.NumEdges, o.Slack, o.Threshold)
	if o.LookupPath != "" {
		s += ",lookup=" + o.LookupPath
	}
	if o.Capacity != 0 {
		s += fmt.Sprintf(",capacity=%d", o.Capacity)
	}
	if o.BatchSize != 0 {
		s += fmt.Sprintf(",batch=%d", o.BatchSize)
	}
	return s
}

func strategyNames() []string {
	var names []string
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
