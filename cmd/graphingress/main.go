// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Graphingress places a synthetic, skewed graph on a set of
// processes with a configurable ingress strategy, and reports the
// resulting replication factor and balance.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/ingress"
	"github.com/grailbio/ingress/cluster"
	"github.com/grailbio/ingress/ingressconfig"
	"github.com/grailbio/ingress/internal/graphgen"
)

func init() {
	// Lookup tables may be stored on S3.
	file.RegisterImplementation("s3", s3file.NewImplementation(
		s3file.NewDefaultProvider(session.Options{})))
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: graphingress [flags]

Graphingress generates a graph whose degrees follow a Zipf
distribution and places it with an ingress strategy. Processes and
strategy are configured by the ingress/cluster and ingress profile
instances; -graph_opts overrides the strategy options, e.g.:

	graphingress -graph_opts ingress=dbh
	graphingress -graph_opts ingress=ldg,nverts=100000,threshold=1000

`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	var (
		nverts    = flag.Int("nverts", 100000, "number of vertices to generate")
		maxDegree = flag.Int("maxdegree", 1000, "maximum out-degree of a vertex")
		skew      = flag.Float64("skew", graphgen.DefaultSkew, "Zipf exponent of the degree distribution")
		seed      = flag.Int64("seed", 0, "generator seed")
		edges     = flag.Bool("edges", false, "stream edges instead of adjacency lists")
		graphOpts = flag.String("graph_opts", "", "strategy options, overriding the profile")
		console   = flag.Bool("status", false, "print status to stdout")
		tracePath = flag.String("trace", "", "write a Chrome trace of the job's phases to this path")
	)
	log.AddFlags()
	sess, opts := ingressconfig.Parse()
	defer sess.Shutdown()
	if *graphOpts != "" {
		var err error
		opts, err = ingress.ParseOptions(*graphOpts)
		must.Nil(err, "-graph_opts")
	}
	if *console {
		var reporter status.Reporter
		go reporter.Go(os.Stdout, sess.Status())
	}

	p := graphgen.Params{
		Seed:      *seed,
		Vertices:  *nverts,
		MaxDegree: *maxDegree,
		Skew:      *skew,
	}
	var inputs []ingress.Input
	if *edges {
		inputs = graphgen.Split(nil, graphgen.Edges(p), sess.Procs())
	} else {
		inputs = graphgen.Split(graphgen.Adjacency(p), nil, sess.Procs())
	}
	log.Printf("placing %d vertices on %d processes with %s", *nverts, sess.Procs(), opts)
	ctx := context.Background()
	result, err := sess.Run(ctx, inputs, opts)
	must.Nil(err)
	fmt.Println(result)
	if *tracePath != "" {
		must.Nil(writeTrace(ctx, *tracePath, result), "-trace")
	}
}

func writeTrace(ctx context.Context, path string, result *cluster.Result) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil {
			err = cerr
		}
	}()
	return result.WriteTrace(f.Writer(ctx))
}
