// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ingressconfig provides a mechanism to create an ingress
// session and strategy options from a shared configuration.
// Ingressconfig uses the configuration mechanism in package
// github.com/grailbio/base/config, and reads a default profile from
// $HOME/.graphingress/config.
package ingressconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/ingress"
	"github.com/grailbio/ingress/cluster"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
)

// Path determines the location of the ingress profile read by
// Parse.
var Path = os.ExpandEnv("$HOME/.graphingress/config")

func init() {
	config.Register("ingress/testsystem", func(inst *config.Constructor) {
		inst.Doc = "ingress/testsystem runs each process on an in-process bigmachine"
		inst.New = func() (interface{}, error) {
			return testsystem.New(), nil
		}
	})
}

// Parse registers configuration flags and calls flag.Parse. It
// reads the ingress configuration from Path. Parse returns the
// session and strategy options as configured by the profile and any
// flags provided. Parse panics if session creation fails.
func Parse() (sess *cluster.Session, opts ingress.Options) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("ingress/cluster", &sess)
	config.Must("ingress", &opts)
	return sess, opts
}
