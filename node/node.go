/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package node assembles a timemesh node: oscillator, secure element,
GPS source, timekeeping unit, HLC, sync engine, proof generator and
consensus view, wired as a DAG with the node at the root, and runs the
periodic tasks under one shutdown signal.
*/
package node

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/timemesh/timemesh/archive"
	"github.com/timemesh/timemesh/consensus"
	"github.com/timemesh/timemesh/gps"
	"github.com/timemesh/timemesh/hlc"
	"github.com/timemesh/timemesh/mesh"
	"github.com/timemesh/timemesh/oscillator"
	"github.com/timemesh/timemesh/proof"
	"github.com/timemesh/timemesh/secure"
	"github.com/timemesh/timemesh/timekeep"
)

// Node is a running timemesh member.
type Node struct {
	cfg *Config

	Oscillator *oscillator.Oscillator
	Secure     *secure.Element
	GPS        gps.Source
	Timekeep   *timekeep.Unit
	HLC        *hlc.Clock
	Engine     *mesh.Engine
	Generator  *proof.Generator
	Archive    *archive.Client
	Consensus  *consensus.Engine
}

// New constructs all components. Leaves are built first and handed to
// their owners by reference; nothing starts until Run.
func New(cfg *Config, stats mesh.StatsServer) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	osc := oscillator.New()

	element, err := secure.NewElement()
	if err != nil {
		return nil, err
	}

	var src gps.Source
	if cfg.GPSDevice != "" {
		src = gps.NewSerial(cfg.GPSDevice, cfg.GPSBaud)
	} else {
		log.Warning("no gps device configured, using simulated source")
		src = gps.NewSimulated(rand.Int63())
	}

	unit := timekeep.NewWithInterval(src, osc, cfg.SyncInterval, clockwork.NewRealClock())
	clock := hlc.New(element.NodeID(), osc)

	engine, err := mesh.NewEngine(&mesh.Config{
		BindHost:          cfg.BindHost,
		BindPort:          cfg.BindPort,
		HMACKey:           []byte(cfg.HMACKey),
		FaultTolerance:    cfg.FaultTolerance,
		GossipPeriod:      cfg.GossipPeriod,
		ExchangeTimeout:   cfg.ExchangeTimeout,
		SkewMax:           cfg.SkewMax,
		UncertaintyWindow: cfg.UncertaintyWindow,
		UncertaintyExpr:   cfg.UncertaintyExpr,
	}, osc, clock, stats)
	if err != nil {
		return nil, err
	}

	var sink proof.Sink
	var arc *archive.Client
	if cfg.DAURL != "" {
		arc = archive.NewClient(cfg.DAURL)
		sink = arc
	} else {
		log.Warning("no da_url configured, proofs will not be archived")
		sink = nopSink{}
	}
	gen := proof.NewGeneratorWithInterval(unit, src, element, sink, cfg.ProofInterval, clockwork.NewRealClock())

	keys, err := cfg.TrustedKeys()
	if err != nil {
		return nil, err
	}
	// we always trust our own chain
	keys[element.NodeID()] = element.PublicKey()
	var cons *consensus.Engine
	if arc != nil {
		cons = consensus.NewWithTolerance(arc, keys, cfg.ConsensusTol)
	}

	return &Node{
		cfg:        cfg,
		Oscillator: osc,
		Secure:     element,
		GPS:        src,
		Timekeep:   unit,
		HLC:        clock,
		Engine:     engine,
		Generator:  gen,
		Archive:    arc,
		Consensus:  cons,
	}, nil
}

// Run starts all periodic tasks and blocks until ctx is cancelled or a
// task fails. On cancellation every task must wind down within
// ShutdownDeadline.
func (n *Node) Run(ctx context.Context) error {
	log.Infof("node %.8s listening on %s", n.Secure.NodeID(), n.Engine.LocalAddr())

	if n.cfg.BootstrapPeer != "" {
		if err := n.Engine.Bootstrap(n.cfg.BootstrapPeer); err != nil {
			return fmt.Errorf("bootstrapping: %w", err)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return n.Engine.Run(ctx) })
	eg.Go(func() error { return n.Timekeep.Run(ctx) })
	eg.Go(func() error { return n.Generator.Run(ctx) })

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(ShutdownDeadline):
			return fmt.Errorf("shutdown deadline of %s exceeded", ShutdownDeadline)
		}
	}
}

// CurrentTime returns the node's bounded-time interval.
func (n *Node) CurrentTime() mesh.TrueTime {
	return n.Engine.CurrentTime()
}

// ValidateAction checks a claimed timestamp against fleet consensus.
func (n *Node) ValidateAction(ctx context.Context, ts float64) (bool, error) {
	if n.Consensus == nil {
		return false, fmt.Errorf("consensus requires a configured da_url")
	}
	return n.Consensus.ValidateAction(ctx, ts)
}

type nopSink struct{}

func (nopSink) SubmitProof(_ context.Context, _ *proof.Proof) error { return nil }
