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

package proof

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/timemesh/timemesh/gps"
	"github.com/timemesh/timemesh/timekeep"
)

// DefaultInterval is how often a proof is generated.
const DefaultInterval = 60 * time.Second

// Sink archives generated proofs. The archival layer implements this.
type Sink interface {
	SubmitProof(ctx context.Context, p *Proof) error
}

// Generator produces the node's proof chain on a fixed schedule.
// Submission failures do not stall the chain: the proof is dropped and
// the chain continues forward.
type Generator struct {
	unit     *timekeep.Unit
	src      gps.Source
	signer   Signer
	sink     Sink
	clock    clockwork.Clock
	interval time.Duration

	mu       sync.Mutex
	lastHash string
	count    uint64
}

// NewGenerator returns a generator starting a fresh chain.
func NewGenerator(unit *timekeep.Unit, src gps.Source, signer Signer, sink Sink) *Generator {
	return &Generator{
		unit:     unit,
		src:      src,
		signer:   signer,
		sink:     sink,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		lastHash: ZeroHash,
	}
}

// NewGeneratorWithInterval returns a generator on a custom schedule,
// driven by the given clock.
func NewGeneratorWithInterval(unit *timekeep.Unit, src gps.Source, signer Signer, sink Sink, interval time.Duration, clock clockwork.Clock) *Generator {
	g := NewGenerator(unit, src, signer, sink)
	g.interval = interval
	g.clock = clock
	return g
}

// Run generates and submits proofs until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if _, err := g.GenerateAndSubmit(ctx); err != nil {
				log.Warningf("proof submission failed, will retry chain next interval: %v", err)
			}
		}
	}
}

// Generate assembles and signs the next proof in the chain. A GPS
// outage does not stop the chain; the proof simply carries no fix.
func (g *Generator) Generate(ctx context.Context) (*Proof, error) {
	data, err := g.src.TimeData(ctx)
	if err != nil {
		log.Warningf("generating proof without gps fix: %v", err)
		data = nil
	}
	localTime := g.unit.CurrentTime()
	offset := g.unit.Oscillator().Offset()

	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := Build(g.signer, data, localTime, offset, g.lastHash)
	if err != nil {
		return nil, err
	}
	h, err := p.Hash()
	if err != nil {
		return nil, err
	}
	g.lastHash = h
	g.count++
	return p, nil
}

// GenerateAndSubmit generates the next proof and hands it to the sink.
func (g *Generator) GenerateAndSubmit(ctx context.Context) (*Proof, error) {
	p, err := g.Generate(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.sink.SubmitProof(ctx, p); err != nil {
		return p, err
	}
	log.Debugf("archived proof %d, prev hash %s", g.Count(), p.PrevHash[:8])
	return p, nil
}

// LastHash returns the current chain head.
func (g *Generator) LastHash() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastHash
}

// Count returns how many proofs have been generated.
func (g *Generator) Count() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}
