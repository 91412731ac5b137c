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
Package consensus derives a fleet-wide reference time from recently
archived proofs: validate what the untrusted archive returned, then
take the median of the local_time fields. External verifiers compare
an action's claimed timestamp against this.
*/
package consensus

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/timemesh/timemesh/proof"
	"github.com/timemesh/timemesh/timekeep"
)

// DefaultTolerance is how far a timestamp may sit from consensus time
// and still be considered plausible.
const DefaultTolerance = 0.005

// Source fetches archived proofs. The archive client implements this.
type Source interface {
	RecentProofs(ctx context.Context) ([]*proof.Proof, error)
}

// Engine computes consensus time over validated proofs.
type Engine struct {
	src       Source
	keys      map[string]ed25519.PublicKey
	tolerance float64
}

// New returns an engine trusting the given node keys.
func New(src Source, keys map[string]ed25519.PublicKey) *Engine {
	return &Engine{
		src:       src,
		keys:      keys,
		tolerance: DefaultTolerance,
	}
}

// NewWithTolerance returns an engine with a custom plausibility bound.
func NewWithTolerance(src Source, keys map[string]ed25519.PublicKey, tolerance float64) *Engine {
	e := New(src, keys)
	e.tolerance = tolerance
	return e
}

// ConsensusTime fetches recent proofs, discards everything that does
// not verify, and returns the median local time.
func (e *Engine) ConsensusTime(ctx context.Context) (float64, error) {
	proofs, err := e.src.RecentProofs(ctx)
	if err != nil {
		return 0, err
	}
	valid := e.filterValid(proofs)
	if len(valid) == 0 {
		return 0, fmt.Errorf("no valid proofs among %d fetched", len(proofs))
	}
	times := make([]float64, 0, len(valid))
	for _, p := range valid {
		times = append(times, p.LocalTime)
	}
	return Median(times), nil
}

// ValidateAction reports whether ts is within tolerance of consensus.
func (e *Engine) ValidateAction(ctx context.Context, ts float64) (bool, error) {
	consensus, err := e.ConsensusTime(ctx)
	if err != nil {
		return false, err
	}
	return timekeep.WithinRange(ts, consensus, e.tolerance), nil
}

// filterValid drops proofs from unknown nodes, proofs with invalid
// signatures, and all proofs of any node whose chain links break.
func (e *Engine) filterValid(proofs []*proof.Proof) []*proof.Proof {
	byNode := map[string][]*proof.Proof{}
	for _, p := range proofs {
		pub, ok := e.keys[p.NodeID]
		if !ok {
			log.Debugf("dropping proof from unknown node %.8s", p.NodeID)
			continue
		}
		if !p.Verify(pub) {
			log.Warningf("dropping proof with invalid signature from node %.8s", p.NodeID)
			continue
		}
		byNode[p.NodeID] = append(byNode[p.NodeID], p)
	}
	valid := make([]*proof.Proof, 0, len(proofs))
	for nodeID, chain := range byNode {
		if err := proof.VerifyChain(chain, nil); err != nil {
			log.Warningf("dropping chain of node %.8s: %v", nodeID, err)
			continue
		}
		valid = append(valid, chain...)
	}
	return valid
}

// Median returns the median of times; for an even count, the mean of
// the two middle values.
func Median(times []float64) float64 {
	sorted := make([]float64, len(times))
	copy(sorted, times)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
