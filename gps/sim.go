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

package gps

import (
	"context"
	"math/rand"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Simulated produces plausible fixes derived from the host clock, with
// randomized satellite data. All nodes simulating GPS on the same host
// therefore agree on time.
type Simulated struct {
	mu    sync.Mutex
	clock clockwork.Clock
	rng   *rand.Rand
}

// NewSimulated returns a simulated source seeded for reproducibility.
func NewSimulated(seed int64) *Simulated {
	return &Simulated{
		clock: clockwork.NewRealClock(),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// NewSimulatedWithClock returns a simulated source reading the given clock.
func NewSimulatedWithClock(seed int64, clock clockwork.Clock) *Simulated {
	s := NewSimulated(seed)
	s.clock = clock
	return s
}

// TimeData returns a fix for "now" with 4 simulated satellites in view.
func (s *Simulated) TimeData(_ context.Context) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	week, seconds := WeekSeconds(s.clock.Now().UTC())
	prns := make([]int, 4)
	strengths := make([]float64, 4)
	for i := range prns {
		prns[i] = 1 + s.rng.Intn(32)
		strengths[i] = 30 + 20*s.rng.Float64()
	}
	return &Data{
		Week:            week,
		Seconds:         seconds,
		SatellitePRNs:   prns,
		SignalStrengths: strengths,
	}, nil
}

var _ Source = (*Simulated)(nil)
