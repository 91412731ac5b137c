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

package oscillator

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestOscillatorTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := NewWithClock(clock)
	require.InDelta(t, 0.0, o.Time(), 0.000001)

	clock.Advance(1500 * time.Millisecond)
	require.InDelta(t, 1.5, o.Time(), 0.000001)

	clock.Advance(500 * time.Millisecond)
	require.InDelta(t, 2.0, o.Time(), 0.000001)
}

func TestOscillatorOffset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := NewWithClock(clock)

	o.SetOffset(100.5)
	require.InDelta(t, 100.5, o.Offset(), 0.000001)
	require.InDelta(t, 100.5, o.Time(), 0.000001)

	// negative offsets are valid too
	o.SetOffset(-3.25)
	clock.Advance(time.Second)
	require.InDelta(t, -2.25, o.Time(), 0.000001)
}

func TestOscillatorMonotonicAcrossOffset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := NewWithClock(clock)
	o.SetOffset(1000)

	before := o.Time()
	clock.Advance(10 * time.Millisecond)
	require.Greater(t, o.Time(), before)
}

func TestOscillatorConcurrentReaders(t *testing.T) {
	o := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				o.SetOffset(float64(n))
				got := o.Offset()
				// readers must never see a torn offset
				require.Contains(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, float64(n)}, got)
				_ = o.Time()
			}
		}(i)
	}
	wg.Wait()
}
