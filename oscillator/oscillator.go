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
Package oscillator provides the node's local time source: a monotonic
clock with a settable additive offset. The timekeeping unit disciplines
the offset against GPS; everything else in the node reads time through
here so that system clock jumps can never move our time backwards.
*/
package oscillator

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Oscillator is a monotonic time source with an additive offset.
// Time() = seconds since construction + offset.
type Oscillator struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	start  time.Time
	offset float64
}

// New returns an oscillator backed by the real monotonic clock.
func New() *Oscillator {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock returns an oscillator backed by the given clock,
// which tests typically set to a fake.
func NewWithClock(clock clockwork.Clock) *Oscillator {
	return &Oscillator{
		clock: clock,
		start: clock.Now(),
	}
}

// Time returns the oscillator reading in seconds.
func (o *Oscillator) Time() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.clock.Since(o.start).Seconds() + o.offset
}

// Elapsed returns the raw monotonic reading in seconds, without the
// offset applied. The timekeeping unit disciplines against this.
func (o *Oscillator) Elapsed() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.clock.Since(o.start).Seconds()
}

// SetOffset replaces the additive offset. Readers observe either the
// old or the new value, never a torn one.
func (o *Oscillator) SetOffset(offset float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offset = offset
}

// Offset returns the current additive offset in seconds.
func (o *Oscillator) Offset() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.offset
}
