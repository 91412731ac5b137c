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
Package timekeep disciplines the local oscillator against GPS. Every
sync interval it acquires a fix and replaces the oscillator offset so
that oscillator time tracks GPS absolute time. A failed fix skips the
tick and the oscillator keeps running on its previous offset.
*/
package timekeep

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/timemesh/timemesh/gps"
	"github.com/timemesh/timemesh/oscillator"
)

// DefaultSyncInterval is how often we discipline against GPS.
const DefaultSyncInterval = 900 * time.Second

// Unit periodically disciplines an oscillator to a GPS source.
type Unit struct {
	gps      gps.Source
	osc      *oscillator.Oscillator
	clock    clockwork.Clock
	interval time.Duration

	mu       sync.Mutex
	lastSync float64
	synced   bool
}

// New returns a timekeeping unit with the default sync interval.
func New(src gps.Source, osc *oscillator.Oscillator) *Unit {
	return &Unit{
		gps:      src,
		osc:      osc,
		clock:    clockwork.NewRealClock(),
		interval: DefaultSyncInterval,
	}
}

// NewWithInterval returns a unit syncing on a custom interval,
// driven by the given clock.
func NewWithInterval(src gps.Source, osc *oscillator.Oscillator, interval time.Duration, clock clockwork.Clock) *Unit {
	u := New(src, osc)
	u.interval = interval
	u.clock = clock
	return u
}

// Run disciplines the oscillator until ctx is cancelled. The first
// sync happens immediately.
func (u *Unit) Run(ctx context.Context) error {
	timer := u.clock.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			timer.Reset(u.interval)
			if err := u.Synchronize(ctx); err != nil {
				log.Warningf("gps sync skipped: %v", err)
			}
		}
	}
}

// Synchronize acquires one fix and sets the oscillator offset to
// gpsTime minus the raw monotonic reading (Oscillator.Elapsed), so
// that the oscillator time equals gpsTime right after the sync.
func (u *Unit) Synchronize(ctx context.Context) error {
	data, err := u.gps.TimeData(ctx)
	if err != nil {
		return err
	}
	offset := data.Time() - u.osc.Elapsed()
	u.osc.SetOffset(offset)
	u.mu.Lock()
	u.lastSync = u.osc.Time()
	u.synced = true
	u.mu.Unlock()
	log.Debugf("disciplined oscillator: offset adjustment %.9fs", offset)
	return nil
}

// CurrentTime returns the disciplined oscillator reading.
func (u *Unit) CurrentTime() float64 {
	return u.osc.Time()
}

// Oscillator returns the disciplined oscillator.
func (u *Unit) Oscillator() *oscillator.Oscillator {
	return u.osc
}

// LastSync returns the oscillator time of the last successful sync and
// whether any sync has happened yet.
func (u *Unit) LastSync() (float64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastSync, u.synced
}

// WithinRange reports whether ts is within tolerance seconds of ref.
func WithinRange(ts, ref, tolerance float64) bool {
	return math.Abs(ts-ref) <= tolerance
}
