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
Package gps acquires time fixes from a GPS receiver. A fix is expressed
as GPS week number plus seconds of week, which is what the timekeeping
unit disciplines the oscillator against. Two sources are provided: a
serial NMEA reader for real hardware and a simulated source for
development and tests.
*/
package gps

import (
	"context"
	"time"
)

// SecondsPerWeek is the number of seconds in a GPS week.
const SecondsPerWeek = 604800

// Epoch is the GPS time origin, 1980-01-06T00:00:00Z.
var Epoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// Data is a single fix from the receiver.
type Data struct {
	Seconds         float64   `json:"gps_seconds"`
	Week            int       `json:"gps_week"`
	SatellitePRNs   []int     `json:"satellite_prns"`
	SignalStrengths []float64 `json:"signal_strengths"`
}

// Time converts the fix to seconds since the GPS epoch.
func (d *Data) Time() float64 {
	return float64(d.Week)*SecondsPerWeek + d.Seconds
}

// Source yields time fixes. Any error means the fix is unavailable and
// the caller keeps running on its previous discipline.
type Source interface {
	TimeData(ctx context.Context) (*Data, error)
}

// WeekSeconds splits a UTC instant into GPS week number and seconds of
// week. Leap seconds are left to the receiver.
func WeekSeconds(t time.Time) (int, float64) {
	elapsed := t.Sub(Epoch).Seconds()
	week := int(elapsed / SecondsPerWeek)
	return week, elapsed - float64(week)*SecondsPerWeek
}
