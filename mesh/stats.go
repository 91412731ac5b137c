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

package mesh

import (
	"sync"
)

// StatsServer is the engine's view of the monitoring sink.
type StatsServer interface {
	IncRXTimeRequest()
	IncRXTimeResponse()
	IncRXJoin()
	IncTXTimeRequest()
	IncTXTimeResponse()
	IncTXJoin()
	IncAuthFailure()
	IncReplay()
	IncSkew()
	IncParseError()
	IncTimeout()
	IncFusion()
	SetPeers(peers int)
	SetWindowSize(size int)
	SetUncertainty(seconds float64)
	SetPhysicalClock(seconds float64)
}

// Stats is an in-memory StatsServer.
type Stats struct {
	mu sync.Mutex

	rxTimeRequest  int64
	rxTimeResponse int64
	rxJoin         int64
	txTimeRequest  int64
	txTimeResponse int64
	txJoin         int64
	authFailure    int64
	replay         int64
	skew           int64
	parseError     int64
	timeout        int64
	fusion         int64
	peers          int64
	windowSize     int64
	uncertaintyUs  int64
	physicalClock  float64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) inc(field *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*field++
}

// IncRXTimeRequest counts a received time_request.
func (s *Stats) IncRXTimeRequest() { s.inc(&s.rxTimeRequest) }

// IncRXTimeResponse counts a received time_response.
func (s *Stats) IncRXTimeResponse() { s.inc(&s.rxTimeResponse) }

// IncRXJoin counts a received join.
func (s *Stats) IncRXJoin() { s.inc(&s.rxJoin) }

// IncTXTimeRequest counts a sent time_request.
func (s *Stats) IncTXTimeRequest() { s.inc(&s.txTimeRequest) }

// IncTXTimeResponse counts a sent time_response.
func (s *Stats) IncTXTimeResponse() { s.inc(&s.txTimeResponse) }

// IncTXJoin counts a sent join.
func (s *Stats) IncTXJoin() { s.inc(&s.txJoin) }

// IncAuthFailure counts a message dropped for a bad MAC.
func (s *Stats) IncAuthFailure() { s.inc(&s.authFailure) }

// IncReplay counts a message dropped as a replay.
func (s *Stats) IncReplay() { s.inc(&s.replay) }

// IncSkew counts a message dropped for wall_ts skew.
func (s *Stats) IncSkew() { s.inc(&s.skew) }

// IncParseError counts an undecodable datagram.
func (s *Stats) IncParseError() { s.inc(&s.parseError) }

// IncTimeout counts a time_request that got no response in time.
func (s *Stats) IncTimeout() { s.inc(&s.timeout) }

// IncFusion counts a median fusion of the sample window.
func (s *Stats) IncFusion() { s.inc(&s.fusion) }

// SetPeers records the peer set size.
func (s *Stats) SetPeers(peers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = int64(peers)
}

// SetWindowSize records the sample window fill.
func (s *Stats) SetWindowSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowSize = int64(size)
}

// SetUncertainty records the current interval half-width.
func (s *Stats) SetUncertainty(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uncertaintyUs = int64(seconds * 1e6)
}

// SetPhysicalClock records the fused physical clock estimate.
func (s *Stats) SetPhysicalClock(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.physicalClock = seconds
}

// Snapshot returns all counters keyed for the monitoring endpoint.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int64{
		"mesh.rx.time_request":  s.rxTimeRequest,
		"mesh.rx.time_response": s.rxTimeResponse,
		"mesh.rx.join":          s.rxJoin,
		"mesh.tx.time_request":  s.txTimeRequest,
		"mesh.tx.time_response": s.txTimeResponse,
		"mesh.tx.join":          s.txJoin,
		"mesh.drop.auth":        s.authFailure,
		"mesh.drop.replay":      s.replay,
		"mesh.drop.skew":        s.skew,
		"mesh.drop.parse":       s.parseError,
		"mesh.drop.timeout":     s.timeout,
		"mesh.fusions":          s.fusion,
		"mesh.peers":            s.peers,
		"mesh.window_size":      s.windowSize,
		"mesh.uncertainty_us":   s.uncertaintyUs,
		"mesh.physical_clock":   int64(s.physicalClock),
	}
}

var _ StatsServer = (*Stats)(nil)
