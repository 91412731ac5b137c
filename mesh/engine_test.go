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
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timemesh/timemesh/hlc"
	"github.com/timemesh/timemesh/oscillator"
	"github.com/timemesh/timemesh/protocol"
)

var testKey = []byte("shared-mesh-secret")

// newTestEngine builds an engine with its oscillator disciplined to
// the host wall clock, so engines in one test agree on absolute time.
func newTestEngine(t *testing.T, cfg *Config) (*Engine, *Stats) {
	t.Helper()
	osc := oscillator.New()
	osc.SetOffset(float64(time.Now().UnixNano())/1e9 - osc.Elapsed())
	clock := hlc.New(fmt.Sprintf("node-%p", osc), osc)
	stats := NewStats()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.BindHost = "127.0.0.1"
	cfg.HMACKey = testKey
	e, err := NewEngine(cfg, osc, clock, stats)
	require.NoError(t, err)
	return e, stats
}

func TestEngineRequiresKey(t *testing.T) {
	osc := oscillator.New()
	clock := hlc.New("n1", osc)
	_, err := NewEngine(&Config{BindHost: "127.0.0.1"}, osc, clock, NewStats())
	require.Error(t, err)
}

func TestTwoNodeHandshake(t *testing.T) {
	cfgA := &Config{GossipPeriod: 50 * time.Millisecond}
	cfgB := &Config{GossipPeriod: 50 * time.Millisecond}
	a, statsA := newTestEngine(t, cfgA)
	b, _ := newTestEngine(t, cfgB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()

	require.NoError(t, a.Bootstrap(b.LocalAddr().String()))

	// after the join propagates and a gossip cycle completes, each
	// peer set contains the other
	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Contains(t, b.Peers(), a.LocalAddr().String())
	require.Contains(t, a.Peers(), b.LocalAddr().String())

	// a completed exchange yields a non-negative latency estimate
	require.Eventually(t, func() bool {
		_, ok := a.PeerLatency(b.LocalAddr().String())
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	lat, ok := a.PeerLatency(b.LocalAddr().String())
	require.True(t, ok)
	require.GreaterOrEqual(t, lat, 0.0)
	require.Less(t, lat, 0.5)

	// both disciplined to the same host clock: the physical
	// estimates stay within tens of milliseconds
	require.Eventually(t, func() bool {
		return statsA.Snapshot()["mesh.rx.time_response"] > 0
	}, 5*time.Second, 10*time.Millisecond)
	diff := a.Physical() - b.Physical()
	if diff < 0 {
		diff = -diff
	}
	require.Less(t, diff, 0.05)
}

// signedFrom builds an authentic datagram as if sent by a peer at addr.
func signedFrom(t *testing.T, addr *net.UDPAddr, msgType string, payload interface{}, wallTS float64) []byte {
	t.Helper()
	ts := hlc.Timestamp{PT: wallTS, LC: 0, ID: addr.String()}
	m, err := protocol.New(msgType, addr.String(), ts, payload, wallTS)
	require.NoError(t, err)
	buf, err := m.Encode(testKey)
	require.NoError(t, err)
	return buf
}

func TestReplayRejected(t *testing.T) {
	e, stats := newTestEngine(t, nil)
	defer e.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 45001}
	now := float64(time.Now().UnixNano()) / 1e9
	buf := signedFrom(t, addr, protocol.TypeTimeRequest, &protocol.TimeRequest{T1: 100}, now)

	e.handleDatagram(buf, addr)
	e.handleDatagram(buf, addr)

	snap := stats.Snapshot()
	require.Equal(t, int64(1), snap["mesh.rx.time_request"])
	require.Equal(t, int64(1), snap["mesh.tx.time_response"])
	require.Equal(t, int64(1), snap["mesh.drop.replay"])
}

func TestAuthFailureLeavesStateUntouched(t *testing.T) {
	e, stats := newTestEngine(t, nil)
	defer e.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 45002}
	now := float64(time.Now().UnixNano()) / 1e9
	ts := hlc.Timestamp{PT: now, LC: 0, ID: addr.String()}
	m, err := protocol.New(protocol.TypeJoin, addr.String(), ts, &protocol.Join{}, now)
	require.NoError(t, err)
	buf, err := m.Encode([]byte("wrong-key"))
	require.NoError(t, err)

	physBefore := e.Physical()
	hlcBefore := e.clock.Last()

	e.handleDatagram(buf, addr)

	require.Empty(t, e.Peers())
	require.Equal(t, 0, e.WindowLen())
	require.Equal(t, physBefore, e.Physical())
	require.Equal(t, hlcBefore, e.clock.Last())
	e.mu.Lock()
	require.Equal(t, 0, e.replay.len())
	e.mu.Unlock()

	snap := stats.Snapshot()
	require.Equal(t, int64(1), snap["mesh.drop.auth"])
	require.Equal(t, int64(0), snap["mesh.rx.join"])
}

func TestSkewRejected(t *testing.T) {
	e, stats := newTestEngine(t, nil)
	defer e.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 45003}
	stale := float64(time.Now().UnixNano())/1e9 - 120
	buf := signedFrom(t, addr, protocol.TypeJoin, &protocol.Join{}, stale)

	e.handleDatagram(buf, addr)

	require.Empty(t, e.Peers())
	snap := stats.Snapshot()
	require.Equal(t, int64(1), snap["mesh.drop.skew"])
}

func TestParseErrorCounted(t *testing.T) {
	e, stats := newTestEngine(t, nil)
	defer e.Close()

	e.handleDatagram([]byte("not json"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 45004})
	require.Equal(t, int64(1), stats.Snapshot()["mesh.drop.parse"])
}

func TestJoinAddsPeer(t *testing.T) {
	e, stats := newTestEngine(t, nil)
	defer e.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 45005}
	now := float64(time.Now().UnixNano()) / 1e9
	buf := signedFrom(t, addr, protocol.TypeJoin, &protocol.Join{}, now)

	e.handleDatagram(buf, addr)
	require.Contains(t, e.Peers(), addr.String())
	require.Equal(t, int64(1), stats.Snapshot()["mesh.rx.join"])
}

// Three honest peers around 100.002 and one liar at 999.9: with F=1
// the liar is evicted or outvoted and the fused clock stays honest.
func TestMarzulloFusion(t *testing.T) {
	e, stats := newTestEngine(t, nil)
	defer e.Close()

	// rebase the oscillator to ~100s so samples are comparable
	e.osc.SetOffset(100.0 - e.osc.Elapsed())
	e.mu.Lock()
	e.physical = e.osc.Time()
	e.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9
	clocks := []float64{999.9, 100.000, 100.002, 100.004}
	for i, remote := range clocks {
		addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 46000 + i}
		e.addPeer(addr)
		t1 := e.osc.Time()
		e.mu.Lock()
		e.pending[addr.String()] = t1
		e.mu.Unlock()

		payload := &protocol.TimeResponse{
			HLC:           hlc.Timestamp{PT: remote, LC: 0, ID: addr.String()},
			LogicalClock:  0,
			PhysicalClock: remote,
			T1:            t1,
			T2:            t1,
			T3:            t1,
		}
		buf := signedFrom(t, addr, protocol.TypeTimeResponse, payload, now)
		e.handleDatagram(buf, addr)
	}

	require.Equal(t, 3, e.WindowLen())
	snap := stats.Snapshot()
	require.Equal(t, int64(4), snap["mesh.rx.time_response"])
	require.GreaterOrEqual(t, snap["mesh.fusions"], int64(1))

	// the liar never drags the fused clock away from the honest band
	require.InDelta(t, 100.002, e.Physical(), 0.005)
}

func TestUnsolicitedResponseDropped(t *testing.T) {
	e, stats := newTestEngine(t, nil)
	defer e.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 45006}
	e.addPeer(addr)
	now := float64(time.Now().UnixNano()) / 1e9
	payload := &protocol.TimeResponse{PhysicalClock: 100, T1: 1, T2: 1, T3: 1}
	buf := signedFrom(t, addr, protocol.TypeTimeResponse, payload, now)

	// no pending exchange for this peer: nothing is recorded
	e.handleDatagram(buf, addr)
	require.Equal(t, 0, e.WindowLen())
	require.Equal(t, int64(1), stats.Snapshot()["mesh.rx.time_response"])
}

func TestCurrentTime(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	defer e.Close()

	tt := e.CurrentTime()
	width := tt.Latest - tt.Earliest
	require.InDelta(t, 2*DefaultUncertaintyWindow.Seconds(), width, 0.000001)

	// the interval is centered on max(oscillator, hlc.pt)
	osc := e.osc.Time()
	center := (tt.Earliest + tt.Latest) / 2
	require.GreaterOrEqual(t, center+0.001, osc)
}
