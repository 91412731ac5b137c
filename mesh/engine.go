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
Package mesh implements the peer synchronization engine: gossiping
time_request/time_response exchanges over UDP, latency-cancelled
samples of peer clocks, fault-tolerant median fusion over a bounded
window, and the bounded-time interval consumers read.
*/
package mesh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/timemesh/timemesh/hlc"
	"github.com/timemesh/timemesh/oscillator"
	"github.com/timemesh/timemesh/protocol"
)

// Engine defaults.
const (
	DefaultGossipPeriod      = time.Second
	DefaultExchangeTimeout   = time.Second
	DefaultFaultTolerance    = 1
	DefaultUncertaintyWindow = 10 * time.Millisecond
	// DefaultLocalWeight biases fusion toward the GPS-disciplined
	// local clock; peer samples are redundancy, not the baseline.
	DefaultLocalWeight = 0.8
)

// Config holds engine run options.
type Config struct {
	BindHost          string
	BindPort          int
	HMACKey           []byte
	FaultTolerance    int
	GossipPeriod      time.Duration
	ExchangeTimeout   time.Duration
	SkewMax           time.Duration
	UncertaintyWindow time.Duration
	UncertaintyExpr   string
	LocalWeight       float64
}

func (c *Config) withDefaults() {
	if c.FaultTolerance <= 0 {
		c.FaultTolerance = DefaultFaultTolerance
	}
	if c.GossipPeriod == 0 {
		c.GossipPeriod = DefaultGossipPeriod
	}
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = DefaultExchangeTimeout
	}
	if c.SkewMax == 0 {
		c.SkewMax = protocol.DefaultSkewMax
	}
	if c.UncertaintyWindow == 0 {
		c.UncertaintyWindow = DefaultUncertaintyWindow
	}
	if c.LocalWeight == 0 {
		c.LocalWeight = DefaultLocalWeight
	}
}

// Peer is a known mesh member with its rolling latency estimate.
type Peer struct {
	Addr    *net.UDPAddr
	Latency float64 // one-way, seconds, EMA
	seen    bool    // latency EMA initialized
}

// TrueTime is the interval we are confident the true time lies in.
type TrueTime struct {
	Earliest float64
	Latest   float64
}

// Engine owns the peer set, the sample window and the replay cache,
// and runs the gossip exchange.
type Engine struct {
	cfg    *Config
	stats  StatsServer
	osc    *oscillator.Oscillator
	clock  *hlc.Clock
	wall   clockwork.Clock
	uncert *uncertainty
	sender string
	conn   *net.UDPConn

	mu       sync.Mutex
	peers    map[string]*Peer
	pending  map[string]float64 // peer addr -> t1 of the in-flight request
	window   *sampleWindow
	replay   *replayCache
	physical float64
	logical  uint64
}

// NewEngine binds the UDP socket and returns a ready engine.
func NewEngine(cfg *Config, osc *oscillator.Oscillator, clock *hlc.Clock, stats StatsServer) (*Engine, error) {
	cfg.withDefaults()
	if len(cfg.HMACKey) == 0 {
		return nil, fmt.Errorf("refusing to run without a shared HMAC key")
	}
	uncert, err := newUncertainty(cfg.UncertaintyWindow.Seconds(), cfg.UncertaintyExpr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.BindHost), Port: cfg.BindPort})
	if err != nil {
		return nil, fmt.Errorf("binding to %s:%d: %w", cfg.BindHost, cfg.BindPort, err)
	}
	e := &Engine{
		cfg:      cfg,
		stats:    stats,
		osc:      osc,
		clock:    clock,
		wall:     clockwork.NewRealClock(),
		uncert:   uncert,
		sender:   conn.LocalAddr().String(),
		conn:     conn,
		peers:    map[string]*Peer{},
		pending:  map[string]float64{},
		window:   newSampleWindow(2*cfg.FaultTolerance + 1),
		replay:   newReplayCache(),
		physical: osc.Time(),
	}
	return e, nil
}

// Close releases the UDP socket. Run does this itself on cancellation.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// LocalAddr returns the bound UDP address.
func (e *Engine) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Run serves inbound messages and drives the gossip ticker until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	// unblock the reader on cancellation
	eg.Go(func() error {
		<-ctx.Done()
		e.conn.Close()
		return ctx.Err()
	})

	eg.Go(func() error {
		buf := make([]byte, protocol.MaxDatagramSize+1)
		for {
			n, addr, err := e.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					log.Debug("cancelled receiver")
					return ctx.Err()
				default:
					return fmt.Errorf("reading datagram: %w", err)
				}
			}
			e.handleDatagram(buf[:n], addr)
		}
	})

	eg.Go(func() error {
		ticker := e.wall.NewTicker(e.cfg.GossipPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug("cancelled gossip ticker")
				return ctx.Err()
			case <-ticker.Chan():
				e.gossipTick()
			}
		}
	})

	return eg.Wait()
}

// Bootstrap joins the mesh through a known peer.
func (e *Engine) Bootstrap(peer string) error {
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return fmt.Errorf("resolving bootstrap peer %q: %w", peer, err)
	}
	e.addPeer(addr)
	m, err := protocol.New(protocol.TypeJoin, e.sender, e.clock.Now(), &protocol.Join{}, e.wallNow())
	if err != nil {
		return err
	}
	buf, err := m.Encode(e.cfg.HMACKey)
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDP(buf, addr); err != nil {
		return fmt.Errorf("sending join to %s: %w", addr, err)
	}
	e.stats.IncTXJoin()
	log.Infof("joining mesh via %s", addr)
	return nil
}

// CurrentTime returns the bounded-time interval: the best physical
// estimate plus/minus the uncertainty half-width.
func (e *Engine) CurrentTime() TrueTime {
	pt := e.osc.Time()
	if last := e.clock.Last(); last.PT > pt {
		pt = last.PT
	}
	u := e.uncert.window()
	e.stats.SetUncertainty(u)
	return TrueTime{Earliest: pt - u, Latest: pt + u}
}

// Peers returns the addresses of all known peers.
func (e *Engine) Peers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.peers))
	for addr := range e.peers {
		out = append(out, addr)
	}
	return out
}

// PeerLatency returns the one-way latency estimate for a peer.
func (e *Engine) PeerLatency(addr string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.peers[addr]
	if !ok || !p.seen {
		return 0, false
	}
	return p.Latency, true
}

// Physical returns the fused physical clock estimate.
func (e *Engine) Physical() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.physical
}

// WindowLen returns the sample window fill, for monitoring.
func (e *Engine) WindowLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.len()
}

func (e *Engine) wallNow() float64 {
	return float64(e.wall.Now().UnixNano()) / 1e9
}

// gossipTick sends a time_request to every known peer. Requests still
// pending from the previous tick have timed out.
func (e *Engine) gossipTick() {
	e.mu.Lock()
	targets := make([]*Peer, 0, len(e.peers))
	for _, p := range e.peers {
		targets = append(targets, p)
	}
	e.mu.Unlock()
	for _, p := range targets {
		if err := e.sendTimeRequest(p); err != nil {
			log.Warningf("time request to %s: %v", p.Addr, err)
		}
	}
}

func (e *Engine) sendTimeRequest(p *Peer) error {
	t1 := e.osc.Time()
	m, err := protocol.New(protocol.TypeTimeRequest, e.sender, e.clock.Now(), &protocol.TimeRequest{T1: t1}, e.wallNow())
	if err != nil {
		return err
	}
	buf, err := m.Encode(e.cfg.HMACKey)
	if err != nil {
		return err
	}
	key := p.Addr.String()
	e.mu.Lock()
	if old, stale := e.pending[key]; stale && t1-old >= e.cfg.ExchangeTimeout.Seconds() {
		// previous exchange never completed; drop it silently
		e.stats.IncTimeout()
	}
	e.pending[key] = t1
	e.mu.Unlock()
	if _, err := e.conn.WriteToUDP(buf, p.Addr); err != nil {
		return err
	}
	e.stats.IncTXTimeRequest()
	return nil
}

// handleDatagram runs the full accept pipeline: parse, MAC, skew,
// replay, then dispatch. Any rejected message leaves engine state
// untouched.
func (e *Engine) handleDatagram(buf []byte, addr *net.UDPAddr) {
	msg, err := protocol.Decode(buf)
	if err != nil {
		e.stats.IncParseError()
		log.Debugf("dropping datagram from %s: %v", addr, err)
		return
	}
	if msg.Sender == e.sender {
		return
	}
	if !msg.VerifyMAC(e.cfg.HMACKey) {
		e.stats.IncAuthFailure()
		log.Debugf("dropping datagram from %s: bad MAC", addr)
		return
	}
	if !protocol.WithinSkew(msg.WallTS, e.wallNow(), e.cfg.SkewMax) {
		e.stats.IncSkew()
		log.Debugf("dropping datagram from %s: wall_ts outside skew window", addr)
		return
	}
	if e.replayed(msg.ID()) {
		e.stats.IncReplay()
		log.Debugf("dropping datagram from %s: replayed message id", addr)
		return
	}
	switch msg.Type {
	case protocol.TypeTimeRequest:
		e.handleTimeRequest(msg, addr)
	case protocol.TypeTimeResponse:
		e.handleTimeResponse(msg, addr)
	case protocol.TypeJoin:
		e.handleJoin(addr)
	}
}

func (e *Engine) replayed(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replay.observe(id)
}

func (e *Engine) handleTimeRequest(msg *protocol.Message, addr *net.UDPAddr) {
	e.stats.IncRXTimeRequest()
	p, err := msg.TimeRequestPayload()
	if err != nil {
		e.stats.IncParseError()
		return
	}
	t2 := e.osc.Time()
	e.mu.Lock()
	physical, logical := e.physical, e.logical
	e.mu.Unlock()
	ts := e.clock.Now()
	payload := &protocol.TimeResponse{
		HLC:           ts,
		LogicalClock:  logical,
		PhysicalClock: physical,
		T1:            p.T1,
		T2:            t2,
		T3:            e.osc.Time(),
	}
	resp, err := protocol.New(protocol.TypeTimeResponse, e.sender, ts, payload, e.wallNow())
	if err != nil {
		log.Errorf("building time response: %v", err)
		return
	}
	buf, err := resp.Encode(e.cfg.HMACKey)
	if err != nil {
		log.Errorf("encoding time response: %v", err)
		return
	}
	if _, err := e.conn.WriteToUDP(buf, addr); err != nil {
		log.Warningf("time response to %s: %v", addr, err)
		return
	}
	e.stats.IncTXTimeResponse()
}

func (e *Engine) handleTimeResponse(msg *protocol.Message, addr *net.UDPAddr) {
	e.stats.IncRXTimeResponse()
	t4 := e.osc.Time()
	p, err := msg.TimeResponsePayload()
	if err != nil {
		e.stats.IncParseError()
		return
	}
	key := addr.String()

	e.mu.Lock()
	t1, ok := e.pending[key]
	if !ok || t1 != p.T1 {
		// unsolicited or superseded response
		e.mu.Unlock()
		log.Debugf("dropping unexpected time response from %s", key)
		return
	}
	delete(e.pending, key)
	if t4-t1 > e.cfg.ExchangeTimeout.Seconds() {
		e.mu.Unlock()
		e.stats.IncTimeout()
		return
	}

	rtt := (t4 - t1) - (p.T3 - p.T2)
	if rtt < 0 {
		rtt = 0
	}
	offset := ((p.T2 - t1) + (p.T3 - t4)) / 2

	peer, ok := e.peers[key]
	if ok {
		if peer.seen {
			peer.Latency = 0.5*peer.Latency + 0.5*rtt/2
		} else {
			peer.Latency = rtt / 2
			peer.seen = true
		}
	}

	// project the peer's physical clock to "now" at this node
	adjusted := p.PhysicalClock + offset + rtt/2
	e.window.add(Sample{Time: adjusted, Peer: key})
	windowLen := e.window.len()

	fused := false
	var newPhys float64
	if e.window.full() {
		median := e.window.median()
		e.physical = e.cfg.LocalWeight*e.physical + (1-e.cfg.LocalWeight)*median.Time
		e.logical++
		newPhys = e.physical
		fused = true
	}
	e.mu.Unlock()

	e.uncert.addRTT(rtt)
	e.stats.SetWindowSize(windowLen)
	if fused {
		e.clock.Advance(newPhys)
		e.stats.IncFusion()
		e.stats.SetPhysicalClock(newPhys)
	}
	e.clock.Merge(p.HLC)
}

func (e *Engine) handleJoin(addr *net.UDPAddr) {
	e.stats.IncRXJoin()
	e.addPeer(addr)
	log.Infof("new peer joined: %s", addr)
}

func (e *Engine) addPeer(addr *net.UDPAddr) {
	e.mu.Lock()
	key := addr.String()
	if _, ok := e.peers[key]; !ok {
		e.peers[key] = &Peer{Addr: addr}
	}
	peers := len(e.peers)
	e.mu.Unlock()
	e.stats.SetPeers(peers)
}
