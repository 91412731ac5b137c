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

package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timemesh/timemesh/mesh"
	"github.com/timemesh/timemesh/proof"
)

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_host: "127.0.0.1"
bind_port: 9001
bootstrap_peer: "127.0.0.1:9002"
hmac_key: "mesh-secret"
da_url: "http://localhost:8000"
gossip_period: 1s
sync_interval: 15m
proof_interval: 1m
uncertainty_window: 10ms
peer_keys:
  aabb: "00112233"
`), 0644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.BindHost)
	require.Equal(t, 9001, cfg.BindPort)
	require.Equal(t, "127.0.0.1:9002", cfg.BootstrapPeer)
	require.Equal(t, "mesh-secret", cfg.HMACKey)
	require.Equal(t, time.Second, cfg.GossipPeriod)
	require.Equal(t, 15*time.Minute, cfg.SyncInterval)
	require.Equal(t, time.Minute, cfg.ProofInterval)
	require.Equal(t, 10*time.Millisecond, cfg.UncertaintyWindow)
	require.Equal(t, "00112233", cfg.PeerKeys["aabb"])

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg = &Config{HMACKey: "secret"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "0.0.0.0", cfg.BindHost)
	require.Equal(t, 900*time.Second, cfg.SyncInterval)
	require.Equal(t, 60*time.Second, cfg.ProofInterval)
	require.Equal(t, time.Second, cfg.GossipPeriod)
}

func TestTrustedKeysRejectsBadKeys(t *testing.T) {
	cfg := &Config{HMACKey: "s", PeerKeys: map[string]string{"n1": "zz"}}
	_, err := cfg.TrustedKeys()
	require.Error(t, err)

	cfg = &Config{HMACKey: "s", PeerKeys: map[string]string{"n1": "0011"}}
	_, err = cfg.TrustedKeys()
	require.Error(t, err)
}

// archiveServer is a minimal in-memory data-availability layer.
type archiveServer struct {
	mu     sync.Mutex
	proofs []*proof.Proof
}

func (a *archiveServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit_proof", func(w http.ResponseWriter, r *http.Request) {
		p := &proof.Proof{}
		if err := json.NewDecoder(r.Body).Decode(p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.mu.Lock()
		a.proofs = append(a.proofs, p)
		a.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/get_recent_proofs", func(w http.ResponseWriter, _ *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		_ = json.NewEncoder(w).Encode(a.proofs)
	})
	return mux
}

func (a *archiveServer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.proofs)
}

func TestNodeEndToEnd(t *testing.T) {
	arc := &archiveServer{}
	srv := httptest.NewServer(arc.handler())
	defer srv.Close()

	cfg := &Config{
		BindHost:      "127.0.0.1",
		HMACKey:       "mesh-secret",
		DAURL:         srv.URL,
		GossipPeriod:  50 * time.Millisecond,
		ProofInterval: 100 * time.Millisecond,
		SyncInterval:  time.Hour,
	}
	n, err := New(cfg, mesh.NewStats())
	require.NoError(t, err)
	require.NotNil(t, n.Consensus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// proofs flow to the archive on schedule
	require.Eventually(t, func() bool { return arc.count() >= 2 }, 5*time.Second, 10*time.Millisecond)

	// the node's own chain verifies and yields a consensus time
	consensusTime, err := n.Consensus.ConsensusTime(context.Background())
	require.NoError(t, err)
	require.Greater(t, consensusTime, 0.0)

	// bounded time: the interval is non-empty
	tt := n.CurrentTime()
	require.Less(t, tt.Earliest, tt.Latest)

	// shutdown respects the deadline
	start := time.Now()
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(ShutdownDeadline + time.Second):
		t.Fatal("node did not shut down")
	}
	require.Less(t, time.Since(start), ShutdownDeadline)
}
