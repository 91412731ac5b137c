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
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/timemesh/timemesh/mesh"
	"github.com/timemesh/timemesh/proof"
	"github.com/timemesh/timemesh/timekeep"
)

// ShutdownDeadline bounds how long tasks may take to observe a
// cancellation before shutdown is declared stuck.
const ShutdownDeadline = 2 * time.Second

// Config specifies node run options.
type Config struct {
	BindHost          string            `yaml:"bind_host"`
	BindPort          int               `yaml:"bind_port"`
	BootstrapPeer     string            `yaml:"bootstrap_peer"`
	HMACKey           string            `yaml:"hmac_key"`
	DAURL             string            `yaml:"da_url"`
	GPSDevice         string            `yaml:"gps_device"` // empty means simulated
	GPSBaud           int               `yaml:"gps_baud"`
	FaultTolerance    int               `yaml:"fault_tolerance"`
	GossipPeriod      time.Duration     `yaml:"gossip_period"`
	SyncInterval      time.Duration     `yaml:"sync_interval"`
	ProofInterval     time.Duration     `yaml:"proof_interval"`
	ExchangeTimeout   time.Duration     `yaml:"exchange_timeout"`
	SkewMax           time.Duration     `yaml:"skew_max"`
	UncertaintyWindow time.Duration     `yaml:"uncertainty_window"`
	UncertaintyExpr   string            `yaml:"uncertainty_expr"`
	MonitoringPort    int               `yaml:"monitoring_port"`
	PeerKeys          map[string]string `yaml:"peer_keys"` // node_id -> hex ed25519 public key
	ConsensusTol      float64           `yaml:"consensus_tolerance"`
}

// ReadConfig reads config from the file.
func ReadConfig(path string) (*Config, error) {
	c := &Config{}
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate fills defaults and rejects unusable configs.
func (c *Config) Validate() error {
	if c.HMACKey == "" {
		return fmt.Errorf("hmac_key must be configured: the mesh shares one pre-established secret")
	}
	if c.BindHost == "" {
		c.BindHost = "0.0.0.0"
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = timekeep.DefaultSyncInterval
	}
	if c.ProofInterval == 0 {
		c.ProofInterval = proof.DefaultInterval
	}
	if c.GossipPeriod == 0 {
		c.GossipPeriod = mesh.DefaultGossipPeriod
	}
	if c.ConsensusTol == 0 {
		c.ConsensusTol = 0.005
	}
	return nil
}

// TrustedKeys decodes the configured peer public keys.
func (c *Config) TrustedKeys() (map[string]ed25519.PublicKey, error) {
	keys := make(map[string]ed25519.PublicKey, len(c.PeerKeys))
	for nodeID, hexKey := range c.PeerKeys {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decoding public key of node %.8s: %w", nodeID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key of node %.8s has %d bytes, want %d", nodeID, len(raw), ed25519.PublicKeySize)
		}
		keys[nodeID] = ed25519.PublicKey(raw)
	}
	return keys, nil
}
