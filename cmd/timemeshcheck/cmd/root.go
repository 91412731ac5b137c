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

package cmd

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"
)

// RootCmd is a main entry point. It's exported so timemeshcheck could be easily extended without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "timemeshcheck",
	Short: "Verify timemesh proof chains and consensus time",
}

var verbose bool
var daURL string
var keysPath string

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&daURL, "url", "u", "http://localhost:8000", "base URL of the data-availability layer")
	RootCmd.PersistentFlags().StringVarP(&keysPath, "keys", "k", "", "yaml file mapping node ids to hex ed25519 public keys")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Needs to be called by any subcommand.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// loadKeys reads the trusted key registry, if configured.
func loadKeys() (map[string]ed25519.PublicKey, error) {
	keys := map[string]ed25519.PublicKey{}
	if keysPath == "" {
		return keys, nil
	}
	data, err := os.ReadFile(keysPath)
	if err != nil {
		return nil, err
	}
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for nodeID, hexKey := range raw {
		b, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decoding key of node %.8s: %w", nodeID, err)
		}
		if len(b) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("key of node %.8s has %d bytes, want %d", nodeID, len(b), ed25519.PublicKeySize)
		}
		keys[nodeID] = ed25519.PublicKey(b)
	}
	return keys, nil
}

// Execute is the main entry point for CLI interface
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
