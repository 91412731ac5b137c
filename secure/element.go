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
Package secure implements the node's secure element: a stable random
identity and an Ed25519 keypair used to sign time proofs. The private
key is generated at construction and never leaves the element.
*/
package secure

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Element holds the node identity and signing keys.
type Element struct {
	nodeID string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
}

// NewElement generates a fresh identity and keypair.
func NewElement() (*Element, error) {
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("generating node id: %w", err)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return &Element{
		nodeID: hex.EncodeToString(id),
		priv:   priv,
		pub:    pub,
	}, nil
}

// NodeID returns the hex-encoded node identity.
func (e *Element) NodeID() string {
	return e.nodeID
}

// PublicKey returns a copy of the verification key.
func (e *Element) PublicKey() ed25519.PublicKey {
	pub := make(ed25519.PublicKey, len(e.pub))
	copy(pub, e.pub)
	return pub
}

// Sign signs data with the element's private key.
// Ed25519 signatures are deterministic for a given key and message.
func (e *Element) Sign(data []byte) []byte {
	return ed25519.Sign(e.priv, data)
}

// Verify reports whether sig is a valid signature of data under pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
