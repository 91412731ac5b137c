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
Package proof implements the periodic time proof chain: hash-linked,
Ed25519-signed observations of (gps data, local time, oscillator
offset) that an external archival layer can store and any verifier can
walk. Struct fields are declared in sorted key order so the canonical
JSON form is deterministic.
*/
package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/timemesh/timemesh/gps"
)

// ZeroHash is the prev_hash of the first proof in a chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Proof is one hash-linked signed time observation.
type Proof struct {
	GPSData          *gps.Data `json:"gps_data"`
	LocalTime        float64   `json:"local_time"`
	NodeID           string    `json:"node_id"`
	Nonce            string    `json:"nonce"`
	OscillatorOffset float64   `json:"oscillator_offset"`
	PrevHash         string    `json:"prev_hash"`
	Signature        string    `json:"signature,omitempty"`
}

// Canonical returns the canonical serialization.
func (p *Proof) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// Digest is the SHA3-256 of the canonical form without the signature.
// This is what gets signed.
func (p *Proof) Digest() ([32]byte, error) {
	unsigned := *p
	unsigned.Signature = ""
	b, err := unsigned.Canonical()
	if err != nil {
		return [32]byte{}, err
	}
	return sha3.Sum256(b), nil
}

// Hash is the hex SHA3-256 of the canonical signed form. The next
// proof links to this.
func (p *Proof) Hash() (string, error) {
	b, err := p.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the proof signature is valid under pub.
func (p *Proof) Verify(pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(p.Signature)
	if err != nil {
		return false
	}
	digest, err := p.Digest()
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, digest[:], sig)
}

// Signer signs proof digests. The secure element implements this.
type Signer interface {
	NodeID() string
	Sign(data []byte) []byte
}

// Build assembles and signs a proof continuing the chain at prevHash.
func Build(signer Signer, data *gps.Data, localTime, oscillatorOffset float64, prevHash string) (*Proof, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating proof nonce: %w", err)
	}
	p := &Proof{
		GPSData:          data,
		LocalTime:        localTime,
		NodeID:           signer.NodeID(),
		Nonce:            hex.EncodeToString(nonce),
		OscillatorOffset: oscillatorOffset,
		PrevHash:         prevHash,
	}
	digest, err := p.Digest()
	if err != nil {
		return nil, err
	}
	p.Signature = hex.EncodeToString(signer.Sign(digest[:]))
	return p, nil
}

// VerifyChain walks proofs grouped per node, in the order given, and
// checks that every proof links to its predecessor and, when the
// node's public key is known, that its signature verifies. The first
// proof seen for a node either starts at ZeroHash or continues a
// truncated history; its link is unverifiable and accepted.
func VerifyChain(proofs []*Proof, keys map[string]ed25519.PublicKey) error {
	lastHash := map[string]string{}
	for i, p := range proofs {
		if pub, ok := keys[p.NodeID]; ok {
			if !p.Verify(pub) {
				return fmt.Errorf("proof %d: invalid signature for node %s", i, shortID(p.NodeID))
			}
		}
		if prev, ok := lastHash[p.NodeID]; ok && p.PrevHash != prev {
			return fmt.Errorf("proof %d: broken link for node %s", i, shortID(p.NodeID))
		}
		h, err := p.Hash()
		if err != nil {
			return fmt.Errorf("proof %d: %w", i, err)
		}
		lastHash[p.NodeID] = h
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return strings.TrimSpace(id)
}
