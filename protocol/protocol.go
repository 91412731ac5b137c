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
Package protocol defines the timemesh wire format: canonical JSON
datagrams authenticated with HMAC-SHA256 over a shared pre-established
key. Canonical means keys in sorted order with no extra whitespace, so
that the MAC is deterministic. Struct fields below are declared in
sorted key order on purpose; encoding/json preserves declaration order.
*/
package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timemesh/timemesh/hlc"
)

// Message kinds.
const (
	TypeTimeRequest  = "time_request"
	TypeTimeResponse = "time_response"
	TypeJoin         = "join"
)

// MaxDatagramSize is the largest datagram we emit or accept.
const MaxDatagramSize = 1500

// DefaultSkewMax bounds how far a message wall_ts may be from our wall
// clock before the message is dropped.
const DefaultSkewMax = 30 * time.Second

// Message is a single authenticated datagram.
type Message struct {
	HLC       hlc.Timestamp   `json:"hlc"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Sender    string          `json:"sender"`
	Signature string          `json:"signature,omitempty"`
	Type      string          `json:"type"`
	WallTS    float64         `json:"wall_ts"`
}

// TimeRequest is the payload of a time_request.
type TimeRequest struct {
	T1 float64 `json:"t1"`
}

// TimeResponse is the payload of a time_response.
type TimeResponse struct {
	HLC           hlc.Timestamp `json:"hlc"`
	LogicalClock  uint64        `json:"logical_clock"`
	PhysicalClock float64       `json:"physical_clock"`
	T1            float64       `json:"t1"`
	T2            float64       `json:"t2"`
	T3            float64       `json:"t3"`
}

// Join is the payload of a join. It carries nothing.
type Join struct{}

// New builds an unsigned message with a fresh nonce.
func New(msgType, sender string, ts hlc.Timestamp, payload interface{}, wallTS float64) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", msgType, err)
	}
	return &Message{
		HLC:     ts,
		Nonce:   uuid.New().String(),
		Payload: raw,
		Sender:  sender,
		Type:    msgType,
		WallTS:  wallTS,
	}, nil
}

// ID returns the sender-scoped replay detection token.
func (m *Message) ID() string {
	return fmt.Sprintf("%s/%s@%.6f", m.Sender, m.Nonce, m.WallTS)
}

// Canonical returns the canonical serialization with the current
// signature field as-is. MACs are computed over the canonical form
// with the signature omitted.
func (m *Message) Canonical() ([]byte, error) {
	return json.Marshal(m)
}

// Sign computes the HMAC over the canonical unsigned form and attaches
// the hex signature.
func (m *Message) Sign(key []byte) error {
	m.Signature = ""
	b, err := m.Canonical()
	if err != nil {
		return err
	}
	m.Signature = macHex(key, b)
	return nil
}

// VerifyMAC reports whether the message signature is valid under key.
func (m *Message) VerifyMAC(key []byte) bool {
	if m.Signature == "" {
		return false
	}
	unsigned := *m
	unsigned.Signature = ""
	b, err := unsigned.Canonical()
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(macHex(key, b)), []byte(m.Signature))
}

// Encode signs the message and returns the wire bytes.
func (m *Message) Encode(key []byte) ([]byte, error) {
	if err := m.Sign(key); err != nil {
		return nil, err
	}
	b, err := m.Canonical()
	if err != nil {
		return nil, err
	}
	if len(b) > MaxDatagramSize {
		return nil, fmt.Errorf("message of %d bytes exceeds datagram limit", len(b))
	}
	return b, nil
}

// Decode parses wire bytes into a message. It does not authenticate.
func Decode(buf []byte) (*Message, error) {
	if len(buf) > MaxDatagramSize {
		return nil, fmt.Errorf("datagram of %d bytes exceeds limit", len(buf))
	}
	m := &Message{}
	if err := json.Unmarshal(buf, m); err != nil {
		return nil, fmt.Errorf("unmarshaling datagram: %w", err)
	}
	switch m.Type {
	case TypeTimeRequest, TypeTimeResponse, TypeJoin:
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Sender == "" {
		return nil, fmt.Errorf("message without sender")
	}
	if m.Nonce == "" {
		return nil, fmt.Errorf("message without nonce")
	}
	return m, nil
}

// TimeRequestPayload decodes the payload of a time_request.
func (m *Message) TimeRequestPayload() (*TimeRequest, error) {
	p := &TimeRequest{}
	if err := json.Unmarshal(m.Payload, p); err != nil {
		return nil, fmt.Errorf("unmarshaling time_request payload: %w", err)
	}
	return p, nil
}

// TimeResponsePayload decodes the payload of a time_response.
func (m *Message) TimeResponsePayload() (*TimeResponse, error) {
	p := &TimeResponse{}
	if err := json.Unmarshal(m.Payload, p); err != nil {
		return nil, fmt.Errorf("unmarshaling time_response payload: %w", err)
	}
	return p, nil
}

// WithinSkew reports whether wallTS is within skewMax of now.
func WithinSkew(wallTS, now float64, skewMax time.Duration) bool {
	diff := wallTS - now
	if diff < 0 {
		diff = -diff
	}
	return diff <= skewMax.Seconds()
}

func macHex(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
