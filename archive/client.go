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
Package archive talks to the external data-availability layer that
stores time proofs. The layer is untrusted: nothing returned from it
is believed until re-verified by the caller.
*/
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/timemesh/timemesh/proof"
)

// DefaultTimeout bounds a single archival request.
const DefaultTimeout = 5 * time.Second

// maxResponseSize caps how much we read back from the untrusted layer.
const maxResponseSize = 16 << 20

// Client is an HTTP client for the data-availability layer.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the layer at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// SubmitProof posts a canonical proof to the layer.
func (c *Client) SubmitProof(ctx context.Context, p *proof.Proof) error {
	body, err := p.Canonical()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit_proof", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submitting proof: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("submitting proof: unexpected status %s", resp.Status)
	}
	return nil
}

// RecentProofs fetches the latest archived proofs from all nodes.
func (c *Client) RecentProofs(ctx context.Context) ([]*proof.Proof, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_recent_proofs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching recent proofs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetching recent proofs: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading recent proofs: %w", err)
	}
	var proofs []*proof.Proof
	if err := json.Unmarshal(body, &proofs); err != nil {
		return nil, fmt.Errorf("unmarshaling recent proofs: %w", err)
	}
	return proofs, nil
}
