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

package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timemesh/timemesh/gps"
	"github.com/timemesh/timemesh/proof"
	"github.com/timemesh/timemesh/secure"
)

func testProof(t *testing.T) *proof.Proof {
	t.Helper()
	e, err := secure.NewElement()
	require.NoError(t, err)
	p, err := proof.Build(e, &gps.Data{Week: 2300, Seconds: 12.5}, 100.5, 0.25, proof.ZeroHash)
	require.NoError(t, err)
	return p
}

func TestSubmitProof(t *testing.T) {
	p := testProof(t)
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/submit_proof", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.SubmitProof(context.Background(), p))

	want, err := p.Canonical()
	require.NoError(t, err)
	require.Equal(t, want, gotBody)
}

func TestSubmitProofServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.Error(t, c.SubmitProof(context.Background(), testProof(t)))
}

func TestRecentProofs(t *testing.T) {
	p := testProof(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/get_recent_proofs", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode([]*proof.Proof{p}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.RecentProofs(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, p, got[0])
}

func TestRecentProofsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.RecentProofs(context.Background())
	require.Error(t, err)
}
