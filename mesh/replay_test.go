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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayCache(t *testing.T) {
	r := newReplayCache()
	require.False(t, r.observe("a/n1@1.000000"))
	require.True(t, r.observe("a/n1@1.000000"))
	require.False(t, r.observe("a/n2@1.000000"))
	require.False(t, r.observe("b/n1@1.000000"))
}

func TestReplayCacheBounded(t *testing.T) {
	r := newReplayCache()
	for i := 0; i < 2*ReplayCacheSize; i++ {
		r.observe(fmt.Sprintf("a/n%d@1.0", i))
	}
	require.LessOrEqual(t, r.len(), ReplayCacheSize)

	// oldest entries were trimmed by LRU, so an ancient id is
	// accepted again (the skew check is what rejects it in practice)
	require.False(t, r.observe("a/n0@1.0"))
}
