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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUncertaintyConstant(t *testing.T) {
	u, err := newUncertainty(0.01, "")
	require.NoError(t, err)
	require.InDelta(t, 0.01, u.window(), 0.000001)

	u.addRTT(5)
	require.InDelta(t, 0.01, u.window(), 0.000001)
}

func TestUncertaintyFormula(t *testing.T) {
	u, err := newUncertainty(0.01, "0.005 + 2.0 * stddev(rtt, 50)")
	require.NoError(t, err)

	// no samples yet: constant
	require.InDelta(t, 0.01, u.window(), 0.000001)

	// identical samples: stddev 0, floored at the constant
	for i := 0; i < 10; i++ {
		u.addRTT(0.002)
	}
	require.InDelta(t, 0.01, u.window(), 0.000001)

	// spread out samples widen the window
	for i := 0; i < 10; i++ {
		u.addRTT(float64(i) * 0.1)
	}
	require.Greater(t, u.window(), 0.01)
}

func TestUncertaintyBadFormula(t *testing.T) {
	_, err := newUncertainty(0.01, "mean(")
	require.Error(t, err)
}

func TestUncertaintyHistoryBounded(t *testing.T) {
	u, err := newUncertainty(0.01, "mean(rtt, 1000000)")
	require.NoError(t, err)
	for i := 0; i < 10*uncertaintyHistory; i++ {
		u.addRTT(1.0)
	}
	require.Len(t, u.rtts, uncertaintyHistory)
	require.InDelta(t, 1.0, u.window(), 0.000001)
}

func TestWelfordHelpers(t *testing.T) {
	require.InDelta(t, 2.0, mean([]float64{1, 2, 3}), 0.000001)
	require.InDelta(t, 1.0, variance([]float64{1, 2, 3}), 0.000001)
	require.InDelta(t, 1.0, stddev([]float64{1, 2, 3}), 0.000001)
}
