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
	"container/ring"
	"sort"
)

// Sample is one latency-adjusted observation of a peer's physical clock.
type Sample struct {
	Time float64
	Peer string
}

// sampleWindow is a FIFO ring of the last 2F+1 samples. Median
// selection is only meaningful once the window is full; that is what
// lets the fusion tolerate F adversarial samples.
type sampleWindow struct {
	size        int
	currentSize int
	samples     *ring.Ring
}

func newSampleWindow(size int) *sampleWindow {
	if size < 1 {
		size = 1
	}
	return &sampleWindow{
		size:    size,
		samples: ring.New(size),
	}
}

// add pushes a sample, evicting the oldest when full.
func (w *sampleWindow) add(s Sample) {
	w.samples = w.samples.Next()
	if w.currentSize < w.size {
		w.currentSize++
	}
	w.samples.Value = s
}

// full reports whether the window holds 2F+1 samples.
func (w *sampleWindow) full() bool {
	return w.currentSize == w.size
}

func (w *sampleWindow) len() int {
	return w.currentSize
}

// allSamples returns the window contents, oldest first.
func (w *sampleWindow) allSamples() []Sample {
	s := make([]Sample, 0, w.currentSize)
	r := w.samples
	for j := 0; j < w.currentSize; j++ {
		s = append(s, r.Value.(Sample))
		r = r.Prev()
	}
	// reverse: we walked newest to oldest
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return s
}

// median returns the middle sample by time. Call only when full.
func (w *sampleWindow) median() Sample {
	c := w.allSamples()
	sort.Slice(c, func(i, j int) bool { return c[i].Time < c[j].Time })
	return c[len(c)/2]
}
