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
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ReplayCacheSize bounds the replay cache by entry count.
const ReplayCacheSize = 4096

// ReplayWindow is how long a message id stays remembered. Together
// with the wall_ts skew check this makes replays outside the window
// harmless: they fail the skew check instead.
const ReplayWindow = 60 * time.Second

// replayCache remembers recently seen message ids, trimmed by LRU and
// by age.
type replayCache struct {
	seen *expirable.LRU[string, struct{}]
}

func newReplayCache() *replayCache {
	return &replayCache{
		seen: expirable.NewLRU[string, struct{}](ReplayCacheSize, nil, ReplayWindow),
	}
}

// observe records id and reports whether it was already present.
func (r *replayCache) observe(id string) bool {
	if _, ok := r.seen.Get(id); ok {
		return true
	}
	r.seen.Add(id, struct{}{})
	return false
}

func (r *replayCache) len() int {
	return r.seen.Len()
}
