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
Package hlc implements a hybrid logical clock: a timestamp that blends
the physical clock with a logical counter so that causal order is
preserved across nodes regardless of physical drift. Ordering is
lexicographic on (pt, lc, id).
*/
package hlc

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Timestamp is a single HLC reading.
type Timestamp struct {
	PT float64
	LC uint64
	ID string
}

// Compare orders two timestamps lexicographically on (pt, lc, id).
// The result is -1 if t < o, 0 if equal, 1 if t > o.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.PT < o.PT:
		return -1
	case t.PT > o.PT:
		return 1
	case t.LC < o.LC:
		return -1
	case t.LC > o.LC:
		return 1
	case t.ID < o.ID:
		return -1
	case t.ID > o.ID:
		return 1
	}
	return 0
}

// Before reports whether t orders strictly before o.
func (t Timestamp) Before(o Timestamp) bool {
	return t.Compare(o) < 0
}

// After reports whether t orders strictly after o.
func (t Timestamp) After(o Timestamp) bool {
	return t.Compare(o) > 0
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%f:%d:%s", t.PT, t.LC, t.ID)
}

// MarshalJSON encodes the timestamp as the wire triple [pt, lc, id].
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{t.PT, t.LC, t.ID})
}

// UnmarshalJSON decodes the wire triple [pt, lc, id].
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("hlc triple has %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.PT); err != nil {
		return fmt.Errorf("hlc pt: %w", err)
	}
	if err := json.Unmarshal(raw[1], &t.LC); err != nil {
		return fmt.Errorf("hlc lc: %w", err)
	}
	if err := json.Unmarshal(raw[2], &t.ID); err != nil {
		return fmt.Errorf("hlc id: %w", err)
	}
	return nil
}

// PhysicalClock is the source of the physical component.
type PhysicalClock interface {
	Time() float64
}

// Clock is a hybrid logical clock owned by one node.
type Clock struct {
	mu   sync.Mutex
	phys PhysicalClock
	id   string
	cur  Timestamp
}

// New returns a clock for the given node id.
func New(id string, phys PhysicalClock) *Clock {
	return &Clock{
		phys: phys,
		id:   id,
		cur:  Timestamp{PT: phys.Time(), LC: 0, ID: id},
	}
}

// Now advances the clock and returns the new reading. Successive
// readings are strictly increasing.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	pt := c.phys.Time()
	if pt > c.cur.PT {
		c.cur = Timestamp{PT: pt, LC: 0, ID: c.id}
	} else {
		c.cur.LC++
	}
	return c.cur
}

// Merge folds a remote timestamp into the clock. The result is
// strictly greater than both the prior local reading and the remote.
func (c *Clock) Merge(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	pt := c.phys.Time()
	switch {
	case pt > c.cur.PT && pt > remote.PT:
		c.cur = Timestamp{PT: pt, LC: 0, ID: c.id}
	case c.cur.PT == remote.PT:
		lc := c.cur.LC
		if remote.LC > lc {
			lc = remote.LC
		}
		c.cur = Timestamp{PT: c.cur.PT, LC: lc + 1, ID: c.id}
	case c.cur.PT > remote.PT:
		c.cur.LC++
	default:
		c.cur = Timestamp{PT: remote.PT, LC: remote.LC + 1, ID: c.id}
	}
	return c.cur
}

// Advance moves the physical component to at least pt and bumps the
// counter. The sync engine calls this after median fusion. The
// physical component never regresses.
func (c *Clock) Advance(pt float64) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pt > c.cur.PT {
		c.cur.PT = pt
	}
	c.cur.LC++
	return c.cur
}

// Last returns the most recent reading without advancing the clock.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}
