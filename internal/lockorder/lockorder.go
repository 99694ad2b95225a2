// Copyright 2017 DigitalOcean.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lockorder is a test-only lock-sequence recorder. It asserts
// the controller's total lock order — netstate, then staging, then
// live, then flows — is never violated, standing in for the static
// lock-order analysis spec.md §8 calls for without adding any runtime
// cost to production builds (nothing in this package is imported
// outside _test.go files).
package lockorder

import (
	"fmt"
	"sync"
)

// A Lock identifies one rung of the total lock order.
type Lock int

const (
	Netstate Lock = iota
	Staging
	Live
	Flows

	numLocks
)

func (l Lock) String() string {
	switch l {
	case Netstate:
		return "netstate"
	case Staging:
		return "staging"
	case Live:
		return "live"
	case Flows:
		return "flows"
	default:
		return "unknown"
	}
}

// A Recorder tracks, per goroutine, which locks are currently held and
// rejects an Acquire that would violate the declared total order.
type Recorder struct {
	mu  sync.Mutex
	held map[int64][]Lock
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{held: make(map[int64][]Lock)}
}

// Acquire records that the calling goroutine (identified by gid, e.g. a
// test-assigned integer since Go has no public goroutine-id API) now
// holds lock l. It returns an error if l is out of order relative to a
// lock gid already holds.
func (r *Recorder) Acquire(gid int64, l Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack := r.held[gid]
	if len(stack) > 0 && stack[len(stack)-1] > l {
		return fmt.Errorf("lockorder: acquiring %s while holding %s violates the total order (netstate < staging < live < flows)",
			l, stack[len(stack)-1])
	}

	r.held[gid] = append(stack, l)
	return nil
}

// Release records that gid no longer holds its most recently acquired
// lock, which must be l (locks release in strict LIFO order).
func (r *Recorder) Release(gid int64, l Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack := r.held[gid]
	if len(stack) == 0 || stack[len(stack)-1] != l {
		return fmt.Errorf("lockorder: release of %s does not match the most recently acquired lock for goroutine %d", l, gid)
	}

	r.held[gid] = stack[:len(stack)-1]
	return nil
}
