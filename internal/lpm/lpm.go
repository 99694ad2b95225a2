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

// Package lpm provides a longest-prefix-match IPv6 lookup table, mapping
// address prefixes to an arbitrary payload (in this module, routers).
package lpm

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"
)

// A Tree is a concurrency-safe longest-prefix-match lookup table. The
// underlying bart.Table is not itself safe for concurrent readers and
// writers, so Tree adds its own RWMutex.
type Tree[V any] struct {
	mu sync.RWMutex
	t  bart.Table[V]
}

// New returns an empty Tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{}
}

// Insert adds prefix -> v to the tree. A prefix already present is
// overwritten.
func (t *Tree[V]) Insert(prefix netip.Prefix, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t.Insert(prefix, v)
}

// Delete removes prefix from the tree, if present.
func (t *Tree[V]) Delete(prefix netip.Prefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t.Delete(prefix)
}

// Lookup returns the value registered for the longest prefix in the tree
// that contains addr, and whether any prefix matched.
func (t *Tree[V]) Lookup(addr netip.Addr) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.t.Lookup(addr)
}

// Size returns the number of prefixes currently registered.
func (t *Tree[V]) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.t.Size()
}
