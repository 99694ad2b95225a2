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

// Package graph implements a directed multigraph of routers and links,
// parameterized over caller-supplied equality and copy hooks so the same
// structure can host any node/edge payload type.
package graph

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// NodeID is a compact, graph-local node identifier. IDs are reassigned by
// Finalize and must not be persisted across a deepcopy/finalize cycle.
type NodeID uint64

// MaxMetric is substituted for a zero edge metric, matching the source's
// use of UINT32_MAX to mean "worst possible weight" rather than "free".
const MaxMetric uint32 = 1<<32 - 1

// A Node wraps a caller-supplied payload (a router) under a graph-local id.
type Node struct {
	ID   NodeID
	Data interface{}
}

// An EdgeKey identifies an edge by the ordered pair of its endpoint
// addresses, independent of the graph-local node ids on either side.
type EdgeKey struct {
	Local, Remote netip.Addr
}

// An Edge wraps a caller-supplied payload (a link) between two nodes.
type Edge struct {
	Key    EdgeKey
	Local  NodeID
	Remote NodeID
	Metric uint32
	Data   interface{}
}

// Ops supplies the equality, copy, and destroy hooks a Graph needs in order
// to remain agnostic of the concrete node/edge payload types it carries.
type Ops interface {
	// NodeDataEquals reports whether two node payloads identify the same
	// node (e.g. case-insensitive router name comparison).
	NodeDataEquals(a, b interface{}) bool
	// EdgeDataEquals reports whether two edge payloads identify the same
	// edge (e.g. identical local/remote addresses).
	EdgeDataEquals(a, b interface{}) bool
	// NodeDataCopy returns a copy of a node payload suitable for a
	// deepcopy'd graph. Routers are immutable from the graph's point of
	// view, so this may return data unchanged.
	NodeDataCopy(data interface{}) interface{}
	// EdgeDataCopy returns a copy of an edge payload suitable for a
	// deepcopy'd graph. For links this increments the refcount back to 2.
	EdgeDataCopy(data interface{}) interface{}
	// EdgeDestroy releases an edge payload evicted by RemoveEdge or Prune.
	EdgeDestroy(data interface{})
}

// A Graph is a directed multigraph with a single reader/writer lock and a
// dirty flag set by any mutating call. The zero value is not usable; use
// New.
type Graph struct {
	mu sync.RWMutex

	ops Ops

	nodes  map[NodeID]*Node
	edges  map[EdgeKey]*Edge
	nextID NodeID

	// adjacency caches the outgoing edges per node, built by BuildCache
	// and consumed by the path engine's Dijkstra relaxation loop.
	adjacency map[NodeID][]EdgeKey

	dirty     bool
	modTime   time.Time
	dirtyTime time.Time
}

// New returns an empty Graph using the supplied Ops.
func New(ops Ops) *Graph {
	return &Graph{
		ops:       ops,
		nodes:     make(map[NodeID]*Node),
		edges:     make(map[EdgeKey]*Edge),
		adjacency: make(map[NodeID][]EdgeKey),
	}
}

// markDirty must be called with mu held for writing.
func (g *Graph) markDirty() {
	now := time.Now()
	if !g.dirty {
		g.dirtyTime = now
		g.dirty = true
	}
	g.modTime = now
}

// Dirty reports whether the graph has been mutated since the last call that
// cleared the flag (ClearDirty).
func (g *Graph) Dirty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dirty
}

// ClearDirty clears the dirty flag under the write lock, as the netstate
// promotion sequence does once staging has been copied into a new live
// graph.
func (g *Graph) ClearDirty() {
	g.mu.Lock()
	g.dirty = false
	g.mu.Unlock()
}

// ModTime and DirtyTime report the timestamps used by the netstate
// debouncer to decide when to promote a dirty staging graph.
func (g *Graph) ModTime() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.modTime
}

func (g *Graph) DirtyTime() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dirtyTime
}

// AddNode inserts a new node carrying data and returns it. The caller is
// responsible for ensuring data does not already identify an existing node
// (the router map in internal/netstate owns that invariant).
func (g *Graph) AddNode(data interface{}) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	n := &Node{ID: g.nextID, Data: data}
	g.nodes[n.ID] = n
	g.markDirty()

	return n
}

// RemoveNode deletes a node by id. It does not remove edges incident to the
// node; callers prune those explicitly (the live graph only ever drops a
// node once its edges have already been withdrawn by LinkState deletes).
func (g *Graph) RemoveNode(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)
	g.markDirty()
}

// AddEdge inserts a directed edge from u to v. It rejects duplicates: an
// edge already keyed by key.Local/key.Remote is left untouched and an error
// is returned.
func (g *Graph) AddEdge(u, v NodeID, key EdgeKey, metric uint32, data interface{}) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[key]; ok {
		return nil, fmt.Errorf("graph: duplicate edge %s -> %s", key.Local, key.Remote)
	}

	if metric == 0 {
		metric = MaxMetric
	}

	e := &Edge{Key: key, Local: u, Remote: v, Metric: metric, Data: data}
	g.edges[key] = e
	g.markDirty()

	return e, nil
}

// RemoveEdge deletes an edge by key, invoking EdgeDestroy on its payload.
func (g *Graph) RemoveEdge(key EdgeKey) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.edges[key]
	if !ok {
		return
	}
	delete(g.edges, key)
	g.markDirty()

	if g.ops != nil {
		g.ops.EdgeDestroy(e.Data)
	}
}

// GetNodeNoRef returns the node with the given id, or nil. The "NoRef" name
// matches the source's convention: the caller receives a pointer into the
// graph's own storage and must not retain it past the current lock scope.
func (g *Graph) GetNodeNoRef(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// GetEdgeData returns the payload of the edge keyed by key, or nil.
func (g *Graph) GetEdgeData(key EdgeKey) interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.edges[key]
	if !ok {
		return nil
	}
	return e.Data
}

// GetEdge returns the edge keyed by key, or nil. Unlike GetEdgeData it
// exposes the full Edge (endpoints, metric) for callers such as the path
// engine that need more than the payload.
func (g *Graph) GetEdge(key EdgeKey) *Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[key]
}

// Neighbors returns the edge keys of every edge whose Local node is id, from
// the adjacency cache built by BuildCache. Call BuildCache after any
// mutation and before relying on Neighbors.
func (g *Graph) Neighbors(id NodeID) []EdgeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adjacency[id]
}

// Nodes returns every node currently in the graph. The caller must not
// mutate the returned slice's backing Node values.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns every edge currently in the graph.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// BuildCache recomputes the adjacency index used by Neighbors. It must be
// called after any sequence of mutations and before the graph is published
// for path computation.
func (g *Graph) BuildCache() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.adjacency = make(map[NodeID][]EdgeKey, len(g.nodes))
	for key, e := range g.edges {
		g.adjacency[e.Local] = append(g.adjacency[e.Local], key)
	}
}

// Finalize reassigns compact, dense node ids. It is idempotent: calling it
// twice in a row without intervening mutation leaves ids unchanged.
func (g *Graph) Finalize() {
	g.mu.Lock()
	defer g.mu.Unlock()

	remap := make(map[NodeID]NodeID, len(g.nodes))
	nodes := make(map[NodeID]*Node, len(g.nodes))

	// Renumber in ascending id order so already-dense ids map to themselves.
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var next NodeID
	for _, id := range ids {
		n := g.nodes[id]
		next++
		remap[id] = next
		n.ID = next
		nodes[next] = n
	}
	g.nodes = nodes
	g.nextID = next

	edges := make(map[EdgeKey]*Edge, len(g.edges))
	for key, e := range g.edges {
		e.Local = remap[e.Local]
		e.Remote = remap[e.Remote]
		edges[key] = e
	}
	g.edges = edges
}

// Prune removes every edge for which pred returns true, invoking EdgeDestroy
// on each evicted payload. It is used to apply per-request bandwidth
// feasibility before a path search runs on a working copy of the graph.
func (g *Graph) Prune(pred func(*Edge) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, e := range g.edges {
		if !pred(e) {
			continue
		}
		delete(g.edges, key)
		if g.ops != nil {
			g.ops.EdgeDestroy(e.Data)
		}
	}

	// Rebuild the adjacency cache from the surviving edges so the pruned
	// graph can be searched without a separate BuildCache call.
	g.adjacency = make(map[NodeID][]EdgeKey, len(g.nodes))
	for key, e := range g.edges {
		g.adjacency[e.Local] = append(g.adjacency[e.Local], key)
	}
}

// DeepCopy returns a fresh Graph sharing no mutable state with g: node
// payloads are copied via NodeDataCopy and edge payloads via EdgeDataCopy.
// It is the mechanism by which the netstate promotion sequence turns a
// mutable staging graph into an immutable snapshot for the live graph.
//
// A bidirectional link installs the same payload pointer on both of its
// directed edges (one shared *Link, refcount 2, per spec.md's "a link
// inhabits both directions of a bidirectional edge"). EdgeDataCopy is
// called once per distinct original payload, not once per edge, so the
// copy preserves that sharing instead of fragmenting one Link into two
// independently refcounted copies.
func (g *Graph) DeepCopy() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp := New(g.ops)
	cp.nextID = g.nextID

	for id, n := range g.nodes {
		var data interface{}
		if g.ops != nil {
			data = g.ops.NodeDataCopy(n.Data)
		} else {
			data = n.Data
		}
		cp.nodes[id] = &Node{ID: id, Data: data}
	}

	copied := make(map[interface{}]interface{}, len(g.edges))
	for key, e := range g.edges {
		data, ok := copied[e.Data]
		if !ok {
			if g.ops != nil {
				data = g.ops.EdgeDataCopy(e.Data)
			} else {
				data = e.Data
			}
			copied[e.Data] = data
		}
		cp.edges[key] = &Edge{
			Key:    e.Key,
			Local:  e.Local,
			Remote: e.Remote,
			Metric: e.Metric,
			Data:   data,
		}
	}

	return cp
}
