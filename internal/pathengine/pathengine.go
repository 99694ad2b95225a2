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

// Package pathengine computes constrained shortest paths over a graph and
// assembles them into a list of SRv6 segments honoring an ordered list of
// waypoints.
package pathengine

import (
	"container/heap"
	"errors"
	"net/netip"

	"github.com/kphf1995cm/srn/internal/graph"
)

// ErrUnavailable is returned by BuildSegPath when no feasible path exists
// for at least one leg of the requested route. Callers map it 1:1 to the
// UNAVAILABLE request status.
var ErrUnavailable = errors.New("pathengine: no feasible path")

// Addressable is implemented by node payloads that can be rendered as a
// segment: in this module, routers. It keeps the path engine decoupled
// from the concrete Router type defined in internal/netstate.
type Addressable interface {
	SegmentAddr() netip.Addr
}

// A Segment is an SRv6 segment. The external representation is always an
// IPv6 address — the router or adjacency the underlay should steer
// through next, leaving intra-leg hop selection to IGP shortest path.
type Segment struct {
	Addr netip.Addr
}

func (s Segment) String() string {
	return s.Addr.String()
}

// DijkstraOps supplies pluggable per-edge cost/feasibility and relaxation
// bookkeeping to the shortest-path search. The default (nil Ops) cost
// function is cur_cost + edge.Metric with no additional feasibility cut.
type DijkstraOps interface {
	// Init returns fresh per-search state seeded from src.
	Init(g *graph.Graph, src *graph.Node, data interface{}) interface{}
	// Cost returns the new tentative cost of traversing e from a node
	// already at curCost, or MaxCost if e is infeasible and must not be
	// relaxed.
	Cost(curCost uint32, e *graph.Edge, state interface{}, data interface{}) uint32
	// Update records that e was relaxed (i.e. accepted as part of the
	// current shortest-path tree) so that state reflects it for edges
	// considered afterward.
	Update(e *graph.Edge, state interface{}, data interface{})
	// Destroy releases any resources held by state.
	Destroy(state interface{})
}

// MaxCost marks an infeasible edge, mirroring the source's use of
// UINT32_MAX.
const MaxCost uint32 = 1<<32 - 1

// A PathSpec describes a single path request: source and destination
// nodes in g, an ordered list of waypoints to visit between them, a
// pre-search prune predicate, and an optional DijkstraOps for constrained
// relaxation.
type PathSpec struct {
	Src, Dst *graph.Node
	Via      []graph.NodeID
	Data     interface{}
	Prune    func(*graph.Edge) bool
	DOps     DijkstraOps
}

// BuildSegPath computes a path from spec.Src to spec.Dst visiting every
// waypoint in spec.Via in order, over a pruned working copy of g. Each leg
// between consecutive waypoints is solved by a constrained Dijkstra
// search and its node/edge sequence reconstructed, then compressed: a
// segment is only emitted where the default (metric-only, unconstrained)
// shortest-path cost from the previous segment stops matching the
// constrained path's accumulated cost, since up to that point the
// underlay's own IGP shortest path already reproduces the sub-path
// Dijkstra verified feasible.
//
// It returns ErrUnavailable, never a generic error, when any leg has no
// feasible path.
func BuildSegPath(g *graph.Graph, spec PathSpec) ([]Segment, error) {
	work := g.DeepCopy()
	if spec.Prune != nil {
		work.Prune(spec.Prune)
	}
	work.BuildCache()

	waypoints := make([]graph.NodeID, 0, len(spec.Via)+2)
	waypoints = append(waypoints, spec.Src.ID)
	waypoints = append(waypoints, spec.Via...)
	waypoints = append(waypoints, spec.Dst.ID)

	segs := make([]Segment, 0, len(waypoints)-1)
	for i := 0; i+1 < len(waypoints); i++ {
		leg, ok := shortestPath(work, waypoints[i], waypoints[i+1], spec.DOps, spec.Data)
		if !ok {
			return nil, ErrUnavailable
		}

		for _, id := range compressLegSegments(work, leg) {
			n := work.GetNodeNoRef(id)
			if n == nil {
				return nil, ErrUnavailable
			}
			addr, ok := nodeAddr(n)
			if !ok {
				return nil, ErrUnavailable
			}
			segs = append(segs, Segment{Addr: addr})
		}
	}

	if len(segs) == 0 {
		return nil, ErrUnavailable
	}

	return segs, nil
}

func nodeAddr(n *graph.Node) (netip.Addr, bool) {
	a, ok := n.Data.(Addressable)
	if !ok {
		return netip.Addr{}, false
	}
	return a.SegmentAddr(), true
}

// legPath is the constrained-Dijkstra result for a single src->dst leg:
// the node sequence from src to dst inclusive, and the edge traversed
// between each consecutive pair (edges[k] connects nodes[k] to
// nodes[k+1]).
type legPath struct {
	nodes []graph.NodeID
	edges []*graph.Edge
}

// shortestPath runs a single-pair Dijkstra search from src to dst over
// work, honoring ops's feasibility/cost function, and reconstructs the
// node/edge sequence of the path found. It reports false if dst is not
// reachable within a finite cost.
func shortestPath(work *graph.Graph, src, dst graph.NodeID, ops DijkstraOps, data interface{}) (legPath, bool) {
	if src == dst {
		return legPath{nodes: []graph.NodeID{src}}, true
	}

	srcNode := work.GetNodeNoRef(src)
	if srcNode == nil {
		return legPath{}, false
	}

	var state interface{}
	if ops != nil {
		state = ops.Init(work, srcNode, data)
		defer ops.Destroy(state)
	}

	dist := map[graph.NodeID]uint32{src: 0}
	prevEdge := map[graph.NodeID]*graph.Edge{}
	visited := map[graph.NodeID]bool{}

	pq := &priorityQueue{{node: src, cost: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		u := item.node

		if visited[u] {
			continue
		}
		visited[u] = true

		if u == dst {
			break
		}

		for _, key := range work.Neighbors(u) {
			e := work.GetEdge(key)
			if e == nil {
				continue
			}

			var newCost uint32
			if ops != nil {
				newCost = ops.Cost(item.cost, e, state, data)
			} else {
				newCost = addCost(item.cost, e.Metric)
			}

			if newCost == MaxCost {
				continue
			}

			if cur, ok := dist[e.Remote]; !ok || newCost < cur {
				dist[e.Remote] = newCost
				prevEdge[e.Remote] = e
				if ops != nil {
					ops.Update(e, state, data)
				}
				heap.Push(pq, pqItem{node: e.Remote, cost: newCost})
			}
		}
	}

	if _, ok := dist[dst]; !ok {
		return legPath{}, false
	}

	var nodes []graph.NodeID
	var edges []*graph.Edge

	cur := dst
	for cur != src {
		e, ok := prevEdge[cur]
		if !ok {
			return legPath{}, false
		}
		edges = append(edges, e)
		nodes = append(nodes, cur)
		cur = e.Local
	}
	nodes = append(nodes, src)

	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}

	return legPath{nodes: nodes, edges: edges}, true
}

// compressLegSegments collapses leg's node sequence into the minimal list
// of segment stops: starting from leg.nodes[i], it advances as far as the
// default (unconstrained, metric-only) shortest-path cost from
// leg.nodes[i] to leg.nodes[j] exactly matches the cost actually
// accumulated along the constrained path from i to j — meaning the
// underlay's own IGP shortest path already reproduces that sub-path, so
// no intermediate segment is needed for it. The leg's final node is
// always included.
func compressLegSegments(work *graph.Graph, leg legPath) []graph.NodeID {
	nodes := leg.nodes
	if len(nodes) < 2 {
		return nil
	}

	var segs []graph.NodeID
	i := 0
	for i < len(nodes)-1 {
		dist := defaultDistances(work, nodes[i])

		best := i + 1
		cum := leg.edges[i].Metric

		for j := i + 1; j < len(nodes); j++ {
			if j > i+1 {
				cum = addCost(cum, leg.edges[j-1].Metric)
			}
			if d, ok := dist[nodes[j]]; ok && d == cum {
				best = j
			}
		}

		segs = append(segs, nodes[best])
		i = best
	}

	return segs
}

// defaultDistances runs an unconstrained, metric-only Dijkstra search from
// src over every node work can reach, used by compressLegSegments as the
// "what would plain IGP shortest-path routing do" reference.
func defaultDistances(work *graph.Graph, src graph.NodeID) map[graph.NodeID]uint32 {
	dist := map[graph.NodeID]uint32{src: 0}
	visited := map[graph.NodeID]bool{}

	pq := &priorityQueue{{node: src, cost: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		u := item.node

		if visited[u] {
			continue
		}
		visited[u] = true

		for _, key := range work.Neighbors(u) {
			e := work.GetEdge(key)
			if e == nil {
				continue
			}

			newCost := addCost(item.cost, e.Metric)
			if cur, ok := dist[e.Remote]; !ok || newCost < cur {
				dist[e.Remote] = newCost
				heap.Push(pq, pqItem{node: e.Remote, cost: newCost})
			}
		}
	}

	return dist
}

func addCost(cur, metric uint32) uint32 {
	sum := uint64(cur) + uint64(metric)
	if sum >= uint64(MaxCost) {
		return MaxCost
	}
	return uint32(sum)
}

type pqItem struct {
	node graph.NodeID
	cost uint32
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].cost < pq[j].cost }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}
