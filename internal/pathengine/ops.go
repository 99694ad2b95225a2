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

package pathengine

import "github.com/kphf1995cm/srn/internal/graph"

// DelayLink is implemented by edge payloads that carry a delay figure, so
// DelayBelowOps can stay decoupled from the concrete Link type defined in
// internal/netstate.
type DelayLink interface {
	LinkDelay() uint32
}

// DelayBelowOps bounds the accumulated delay from src to every node visited
// by MaxDelay: an edge is infeasible if best_delay(local) + edge.delay
// exceeds it. It mirrors delay_init/delay_below_cost/delay_update/
// delay_destroy in the source.
type DelayBelowOps struct {
	// MaxDelay is the flow's delay budget. Zero disables the constraint
	// (every edge is feasible on delay grounds), matching the source's
	// "only attach d_ops when fl->delay is set" behavior — callers should
	// leave PathSpec.DOps nil rather than use DelayBelowOps with zero.
	MaxDelay uint32
}

type delayState struct {
	best map[graph.NodeID]uint32
}

// Init seeds every node's best-known delay to MaxCost except src, which
// starts at zero.
func (d *DelayBelowOps) Init(g *graph.Graph, src *graph.Node, _ interface{}) interface{} {
	best := make(map[graph.NodeID]uint32, len(g.Nodes()))
	for _, n := range g.Nodes() {
		if n.ID == src.ID {
			best[n.ID] = 0
		} else {
			best[n.ID] = MaxCost
		}
	}
	return &delayState{best: best}
}

// Cost returns MaxCost when the accumulated delay through e would exceed
// MaxDelay, else the default metric-sum cost.
func (d *DelayBelowOps) Cost(curCost uint32, e *graph.Edge, state interface{}, _ interface{}) uint32 {
	s := state.(*delayState)
	link, ok := e.Data.(DelayLink)
	if !ok || d.MaxDelay == 0 {
		return addCost(curCost, e.Metric)
	}

	curDelay := s.best[e.Local]
	if curDelay+link.LinkDelay() > d.MaxDelay {
		return MaxCost
	}

	return addCost(curCost, e.Metric)
}

// Update relaxes the remote node's best-known delay.
func (d *DelayBelowOps) Update(e *graph.Edge, state interface{}, _ interface{}) {
	s := state.(*delayState)
	link, ok := e.Data.(DelayLink)
	if !ok {
		return
	}

	curDelay := s.best[e.Local]
	newDelay := curDelay + link.LinkDelay()
	if existing, ok := s.best[e.Remote]; !ok || newDelay < existing {
		s.best[e.Remote] = newDelay
	}
}

// Destroy is a no-op: delayState is garbage-collected like everything
// else; the method exists only to satisfy DijkstraOps symmetrically with
// the source's explicit free.
func (d *DelayBelowOps) Destroy(_ interface{}) {}

var _ DijkstraOps = (*DelayBelowOps)(nil)

// BandwidthLink is implemented by edge payloads that carry an available
// bandwidth figure, used by PrunePredicate.
type BandwidthLink interface {
	AvailableBandwidth() uint32
}

// PrunePredicate returns a Prune predicate that drops every edge whose
// available bandwidth is below bw, mirroring prune_bw/pre_prune in the
// source. A zero bw never prunes (the source only attaches pre_prune's
// bandwidth cut when the flow requested nonzero bandwidth).
func PrunePredicate(bw uint32) func(*graph.Edge) bool {
	if bw == 0 {
		return nil
	}
	return func(e *graph.Edge) bool {
		link, ok := e.Data.(BandwidthLink)
		if !ok {
			return false
		}
		return link.AvailableBandwidth() < bw
	}
}
