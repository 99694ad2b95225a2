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

package netstate

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kphf1995cm/srn/internal/cmap"
	"github.com/kphf1995cm/srn/internal/graph"
	"github.com/kphf1995cm/srn/internal/lpm"
	"github.com/kphf1995cm/srn/internal/statebus"
)

// Debounce timeouts for staging->live promotion, matching the source's
// netstate_graph_sync.
const (
	SoftTimeout = 5 * time.Millisecond
	HardTimeout = 50 * time.Millisecond
)

// A Netstate holds the live and staging graphs, the router name index, and
// the prefix LPM tree, and serializes identity changes to live behind its
// own lock. Staging carries its own internal lock (graph.Graph.mu); the
// netstate lock here only ever guards which *graph.Graph value `live`
// currently points to, per spec's total lock order (netstate -> staging ->
// live -> flows).
type Netstate struct {
	mu   sync.RWMutex
	live *graph.Graph

	staging  *graph.Graph
	routers  *cmap.Map[string, *Router]
	prefixes *lpm.Tree[*Router]

	log *zap.Logger
}

// New returns an empty Netstate with both graphs initialized and no
// routers registered.
func New(log *zap.Logger) *Netstate {
	ops := graphOps{}
	ns := &Netstate{
		live:     graph.New(ops),
		staging:  graph.New(ops),
		routers:  cmap.New[string, *Router](),
		prefixes: lpm.New[*Router](),
		log:      log,
	}
	ns.live.BuildCache()
	return ns
}

// Live returns the graph path computation should read. The identity of
// the returned pointer only changes across a call to Promote.
func (ns *Netstate) Live() *graph.Graph {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.live
}

// Staging returns the mutable graph that NodeState/LinkState updates
// apply to.
func (ns *Netstate) Staging() *graph.Graph {
	return ns.staging
}

// Router returns the router registered under name, if any.
func (ns *Netstate) Router(name string) (*Router, bool) {
	return ns.routers.Get(name)
}

// RouterForAddr returns the router whose advertised prefix is the longest
// match for addr, if any (invariant 2, "LPM consistency").
func (ns *Netstate) RouterForAddr(addr netip.Addr) (*Router, bool) {
	return ns.prefixes.Lookup(addr)
}

// AddRouter parses a NodeState insert/modify row, adds the router to the
// staging graph, and indexes it by name and by every advertised prefix.
func (ns *Netstate) AddRouter(row statebus.NodeStateRow) (*Router, error) {
	r, err := routerFromRow(row)
	if err != nil {
		return nil, err
	}

	node := ns.staging.AddNode(r)
	r.NodeID = node.ID

	ns.routers.Set(r.Name, r)
	for _, p := range r.Prefixes {
		ns.prefixes.Insert(p, r)
	}

	return r, nil
}

// RemoveRouter removes a router from the staging graph and both indices.
// The Router value itself survives for as long as any Flow still
// references it.
func (ns *Netstate) RemoveRouter(name string) {
	r, ok := ns.routers.Get(name)
	if !ok {
		return
	}

	ns.staging.RemoveNode(r.NodeID)
	ns.routers.Delete(name)
	for _, p := range r.Prefixes {
		ns.prefixes.Delete(p)
	}
}

// AddLink parses a LinkState insert/modify row and installs the two
// directed edges it implies into the staging graph, sharing one *Link
// payload between them (refcount 2).
func (ns *Netstate) AddLink(row statebus.LinkStateRow) error {
	r1, ok := ns.routers.Get(row.Name1)
	if !ok {
		return fmt.Errorf("netstate: link references unknown router %q", row.Name1)
	}
	r2, ok := ns.routers.Get(row.Name2)
	if !ok {
		return fmt.Errorf("netstate: link references unknown router %q", row.Name2)
	}

	local, remote, err := linkFromRow(row)
	if err != nil {
		return err
	}

	fwdKey := graph.EdgeKey{Local: local.Local, Remote: local.Remote}
	revKey := graph.EdgeKey{Local: remote.Remote, Remote: remote.Local}

	metric := uint32(row.Metric)
	if _, err := ns.staging.AddEdge(r1.NodeID, r2.NodeID, fwdKey, metric, local); err != nil {
		return fmt.Errorf("netstate: add link %s->%s: %w", row.Name1, row.Name2, err)
	}
	if _, err := ns.staging.AddEdge(r2.NodeID, r1.NodeID, revKey, metric, remote); err != nil {
		return fmt.Errorf("netstate: add link %s->%s: %w", row.Name2, row.Name1, err)
	}

	return nil
}

// RemoveLink removes both directed edges a LinkState row installed.
func (ns *Netstate) RemoveLink(addr1, addr2 netip.Addr) {
	ns.staging.RemoveEdge(graph.EdgeKey{Local: addr1, Remote: addr2})
	ns.staging.RemoveEdge(graph.EdgeKey{Local: addr2, Remote: addr1})
}

// ShouldPromote reports whether staging has quiesced long enough (or been
// dirty long enough) to warrant promotion, evaluated at time now.
func (ns *Netstate) ShouldPromote(now time.Time) bool {
	if !ns.staging.Dirty() {
		return false
	}
	if now.Sub(ns.staging.ModTime()) > SoftTimeout {
		return true
	}
	if now.Sub(ns.staging.DirtyTime()) > HardTimeout {
		return true
	}
	return false
}

// Promote deep-copies staging, finalizes and rebuilds its adjacency cache,
// then atomically swaps it in as the new live graph, clearing staging's
// dirty flag. It returns the previous live graph (retained only so a
// caller can log its size; there is nothing to explicitly free — Go
// reclaims it once the last reader holding the old pointer releases it).
func (ns *Netstate) Promote() *graph.Graph {
	cp := ns.staging.DeepCopy()
	cp.Finalize()
	cp.BuildCache()

	ns.mu.Lock()
	old := ns.live
	ns.live = cp
	ns.mu.Unlock()

	ns.staging.ClearDirty()

	if ns.log != nil {
		ns.log.Debug("promoted staging graph to live",
			zap.Int("nodes", len(cp.Nodes())),
			zap.Int("edges", len(cp.Edges())))
	}

	return old
}
