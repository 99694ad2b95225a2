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

package flowmgr

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/kphf1995cm/srn/internal/cmap"
	"github.com/kphf1995cm/srn/internal/graph"
	"github.com/kphf1995cm/srn/internal/netstate"
	"github.com/kphf1995cm/srn/internal/pathengine"
	"github.com/kphf1995cm/srn/internal/rules"
	"github.com/kphf1995cm/srn/internal/statebus"
)

// Bus is the subset of *statebus.Client the flow manager needs to write
// FlowReq/FlowState rows. Defining it here as a small consumer-side
// interface (rather than depending on *statebus.Client directly) lets
// tests substitute an in-memory fake for a real OVSDB connection — the
// same capability-interface spirit spec.md §9 asks for elsewhere.
type Bus interface {
	SetFlowReqStatus(ctx context.Context, rowUUID string, status statebus.Status) error
	CommitFlowState(ctx context.Context, fs statebus.FlowStateRow) (string, error)
	UpdateFlowStateSegments(ctx context.Context, rowUUID string, segments [][]string) error
	UpdateFlowStateStatus(ctx context.Context, rowUUID string, status statebus.FlowStatus) error
}

// A Manager owns the BSID -> Flow map and drives the create/recompute/gc
// lifecycle against a Netstate, a rule Set, and the state bus.
type Manager struct {
	ns        *netstate.Netstate
	rules     *rules.Set
	providers []Provider
	bus       Bus
	flows     *cmap.Map[netip.Addr, *Flow]
	log       *zap.Logger
}

// New returns a Manager with an empty flow map. An empty providers list
// falls back to InternalProvider, matching the source's config_set_defaults.
func New(ns *netstate.Netstate, rs *rules.Set, providers []Provider, bus Bus, log *zap.Logger) *Manager {
	if len(providers) == 0 {
		providers = []Provider{InternalProvider}
	}
	return &Manager{
		ns:        ns,
		rules:     rs,
		providers: providers,
		bus:       bus,
		flows:     cmap.New[netip.Addr, *Flow](),
		log:       log,
	}
}

// Len reports the number of BSID keys currently mapped (not the number of
// distinct flows, since a shared-BSID flow occupies one key while a
// per-provider-BSID flow occupies several).
func (m *Manager) Len() int { return m.flows.Len() }

func coalesce(rule, req uint32) uint32 {
	if rule != 0 {
		return rule
	}
	return req
}

// Create processes one FlowReq end to end: rule match, router/prefix
// resolution, path computation, BSID allocation, and FlowState commit.
// It mirrors process_request, gating on PENDING and writing the request's
// final status via the bus regardless of outcome.
func (m *Manager) Create(ctx context.Context, req statebus.FlowReqRow) {
	if req.Status != statebus.StatusPending {
		return
	}

	rule := m.rules.Match(req.Source, req.Destination)
	if rule.Type == rules.Deny {
		m.reject(ctx, req, statebus.StatusDenied)
		return
	}

	dstaddr, err := netip.ParseAddr(req.DstAddr)
	if err != nil {
		m.reject(ctx, req, statebus.StatusError)
		return
	}

	fl := &Flow{
		Src:       req.Source,
		Dst:       req.Destination,
		Proxy:     req.Proxy,
		RequestID: req.RequestID,
		DstAddr:   dstaddr,
		BW:        coalesce(rule.BW, uint32(req.Bandwidth)),
		Delay:     coalesce(rule.Delay, uint32(req.Delay)),
		TTL:       rule.TTL,
		Idle:      rule.Idle,
	}

	live := m.ns.Live()

	rt, ok := m.ns.Router(req.Router)
	if !ok {
		m.reject(ctx, req, statebus.StatusNoRouter)
		return
	}

	// dstrt is resolved purely by longest-prefix match against dstaddr,
	// with no check that dst is reachable from rt — see DESIGN.md OQ-1,
	// the same "ignore reachability" behavior select_providers documents.
	dstrt, ok := m.ns.RouterForAddr(dstaddr)
	if !ok {
		m.reject(ctx, req, statebus.StatusNoPrefix)
		return
	}

	srcNode := live.GetNodeNoRef(rt.NodeID)
	dstNode := live.GetNodeNoRef(dstrt.NodeID)
	if srcNode == nil || dstNode == nil {
		// A router was just admitted into the netstate index but its
		// graph node has not yet reached the live snapshot.
		m.reject(ctx, req, statebus.StatusUnavailable)
		return
	}

	fl.SrcRT, fl.DstRT = rt, dstrt

	prefixes := selectProviders(m.providers)
	if len(prefixes) == 0 {
		m.reject(ctx, req, statebus.StatusError)
		return
	}
	fl.SrcPrefixes = prefixes

	via, ok := m.resolveVia(live, rule.Via)
	if !ok {
		m.reject(ctx, req, statebus.StatusUnavailable)
		return
	}

	spec := pathengine.PathSpec{
		Src:   srcNode,
		Dst:   dstNode,
		Via:   via,
		Data:  fl,
		Prune: pathengine.PrunePredicate(fl.BW),
	}
	if fl.Delay != 0 {
		spec.DOps = &pathengine.DelayBelowOps{MaxDelay: fl.Delay}
	}

	segs, err := pathengine.BuildSegPath(live, spec)
	if err != nil {
		m.reject(ctx, req, statebus.StatusUnavailable)
		return
	}
	fl.SrcPrefixes[0].Segments = segs

	if err := m.allocateBSIDs(fl, rt, dstrt, segs); err != nil {
		m.reject(ctx, req, statebus.StatusError)
		return
	}

	fl.Timestamp = time.Now()
	fl.Status = statebus.FlowActive

	rowUUID, err := m.bus.CommitFlowState(ctx, flowToRow(fl))
	if err != nil {
		m.rollbackBSIDs(fl)
		m.reject(ctx, req, statebus.StatusError)
		return
	}
	fl.UUID = rowUUID

	if err := m.bus.SetFlowReqStatus(ctx, req.UUID, statebus.StatusAllowed); err != nil && m.log != nil {
		m.log.Warn("failed to update FlowReq status", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

// allocateBSIDs performs the whole multi-BSID allocation sequence under a
// single flows-map write-lock acquisition, as the source requires.
func (m *Manager) allocateBSIDs(fl *Flow, rt, dstrt *netstate.Router, segs []pathengine.Segment) error {
	var allocErr error

	m.flows.WithWriteLock(func(get func(netip.Addr) (*Flow, bool), set func(netip.Addr, *Flow), del func(netip.Addr)) {
		taken := func(a netip.Addr) bool {
			_, ok := get(a)
			return ok
		}

		var allocated []netip.Addr
		rollback := func() {
			for _, a := range allocated {
				del(a)
			}
		}

		primary, err := generateUniqueBSID(rt, taken)
		if err != nil {
			allocErr = err
			return
		}
		fl.SrcPrefixes[0].BSID = primary
		fl.RefCount = 1
		set(primary, fl)
		allocated = append(allocated, primary)

		for i := 1; i < len(fl.SrcPrefixes); i++ {
			fl.SrcPrefixes[i].Segments = copySegments(segs)

			if dstrt != nil {
				fl.SrcPrefixes[i].BSID = primary
				continue
			}

			b, err := generateUniqueBSID(rt, taken)
			if err != nil {
				allocErr = err
				rollback()
				return
			}
			fl.SrcPrefixes[i].BSID = b
			fl.RefCount++
			set(b, fl)
			allocated = append(allocated, b)
		}
	})

	return allocErr
}

// rollbackBSIDs removes every BSID a flow allocated. Used when a FlowState
// commit fails after BSIDs have already been handed out.
func (m *Manager) rollbackBSIDs(fl *Flow) {
	m.flows.WithWriteLock(func(_ func(netip.Addr) (*Flow, bool), _ func(netip.Addr, *Flow), del func(netip.Addr)) {
		for _, sp := range fl.SrcPrefixes {
			del(sp.BSID)
		}
	})
}

func (m *Manager) reject(ctx context.Context, req statebus.FlowReqRow, status statebus.Status) {
	if err := m.bus.SetFlowReqStatus(ctx, req.UUID, status); err != nil && m.log != nil {
		m.log.Warn("failed to update FlowReq status",
			zap.String("request_id", req.RequestID),
			zap.Stringer("status", status),
			zap.Error(err))
	}
}

// resolveVia resolves an ordered list of router names to live-graph node
// ids. It reports false, matching an UNAVAILABLE path result, if any
// waypoint is not currently a live-graph member.
func (m *Manager) resolveVia(live *graph.Graph, names []string) ([]graph.NodeID, bool) {
	if len(names) == 0 {
		return nil, true
	}

	ids := make([]graph.NodeID, 0, len(names))
	for _, name := range names {
		rt, ok := m.ns.Router(name)
		if !ok {
			return nil, false
		}
		if live.GetNodeNoRef(rt.NodeID) == nil {
			return nil, false
		}
		ids = append(ids, rt.NodeID)
	}
	return ids, true
}

func copySegments(segs []pathengine.Segment) []pathengine.Segment {
	cp := make([]pathengine.Segment, len(segs))
	copy(cp, segs)
	return cp
}
