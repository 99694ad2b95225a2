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

	"go.uber.org/zap"

	"github.com/kphf1995cm/srn/internal/pathengine"
	"github.com/kphf1995cm/srn/internal/statebus"
)

// Recompute re-resolves fl's endpoints in the current live graph and, if
// both are still present, recomputes its path and pushes only the
// segments column — mirroring recompute_flow, including its "skip
// quietly on failure" and segments-only push (DESIGN.md OQ-4).
func (m *Manager) Recompute(ctx context.Context, fl *Flow) {
	live := m.ns.Live()

	srcNode := live.GetNodeNoRef(fl.SrcRT.NodeID)
	dstNode := live.GetNodeNoRef(fl.DstRT.NodeID)
	if srcNode == nil || dstNode == nil {
		fl.Status = statebus.FlowOrphan
		return
	}

	segs, err := pathengine.BuildSegPath(live, pathengine.PathSpec{Src: srcNode, Dst: dstNode})
	if err != nil {
		return
	}

	fl.SrcPrefixes[0].Segments = segs
	for i := 1; i < len(fl.SrcPrefixes); i++ {
		fl.SrcPrefixes[i].Segments = copySegments(segs)
	}

	if fl.UUID == "" {
		return
	}
	if err := m.bus.UpdateFlowStateSegments(ctx, fl.UUID, segmentsToColumn(fl.SrcPrefixes)); err != nil && m.log != nil {
		m.log.Warn("failed to commit recomputed segments", zap.String("flow_uuid", fl.UUID), zap.Error(err))
	}
}

// RecomputeAll runs Recompute over every BSID entry currently mapped,
// called by the network monitor loop once per successful graph
// promotion. Like recompute_flows, it does not deduplicate flows that
// share more than one BSID entry: such a flow is recomputed once per
// entry.
func (m *Manager) RecomputeAll(ctx context.Context) {
	for _, fl := range m.flows.Snapshot() {
		m.Recompute(ctx, fl)
	}
}
