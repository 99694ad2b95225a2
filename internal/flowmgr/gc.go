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

	"github.com/kphf1995cm/srn/internal/statebus"
)

// GC collects every flow entry that has exceeded its TTL or has been
// marked orphan, removes it from the flows map under a single write-lock
// acquisition, then issues the FlowState "expired" update for each
// synchronously and outside that lock — gc_flows' two-phase contract:
// no synchronous database transaction may be issued under the flows
// lock.
func (m *Manager) GC(ctx context.Context, now time.Time) {
	removed := m.flows.RemoveWhere(func(_ netip.Addr, fl *Flow) bool {
		return (fl.TTL > 0 && now.After(fl.Timestamp.Add(fl.TTL))) || fl.Status == statebus.FlowOrphan
	})

	for _, fl := range removed {
		if fl.UUID == "" {
			continue
		}
		if err := m.bus.UpdateFlowStateStatus(ctx, fl.UUID, statebus.FlowExpired); err != nil && m.log != nil {
			m.log.Warn("failed to update expired flow status", zap.String("flow_uuid", fl.UUID), zap.Error(err))
		}
	}
}
