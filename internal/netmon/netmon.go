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

// Package netmon runs the background loop that promotes the staging
// network graph to live on its debounce schedule and reaps expired or
// orphaned flows, mirroring thread_netmon in the original controller.
package netmon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kphf1995cm/srn/internal/flowmgr"
	"github.com/kphf1995cm/srn/internal/netstate"
)

// Loop tick interval, matching NETMON_LOOP_SLEEP (1ms).
const tickInterval = time.Millisecond

// GCInterval is the default interval between flow GC sweeps, matching
// GC_FLOWS_TIMEOUT (1000ms).
const GCInterval = time.Second

// A Monitor drives one Netstate's promotion schedule and one Manager's GC
// schedule from a single ticking goroutine.
type Monitor struct {
	ns        *netstate.Netstate
	flows     *flowmgr.Manager
	gcEvery   time.Duration
	log       *zap.Logger
}

// New returns a Monitor. gcEvery <= 0 is coerced to GCInterval.
func New(ns *netstate.Netstate, flows *flowmgr.Manager, gcEvery time.Duration, log *zap.Logger) *Monitor {
	if gcEvery <= 0 {
		gcEvery = GCInterval
	}
	return &Monitor{ns: ns, flows: flows, gcEvery: gcEvery, log: log}
}

// Run blocks, ticking once per tickInterval, until ctx is canceled. Each
// tick: if the GC interval has elapsed, GC; if staging has quiesced per
// Netstate.ShouldPromote, Promote and then recompute every live flow's
// path, matching thread_netmon's body exactly.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastGC := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastGC) > m.gcEvery {
				m.flows.GC(ctx, now)
				lastGC = now
			}

			if m.ns.ShouldPromote(now) {
				m.ns.Promote()
				m.flows.RecomputeAll(ctx)
			}
		}
	}
}
