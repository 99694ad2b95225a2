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

// Package flowmgr creates, recomputes, and garbage-collects flows: the
// BSID -> Flow map, multi-provider prefix replication, and the FlowState
// commit/update lifecycle.
package flowmgr

import (
	"net/netip"
	"time"

	"github.com/kphf1995cm/srn/internal/netstate"
	"github.com/kphf1995cm/srn/internal/pathengine"
	"github.com/kphf1995cm/srn/internal/statebus"
)

// A SrcPrefix is one provider's contribution to a Flow: the address the
// proxy should rewrite the flow's source to, and the BSID/segment list
// the ingress router installs for traffic steered through it.
type SrcPrefix struct {
	Addr      netip.Addr
	PrefixLen uint8
	Priority  int
	Router    string
	BSID      netip.Addr
	Segments  []pathengine.Segment
}

// A Flow is a committed, in-memory flow. It is reachable from the flow
// manager's BSID map under every BSID any of its SrcPrefixes allocated.
type Flow struct {
	UUID      string
	Src, Dst  string
	Proxy     string
	RequestID string
	DstAddr   netip.Addr

	// SrcRT and DstRT are held directly rather than looked up by name on
	// every use: invariant 2 requires they be live-graph members at
	// creation time, and holding the pointer is what lets a Flow survive
	// a later node removal and be marked orphan instead of dangling.
	SrcRT, DstRT *netstate.Router

	BW, Delay uint32
	TTL, Idle time.Duration
	Timestamp time.Time
	Status    statebus.FlowStatus

	SrcPrefixes []*SrcPrefix

	// RefCount mirrors the source's "one extra BSID allocated, one extra
	// refcount" accounting (OQ-2 in DESIGN.md). It is bookkeeping only:
	// the flows map is this process's sole strong holder of *Flow, so
	// nothing in this module frees a Flow on RefCount reaching zero.
	RefCount int
}
