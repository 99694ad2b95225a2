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

package netstate_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/kphf1995cm/srn/internal/graph"
	"github.com/kphf1995cm/srn/internal/netstate"
	"github.com/kphf1995cm/srn/internal/statebus"
)

func addr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

func twoRouterTopology(t *testing.T) *netstate.Netstate {
	t.Helper()
	ns := netstate.New(nil)

	if _, err := ns.AddRouter(statebus.NodeStateRow{
		Name: "a", Addr: "2001:a::1", PBSID: "fc00:a::/64", Prefix: "2001:a::/64",
	}); err != nil {
		t.Fatalf("AddRouter a: %v", err)
	}
	if _, err := ns.AddRouter(statebus.NodeStateRow{
		Name: "b", Addr: "2001:b::1", PBSID: "fc00:b::/64", Prefix: "2001:b::/64",
	}); err != nil {
		t.Fatalf("AddRouter b: %v", err)
	}
	if err := ns.AddLink(statebus.LinkStateRow{
		Name1: "a", Addr1: "2001:a::1", Name2: "b", Addr2: "2001:b::1",
		BW: 1000, AvaBW: 1000, Delay: 10, Metric: 1,
	}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	return ns
}

func TestAddRouterIndexesPrefix(t *testing.T) {
	ns := twoRouterTopology(t)

	r, ok := ns.RouterForAddr(addr(t, "2001:b::5"))
	if !ok {
		t.Fatal("expected LPM lookup to find router b")
	}
	if r.Name != "b" {
		t.Fatalf("expected router b, got %s", r.Name)
	}
}

func TestAddRouterEmptyPrefix(t *testing.T) {
	ns := netstate.New(nil)
	r, err := ns.AddRouter(statebus.NodeStateRow{
		Name: "c", Addr: "2001:c::1", PBSID: "fc00:c::/64", Prefix: "",
	})
	if err != nil {
		t.Fatalf("AddRouter: %v", err)
	}
	if len(r.Prefixes) != 0 {
		t.Fatalf("expected no prefixes, got %v", r.Prefixes)
	}
	if _, ok := ns.RouterForAddr(addr(t, "2001:c::1")); ok {
		t.Fatal("router with no advertised prefix should not resolve via LPM")
	}
}

func TestAddLinkBothDirections(t *testing.T) {
	ns := twoRouterTopology(t)
	staging := ns.Staging()

	fwd := staging.GetEdgeData(graph.EdgeKey{Local: addr(t, "2001:a::1"), Remote: addr(t, "2001:b::1")})
	if fwd == nil {
		t.Fatal("expected forward edge a->b")
	}
	rev := staging.GetEdgeData(graph.EdgeKey{Local: addr(t, "2001:b::1"), Remote: addr(t, "2001:a::1")})
	if rev == nil {
		t.Fatal("expected reverse edge b->a")
	}
	if fwd != rev {
		t.Fatal("forward and reverse edges should share the same Link payload (refcount 2)")
	}
	if fwd.(*netstate.Link).RefCount != 2 {
		t.Fatalf("expected fresh link refcount 2, got %d", fwd.(*netstate.Link).RefCount)
	}
}

func TestPromoteDebounce(t *testing.T) {
	ns := twoRouterTopology(t)

	if ns.ShouldPromote(time.Now()) {
		t.Fatal("should not promote immediately after a mutation")
	}

	future := time.Now().Add(netstate.SoftTimeout + time.Millisecond)
	if !ns.ShouldPromote(future) {
		t.Fatal("expected promotion once the soft timeout has elapsed")
	}
}

func TestPromoteSwapsLiveIdentity(t *testing.T) {
	ns := twoRouterTopology(t)

	before := ns.Live()
	ns.Promote()
	after := ns.Live()

	if before == after {
		t.Fatal("expected Promote to swap in a new live graph identity")
	}
	if len(after.Nodes()) != 2 {
		t.Fatalf("expected 2 nodes in promoted graph, got %d", len(after.Nodes()))
	}
	if len(after.Edges()) != 2 {
		t.Fatalf("expected 2 edges in promoted graph, got %d", len(after.Edges()))
	}
	if after.Dirty() {
		t.Fatal("promoted live graph should not be dirty immediately after promotion")
	}
	if ns.Staging().Dirty() {
		t.Fatal("staging should be clean after promotion")
	}
}

func TestPromoteSharesLinkPayloadAcrossDirections(t *testing.T) {
	ns := twoRouterTopology(t)
	ns.Promote()

	live := ns.Live()
	fwd := live.GetEdgeData(graph.EdgeKey{Local: addr(t, "2001:a::1"), Remote: addr(t, "2001:b::1")})
	rev := live.GetEdgeData(graph.EdgeKey{Local: addr(t, "2001:b::1"), Remote: addr(t, "2001:a::1")})

	if fwd == nil || rev == nil {
		t.Fatal("expected both directed edges to survive promotion")
	}
	if fwd != rev {
		t.Fatal("promoted live graph should still share one Link payload across both directions of a bidirectional edge")
	}
	if fwd.(*netstate.Link).RefCount != 2 {
		t.Fatalf("expected promoted link refcount 2, got %d", fwd.(*netstate.Link).RefCount)
	}
}

func TestRemoveLinkDecrementsRefcountToZero(t *testing.T) {
	ns := twoRouterTopology(t)
	staging := ns.Staging()

	fwd := staging.GetEdgeData(graph.EdgeKey{Local: addr(t, "2001:a::1"), Remote: addr(t, "2001:b::1")})
	link := fwd.(*netstate.Link)

	ns.RemoveLink(addr(t, "2001:a::1"), addr(t, "2001:b::1"))

	if link.RefCount != 0 {
		t.Fatalf("expected refcount 0 after both directions removed, got %d", link.RefCount)
	}
}

func TestRemoveRouterDropsFromIndices(t *testing.T) {
	ns := twoRouterTopology(t)

	ns.RemoveRouter("b")

	if _, ok := ns.Router("b"); ok {
		t.Fatal("expected router b to be removed from the name index")
	}
	if _, ok := ns.RouterForAddr(addr(t, "2001:b::5")); ok {
		t.Fatal("expected router b's prefix to be removed from the LPM")
	}
}
