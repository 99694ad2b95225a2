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

// Package netstate holds the two network graphs (live, staging), the
// router index, and the prefix LPM tree, and coordinates promoting staging
// into live once topology updates have quiesced.
package netstate

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/kphf1995cm/srn/internal/graph"
	"github.com/kphf1995cm/srn/internal/statebus"
)

// A Router is a node payload: a named advertiser of one or more address
// prefixes plus a BSID-allocation prefix. Flows hold a *Router directly
// (not through the graph), so a router removed from the graph is still
// retained by any flow that referenced it — Go's garbage collector
// supplies the reference counting the source implements by hand (spec's
// "staging vs live with refcounts" design note).
type Router struct {
	Name     string
	Addr     netip.Addr
	PBSID    netip.Prefix
	Prefixes []netip.Prefix
	NodeID   graph.NodeID
}

// SegmentAddr implements pathengine.Addressable.
func (r *Router) SegmentAddr() netip.Addr { return r.Addr }

// routerFromRow parses a NodeState row into a Router. An empty Prefix
// field yields a Router with no prefixes (NO_PREFIX boundary case).
func routerFromRow(row statebus.NodeStateRow) (*Router, error) {
	addr, err := netip.ParseAddr(row.Addr)
	if err != nil {
		return nil, fmt.Errorf("netstate: router %q addr: %w", row.Name, err)
	}

	pbsid, err := netip.ParsePrefix(row.PBSID)
	if err != nil {
		return nil, fmt.Errorf("netstate: router %q pbsid: %w", row.Name, err)
	}

	var prefixes []netip.Prefix
	if row.Prefix != "" {
		for _, tok := range strings.Split(row.Prefix, ";") {
			if tok == "" {
				continue
			}
			p, err := netip.ParsePrefix(tok)
			if err != nil {
				return nil, fmt.Errorf("netstate: router %q prefix %q: %w", row.Name, tok, err)
			}
			prefixes = append(prefixes, p)
		}
	}

	return &Router{Name: row.Name, Addr: addr, PBSID: pbsid, Prefixes: prefixes}, nil
}
