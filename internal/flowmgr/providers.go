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

import "net/netip"

func parseProviderAddr(s string) (netip.Addr, error) {
	return netip.ParseAddr(s)
}

// A Provider is a configured upstream egress: {name, addr, prefix_len,
// router}, parsed from the controller config's `providers` line.
// Contributes one SrcPrefix per flow.
type Provider struct {
	Name      string
	Addr      string
	PrefixLen uint8
	Router    string
	Priority  int
}

// InternalProvider is the zero-config default: a single provider named
// "internal" covering ::/0, matching the source's hardcoded fallback when
// no `providers` line is present in the config file.
var InternalProvider = Provider{Name: "internal", Addr: "::", PrefixLen: 0}

// selectProviders returns one SrcPrefix per configured provider,
// unconditionally.
//
// TODO: this ignores whether dst is actually reachable through each
// provider (no BGP-table lookup); every provider is assumed able to
// reach anything. Preserved verbatim — see DESIGN.md OQ-1.
func selectProviders(providers []Provider) []*SrcPrefix {
	out := make([]*SrcPrefix, len(providers))
	for i, p := range providers {
		out[i] = &SrcPrefix{
			PrefixLen: p.PrefixLen,
			Router:    p.Router,
			Priority:  0,
		}
		if a, err := parseProviderAddr(p.Addr); err == nil {
			out[i].Addr = a
		}
	}
	return out
}
