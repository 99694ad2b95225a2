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

	"github.com/kphf1995cm/srn/internal/statebus"
)

// A Link is an edge payload shared by the two directed edges a single
// bidirectional LinkState row produces. RefCount starts at 2 (one per
// direction) purely for parity with the source's bookkeeping and test
// observability; nothing in this module frees a Link on a count of zero,
// since Go's allocator reclaims it once both edges (and any other
// holder) drop their reference.
type Link struct {
	Local, Remote    netip.Addr
	BW, AvaBW, Delay uint32
	RefCount         int
}

// AvailableBandwidth implements pathengine.BandwidthLink.
func (l *Link) AvailableBandwidth() uint32 { return l.AvaBW }

// LinkDelay implements pathengine.DelayLink.
func (l *Link) LinkDelay() uint32 { return l.Delay }

func linkFromRow(row statebus.LinkStateRow) (local *Link, remote *Link, err error) {
	addr1, err := netip.ParseAddr(row.Addr1)
	if err != nil {
		return nil, nil, fmt.Errorf("netstate: link addr1: %w", err)
	}
	addr2, err := netip.ParseAddr(row.Addr2)
	if err != nil {
		return nil, nil, fmt.Errorf("netstate: link addr2: %w", err)
	}

	l := &Link{
		Local:    addr1,
		Remote:   addr2,
		BW:       uint32(row.BW),
		AvaBW:    uint32(row.AvaBW),
		Delay:    uint32(row.Delay),
		RefCount: 2,
	}
	return l, l, nil
}
