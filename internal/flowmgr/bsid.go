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
	"crypto/rand"
	"errors"
	"net/netip"

	"github.com/kphf1995cm/srn/internal/netstate"
)

// ErrBSIDExhausted is returned by generateUniqueBSID when no free BSID
// could be drawn from rt's allocation prefix. With a pbsid of /128 this
// happens on the very first collision, since there is only one possible
// value to draw (the boundary case spec.md §8 calls out); with a wider
// suffix it only happens after maxBSIDAttempts unlucky draws in a row.
var ErrBSIDExhausted = errors.New("flowmgr: no unique bsid available")

// maxBSIDAttempts bounds the rejection-sampling loop so a pathologically
// small allocation prefix (or a test fixture) cannot spin the caller
// forever; a /64 or wider suffix will in practice never reach this bound.
const maxBSIDAttempts = 4096

// generateBSID fills the low (128 - pbsid.Bits()) bits of rt.PBSID.Addr
// with randomness and returns the result, mirroring generate_bsid. A
// pbsid with Bits()==128 always returns pbsid.Addr() exactly (no
// randomness is drawn); a pbsid with Bits()==0 randomizes the full
// address.
func generateBSID(rt *netstate.Router) netip.Addr {
	b := rt.PBSID.Addr().As16()

	suffixBits := 128 - rt.PBSID.Bits()
	suffixBytes := (suffixBits + 7) >> 3

	if suffixBytes > 0 {
		buf := make([]byte, suffixBytes)
		// crypto/rand.Read on a small buffer does not fail in practice
		// (there is no recoverable response if the OS CSPRNG is
		// broken); proceeding with whatever was read keeps bsid
		// allocation from panicking a worker goroutine.
		_, _ = rand.Read(buf)
		// When the prefix ends mid-byte, keep that byte's prefix bits and
		// randomize only its low suffix bits.
		if rem := suffixBits & 7; rem != 0 {
			mask := byte(1<<rem - 1)
			buf[0] = b[16-suffixBytes]&^mask | buf[0]&mask
		}
		copy(b[16-suffixBytes:], buf)
	}

	return netip.AddrFrom16(b)
}

// generateUniqueBSID draws BSIDs from rt's allocation prefix, rejecting
// any value already present in the flows map, mirroring
// generate_unique_bsid. It must be called with the flows map's write
// lock already held by the caller (spec's documented inefficiency,
// preserved verbatim — see DESIGN.md).
//
// taken reports whether addr is already in use as a BSID. It returns
// ErrBSIDExhausted rather than looping forever when rt.PBSID is a /128
// (exactly one candidate) or maxBSIDAttempts draws all collided.
func generateUniqueBSID(rt *netstate.Router, taken func(netip.Addr) bool) (netip.Addr, error) {
	attempts := 1
	if rt.PBSID.Bits() < 128 {
		attempts = maxBSIDAttempts
	}

	for i := 0; i < attempts; i++ {
		b := generateBSID(rt)
		if !taken(b) {
			return b, nil
		}
	}

	return netip.Addr{}, ErrBSIDExhausted
}
