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

package lpm_test

import (
	"net/netip"
	"testing"

	"github.com/kphf1995cm/srn/internal/lpm"
)

func TestTreeLookupConsistency(t *testing.T) {
	tree := lpm.New[string]()

	prefixes := []string{
		"2001:db8::/32",
		"2001:db8:1::/48",
		"2001:db8:1:1::/64",
	}

	for _, p := range prefixes {
		pfx := netip.MustParsePrefix(p)
		tree.Insert(pfx, p)
	}

	// The most specific registered prefix must always win.
	addr := netip.MustParseAddr("2001:db8:1:1::1")
	got, ok := tree.Lookup(addr)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "2001:db8:1:1::/64" {
		t.Fatalf("unexpected longest match: %s", got)
	}

	addr2 := netip.MustParseAddr("2001:db8:1:2::1")
	got2, ok := tree.Lookup(addr2)
	if !ok {
		t.Fatal("expected a match")
	}
	if got2 != "2001:db8:1::/48" {
		t.Fatalf("unexpected longest match: %s", got2)
	}
}

func TestTreeLookupMiss(t *testing.T) {
	tree := lpm.New[string]()
	tree.Insert(netip.MustParsePrefix("2001:db8::/32"), "rt-a")

	_, ok := tree.Lookup(netip.MustParseAddr("2001:beef::1"))
	if ok {
		t.Fatal("expected no match")
	}
}

func TestTreeDelete(t *testing.T) {
	tree := lpm.New[string]()
	pfx := netip.MustParsePrefix("2001:db8::/32")
	tree.Insert(pfx, "rt-a")
	tree.Delete(pfx)

	_, ok := tree.Lookup(netip.MustParseAddr("2001:db8::1"))
	if ok {
		t.Fatal("expected no match after delete")
	}
}
