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

package cmap_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kphf1995cm/srn/internal/cmap"
)

func TestMapSetGetDelete(t *testing.T) {
	m := cmap.New[string, int]()

	m.Set("a", 1)
	m.Set("b", 2)

	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("unexpected value for a: %v, %v", v, ok)
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}

	if diff := cmp.Diff(1, m.Len()); diff != "" {
		t.Fatalf("unexpected length (-want +got):\n%s", diff)
	}
}

func TestMapRemoveWhere(t *testing.T) {
	m := cmap.New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	removed := m.RemoveWhere(func(k string, v int) bool {
		return v >= 2
	})

	sort.Ints(removed)
	if diff := cmp.Diff([]int{2, 3}, removed); diff != "" {
		t.Fatalf("unexpected removed set (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(1, m.Len()); diff != "" {
		t.Fatalf("unexpected remaining length (-want +got):\n%s", diff)
	}
}

func TestMapConcurrentAccess(t *testing.T) {
	m := cmap.New[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 256; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i, i*2)
			m.Get(i)
		}(i)
	}
	wg.Wait()

	if diff := cmp.Diff(256, m.Len()); diff != "" {
		t.Fatalf("unexpected length after concurrent writes (-want +got):\n%s", diff)
	}
}

func TestMapWithWriteLockAtomicCheckThenSet(t *testing.T) {
	m := cmap.New[string, int]()
	m.Set("a", 1)

	var inserted bool
	m.WithWriteLock(func(get func(string) (int, bool), set func(string, int), _ func(string)) {
		if _, ok := get("a"); ok {
			return
		}
		set("a", 99)
		inserted = true
	})

	if inserted {
		t.Fatal("expected the write-locked check to see the existing key and skip insertion")
	}
	v, _ := m.Get("a")
	if v != 1 {
		t.Fatalf("expected value to remain 1, got %d", v)
	}
}

func TestMapSnapshot(t *testing.T) {
	m := cmap.New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	snap := m.Snapshot()
	sort.Ints(snap)

	if diff := cmp.Diff([]int{1, 2}, snap); diff != "" {
		t.Fatalf("unexpected snapshot (-want +got):\n%s", diff)
	}
}
