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

package ovsdb_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kphf1995cm/srn/ovsdb"
)

func TestClientTransactSelect(t *testing.T) {
	const db = "SR_test"

	c, _, done := testClient(t, func(req ovsdb.Request) ovsdb.Response {
		if diff := cmp.Diff("transact", req.Method); diff != "" {
			panicf("unexpected RPC method (-want +got):\n%s", diff)
		}

		type opResult struct {
			Rows []ovsdb.Row `json:"rows"`
		}

		return ovsdb.Response{
			ID: strPtr("1"),
			Result: mustMarshalJSON(t, []opResult{{
				Rows: []ovsdb.Row{{"name": "rt-a"}},
			}}),
		}
	})
	defer done()

	ops := []ovsdb.TransactOp{ovsdb.Select{
		Table: "NodeState",
		Where: []ovsdb.Cond{ovsdb.Equal("name", "rt-a")},
	}}

	results, err := c.Transact(context.Background(), db, ops)
	if err != nil {
		t.Fatalf("failed to perform transaction: %v", err)
	}

	want := []ovsdb.Row{{"name": "rt-a"}}
	if diff := cmp.Diff(want, results[0].Rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestClientTransactInsert(t *testing.T) {
	const db = "SR_test"

	c, _, done := testClient(t, func(req ovsdb.Request) ovsdb.Response {
		type opResult struct {
			UUID [2]string `json:"uuid"`
		}

		return ovsdb.Response{
			ID: strPtr("1"),
			Result: mustMarshalJSON(t, []opResult{{
				UUID: [2]string{"uuid", "c9c5c3f0-0000-0000-0000-000000000001"},
			}}),
		}
	})
	defer done()

	ops := []ovsdb.TransactOp{ovsdb.Insert{
		Table: "FlowState",
		Row: ovsdb.Row{
			"destination": "svc",
			"status":      1,
		},
	}}

	results, err := c.Transact(context.Background(), db, ops)
	if err != nil {
		t.Fatalf("failed to perform transaction: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 op result, got %d", len(results))
	}
}

func TestClientTransactUpdate(t *testing.T) {
	const db = "SR_test"

	c, _, done := testClient(t, func(req ovsdb.Request) ovsdb.Response {
		type opResult struct {
			Count int `json:"count"`
		}

		return ovsdb.Response{
			ID:     strPtr("1"),
			Result: mustMarshalJSON(t, []opResult{{Count: 1}}),
		}
	})
	defer done()

	ops := []ovsdb.TransactOp{ovsdb.Update{
		Table: "FlowReq",
		Where: []ovsdb.Cond{ovsdb.Equal("_row", "abc")},
		Row:   ovsdb.Row{"status": 1},
	}}

	results, err := c.Transact(context.Background(), db, ops)
	if err != nil {
		t.Fatalf("failed to perform transaction: %v", err)
	}

	if diff := cmp.Diff(1, results[0].Count); diff != "" {
		t.Fatalf("unexpected count (-want +got):\n%s", diff)
	}
}

func TestClientTransactAsync(t *testing.T) {
	const db = "SR_test"

	c, _, done := testClient(t, func(req ovsdb.Request) ovsdb.Response {
		type opResult struct {
			Count int `json:"count"`
		}

		return ovsdb.Response{
			ID:     strPtr("1"),
			Result: mustMarshalJSON(t, []opResult{{Count: 1}}),
		}
	})
	defer done()

	ops := []ovsdb.TransactOp{ovsdb.Update{
		Table: "FlowState",
		Row:   ovsdb.Row{"status": 3},
	}}

	res := <-c.TransactAsync(context.Background(), db, ops)
	if res.Err != nil {
		t.Fatalf("failed to perform async transaction: %v", res.Err)
	}

	if diff := cmp.Diff(1, res.Results[0].Count); diff != "" {
		t.Fatalf("unexpected count (-want +got):\n%s", diff)
	}
}
