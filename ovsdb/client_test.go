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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kphf1995cm/srn/ovsdb"
)

func TestClientJSONRPCError(t *testing.T) {
	const str = "some error"

	c, _, done := testClient(t, func(_ ovsdb.Request) ovsdb.Response {
		return ovsdb.Response{
			ID:    strPtr("1"),
			Error: str,
		}
	})
	defer done()

	_, err := c.ListDatabases(context.Background())
	if err == nil {
		t.Fatal("expected an error, but none occurred")
	}
}

func TestClientOVSDBError(t *testing.T) {
	const str = "some error"

	c, _, done := testClient(t, func(_ ovsdb.Request) ovsdb.Response {
		return ovsdb.Response{
			ID: strPtr("1"),
			Result: mustMarshalJSON(t, &ovsdb.Error{
				Err:     str,
				Details: "malformed",
				Syntax:  "{}",
			}),
		}
	})
	defer done()

	_, err := c.ListDatabases(context.Background())
	if err == nil {
		t.Fatal("expected an error, but none occurred")
	}

	oerr, ok := err.(*ovsdb.Error)
	if !ok {
		t.Fatalf("error of wrong type: %#v", err)
	}

	if diff := cmp.Diff(str, oerr.Err); diff != "" {
		t.Fatalf("unexpected error (-want +got):\n%s", diff)
	}
}

func TestClientContextCancelBeforeRPC(t *testing.T) {
	// Context canceled before RPC even begins.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _, done := testClient(t, func(_ ovsdb.Request) ovsdb.Response {
		return ovsdb.Response{
			ID:     strPtr("1"),
			Result: mustMarshalJSON(t, []string{"foo"}),
		}
	})
	defer done()

	_, err := c.ListDatabases(ctx)
	if err != context.Canceled {
		t.Fatalf("expected context canceled error: %v", err)
	}
}

func TestClientLeakCallbacks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping during short test run")
	}

	c, _, done := testClient(t, func(_ ovsdb.Request) ovsdb.Response {
		// Never respond; every RPC below must time out.
		return ovsdb.Response{}
	})
	defer done()

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.ListDatabases(ctx)
		if err != context.DeadlineExceeded {
			t.Fatalf("expected context deadline exceeded error: %v", err)
		}
	}

	stats := c.Stats()
	if diff := cmp.Diff(0, stats.Callbacks.Current); diff != "" {
		t.Fatalf("unexpected number of leaked callbacks (-want +got):\n%s", diff)
	}
}

func TestClientEchoNotification(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping during short test run")
	}

	c, notifC, done := testClient(t, func(req ovsdb.Request) ovsdb.Response {
		if diff := cmp.Diff("echo", req.Method); diff != "" {
			panicf("unexpected RPC method (-want +got):\n%s", diff)
		}

		return ovsdb.Response{
			ID:     strPtr(req.ID),
			Result: mustMarshalJSON(t, req.Params),
		}
	})
	defer done()

	// Prompt the client to send an echo in the same way ovsdb-server does.
	notifC <- &ovsdb.Response{
		ID:     strPtr("echo"),
		Method: "echo",
	}

	timer := time.AfterFunc(2*time.Second, func() {
		panicf("took too long to wait for echo RPC")
	})
	defer timer.Stop()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		<-tick.C

		stats := c.Stats()

		if n := stats.EchoLoop.Failure; n > 0 {
			t.Fatalf("echo RPC failed %d times", n)
		}

		if n := stats.EchoLoop.Success; n > 0 {
			break
		}
	}
}

func TestClientEchoInterval(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping during short test run")
	}

	var reqID int64

	c, _, done := testClient(t, func(req ovsdb.Request) ovsdb.Response {
		if diff := cmp.Diff("echo", req.Method); diff != "" {
			panicf("unexpected RPC method (-want +got):\n%s", diff)
		}

		id := strconv.Itoa(int(atomic.AddInt64(&reqID, 1)))
		return ovsdb.Response{
			ID:     &id,
			Result: mustMarshalJSON(t, req.Params),
		}
	}, ovsdb.EchoInterval(20*time.Millisecond))
	defer done()

	timer := time.AfterFunc(2*time.Second, func() {
		panicf("took too long to wait for echo RPCs")
	})
	defer timer.Stop()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		<-tick.C

		stats := c.Stats()

		if n := stats.EchoLoop.Failure; n > 0 {
			t.Fatalf("echo loop RPC failed %d times", n)
		}

		if n := stats.EchoLoop.Success; n > 2 {
			break
		}
	}
}

func testClient(t *testing.T, fn ovsdb.TestFunc, options ...ovsdb.OptionFunc) (*ovsdb.Client, chan<- *ovsdb.Response, func()) {
	t.Helper()

	if testing.Verbose() {
		options = append([]ovsdb.OptionFunc{
			ovsdb.Debug(log.New(os.Stderr, "", 0)),
		}, options...)
	}

	conn, notifC, done := ovsdb.TestNetConn(t, fn)

	c, err := ovsdb.New(conn, options...)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	return c, notifC, func() {
		_ = c.Close()
		done()

		stats := c.Stats()
		if diff := cmp.Diff(0, stats.Callbacks.Current); diff != "" {
			t.Fatalf("unexpected final number of callbacks (-want +got):\n%s", diff)
		}
	}
}

func mustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}

	return b
}

func strPtr(s string) *string {
	return &s
}

func panicf(format string, a ...interface{}) {
	panic(fmt.Sprintf(format, a...))
}
