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

package ovsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// A Row is a single OVSDB table row, keyed by column name. Values are
// left as generic JSON, since column types vary by table and schema.
type Row map[string]interface{}

// A Client is an OVSDB client. It multiplexes RPC requests and monitor
// notifications over a single JSON-RPC connection, so any number of
// goroutines may share one Client.
type Client struct {
	c  *Conn
	ll *log.Logger

	echoInterval time.Duration

	nextID uint64

	mu       sync.Mutex
	pending  map[string]chan *Response
	monitors map[string]chan TableUpdates
	closed   bool
	closeErr error

	callbacksCur int64

	echoSuccess int64
	echoFailure int64

	done     chan struct{}
	stopEcho chan struct{}
}

// An OptionFunc is a function which can configure a Client.
type OptionFunc func(c *Client) error

// Debug enables debug logging for a Client.
func Debug(ll *log.Logger) OptionFunc {
	return func(c *Client) error {
		c.ll = ll
		return nil
	}
}

// EchoInterval enables a background goroutine which periodically issues an
// "echo" RPC to keep the connection alive and to detect a dead peer. Echo
// requests initiated by the server are handled by the receive loop whether
// or not this option is set.
func EchoInterval(d time.Duration) OptionFunc {
	return func(c *Client) error {
		c.echoInterval = d
		return nil
	}
}

// Dial dials a connection to an OVSDB server and returns a Client.
func Dial(network, addr string, options ...OptionFunc) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}

	return New(conn, options...)
}

// New wraps an existing connection to an OVSDB server and returns a Client.
func New(conn net.Conn, options ...OptionFunc) (*Client, error) {
	client := &Client{
		pending:  make(map[string]chan *Response),
		monitors: make(map[string]chan TableUpdates),
		done:     make(chan struct{}),
		stopEcho: make(chan struct{}),
	}

	for _, o := range options {
		if err := o(client); err != nil {
			return nil, err
		}
	}

	client.c = NewConn(conn, client.ll)

	go client.loop()

	if client.echoInterval > 0 {
		go client.echoLoop()
	}

	return client, nil
}

// ClientStats reports runtime counters for a Client, useful for detecting
// callback leaks and keepalive health in tests and diagnostics.
type ClientStats struct {
	Callbacks struct {
		// Current is the number of RPCs currently awaiting a response.
		Current int
	}
	EchoLoop struct {
		Success int64
		Failure int64
	}
}

// Stats returns a snapshot of the Client's runtime counters.
func (c *Client) Stats() ClientStats {
	var s ClientStats

	c.mu.Lock()
	s.Callbacks.Current = len(c.pending)
	c.mu.Unlock()

	s.EchoLoop.Success = atomic.LoadInt64(&c.echoSuccess)
	s.EchoLoop.Failure = atomic.LoadInt64(&c.echoFailure)

	return s
}

// Close closes a Client's connection. Any RPCs or monitors in flight are
// unblocked with an error.
func (c *Client) Close() error {
	close(c.stopEcho)

	err := c.c.Close()

	c.mu.Lock()
	c.closed = true
	c.closeErr = fmt.Errorf("ovsdb: client closed: %w", err)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, ch := range c.monitors {
		close(ch)
		delete(c.monitors, id)
	}
	c.mu.Unlock()

	<-c.done

	return err
}

// loop is the single reader goroutine for the underlying connection. It
// demultiplexes RPC responses to their waiting caller by ID, dispatches
// "update" notifications to any registered monitor channel, and answers
// server-initiated "echo" keepalive requests.
func (c *Client) loop() {
	defer close(c.done)

	for {
		res, err := c.c.Receive()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			if c.closeErr == nil {
				c.closeErr = fmt.Errorf("ovsdb: connection closed: %w", err)
			}
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			for id, ch := range c.monitors {
				close(ch)
				delete(c.monitors, id)
			}
			c.mu.Unlock()
			return
		}

		// A response to one of our own RPCs carries no method name.
		if res.ID != nil && res.Method == "" {
			c.mu.Lock()
			ch, ok := c.pending[*res.ID]
			if ok {
				delete(c.pending, *res.ID)
			}
			c.mu.Unlock()

			if ok {
				ch <- res
				close(ch)
			}
			continue
		}

		switch res.Method {
		case "update":
			c.dispatchUpdate(res.Params)
		case "echo":
			// The server is pinging us; round-trip our own echo to prove
			// liveness rather than hand-crafting a raw JSON-RPC response.
			go c.doEcho()
		}
	}
}

// dispatchUpdate decodes an "update" notification's params (a two-element
// array: [monitor-id, table-updates]) and routes it to the registered
// monitor channel, if any.
func (c *Client) dispatchUpdate(raw json.RawMessage) {
	var params [2]json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		if c.ll != nil {
			c.ll.Printf("ovsdb: malformed update notification: %v", err)
		}
		return
	}

	var id string
	if err := json.Unmarshal(params[0], &id); err != nil {
		return
	}

	var tu TableUpdates
	if err := json.Unmarshal(params[1], &tu); err != nil {
		return
	}

	// Held for the duration of the send so a concurrent removeMonitor
	// cannot close ch between the lookup and the send.
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.monitors[id]
	if !ok {
		return
	}

	ch <- tu
}

// echoLoop periodically calls doEcho until the Client is closed.
func (c *Client) echoLoop() {
	t := time.NewTicker(c.echoInterval)
	defer t.Stop()

	for {
		select {
		case <-c.stopEcho:
			return
		case <-t.C:
			c.doEcho()
		}
	}
}

// doEcho performs a single echo RPC and records its outcome.
func (c *Client) doEcho() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Echo(ctx); err != nil {
		atomic.AddInt64(&c.echoFailure, 1)
		return
	}

	atomic.AddInt64(&c.echoSuccess, 1)
}

// call performs a single RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	id := strconv.FormatUint(atomic.AddUint64(&c.nextID, 1), 10)

	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{
		ID:     id,
		Method: method,
		Params: args,
	}

	if err := c.c.Send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return c.closeErr
		}

		if err := res.Err(); err != nil {
			return err
		}

		if out == nil {
			return nil
		}

		r := result{Reply: out}
		if err := json.Unmarshal(res.Result, &r); err != nil {
			return err
		}

		return r.Err
	}
}
