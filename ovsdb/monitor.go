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
)

// monitorChanBuffer bounds how many table-update notifications may be
// queued for a single monitor before the shared receive loop blocks.
const monitorChanBuffer = 32

// A RowUpdate describes the before/after state of a single row within a
// table-update notification. Exactly one of Old or New is present for an
// insert or a delete; both are present for a modify.
type RowUpdate struct {
	Old Row `json:"old,omitempty"`
	New Row `json:"new,omitempty"`
}

// A TableUpdate maps a row's UUID to its update within a single table.
type TableUpdate map[string]RowUpdate

// TableUpdates maps a table name to its TableUpdate, as returned by the
// OVSDB "monitor" RPC and delivered with subsequent "update" notifications.
type TableUpdates map[string]TableUpdate

// A MonitorSelect chooses which row change kinds a monitor reports.
type MonitorSelect struct {
	Initial bool `json:"initial"`
	Insert  bool `json:"insert"`
	Modify  bool `json:"modify"`
	Delete  bool `json:"delete"`
}

// A MonitorRequest describes which columns of a table to monitor, and
// which kinds of change to report.
type MonitorRequest struct {
	Columns []string      `json:"columns,omitempty"`
	Select  MonitorSelect `json:"select"`
}

// Monitor subscribes to row-level changes in a single table of database db.
// id must be unique among the Client's active monitors; it is echoed back by
// the server on every subsequent update and is used to demultiplex them.
//
// Monitor returns the table's current contents (as if Select had been
// issued) and a channel of subsequent changes. The channel is closed when
// the Client is closed or MonitorCancel is called with the same id.
func (c *Client) Monitor(ctx context.Context, db, id, table string, req MonitorRequest) (TableUpdate, <-chan TableUpdate, error) {
	reqs := map[string]MonitorRequest{table: req}

	ch := make(chan TableUpdates, monitorChanBuffer)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, nil, err
	}
	c.monitors[id] = ch
	c.mu.Unlock()

	var initial TableUpdates
	if err := c.call(ctx, "monitor", &initial, db, id, reqs); err != nil {
		c.removeMonitor(id)
		return nil, nil, err
	}

	out := make(chan TableUpdate)
	go func() {
		defer close(out)
		for tu := range ch {
			if upd, ok := tu[table]; ok {
				out <- upd
			}
		}
	}()

	return initial[table], out, nil
}

// MonitorCancel cancels a previously established Monitor subscription,
// closing its update channel.
func (c *Client) MonitorCancel(ctx context.Context, id string) error {
	if err := c.call(ctx, "monitor_cancel", nil, id); err != nil {
		return err
	}

	c.removeMonitor(id)
	return nil
}

// removeMonitor deletes and closes the monitor channel for id, if present.
// It shares c.mu with the receive loop's dispatch so a send can never race
// a close.
func (c *Client) removeMonitor(id string) {
	c.mu.Lock()
	ch, ok := c.monitors[id]
	if ok {
		delete(c.monitors, id)
	}
	c.mu.Unlock()

	if ok {
		close(ch)
	}
}
