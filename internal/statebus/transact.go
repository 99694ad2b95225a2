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

package statebus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kphf1995cm/srn/ovsdb"
)

// SetFlowReqStatus performs a synchronous update of a FlowReq row's status
// column. It is the only column the controller ever writes back to
// FlowReq.
func (c *Client) SetFlowReqStatus(ctx context.Context, rowUUID string, status Status) error {
	ops := []ovsdb.TransactOp{ovsdb.Update{
		Table: "FlowReq",
		Where: []ovsdb.Cond{ovsdb.Equal("_row", rowUUID)},
		Row:   ovsdb.Row{"status": int(status)},
	}}

	_, err := c.oc.Transact(ctx, c.db, ops)
	if err != nil {
		return fmt.Errorf("statebus: set FlowReq %s status: %w", rowUUID, err)
	}
	return nil
}

// CommitFlowState inserts a new FlowState row reflecting every column of
// fs (FE_ALL in the source's terms: a full create always writes
// everything including Timestamp). It returns the row UUID OVSDB assigned.
func (c *Client) CommitFlowState(ctx context.Context, fs FlowStateRow) (string, error) {
	row, err := encodeFlowState(fs, FieldAll)
	if err != nil {
		return "", fmt.Errorf("statebus: encode FlowState: %w", err)
	}

	name := uuid.NewString()
	ops := []ovsdb.TransactOp{ovsdb.Insert{
		Table:    "FlowState",
		Row:      row,
		UUIDName: name,
	}}

	results, err := c.oc.Transact(ctx, c.db, ops)
	if err != nil {
		return "", fmt.Errorf("statebus: commit FlowState: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("statebus: commit FlowState: empty transact result")
	}

	var rowUUID string
	if err := json.Unmarshal(results[0].UUID[1], &rowUUID); err != nil {
		return "", fmt.Errorf("statebus: decode FlowState row uuid: %w", err)
	}

	return rowUUID, nil
}

// UpdateFlowStateSegments pushes only the segments column of a
// recomputed flow. A sourceIPs change caused by provider churn during
// recompute is, faithfully to the source, never pushed by this path.
func (c *Client) UpdateFlowStateSegments(ctx context.Context, rowUUID string, segments [][]string) error {
	row, err := encodeFlowState(FlowStateRow{Segments: segments}, FieldSegments)
	if err != nil {
		return fmt.Errorf("statebus: encode FlowState segments: %w", err)
	}

	ops := []ovsdb.TransactOp{ovsdb.Update{
		Table: "FlowState",
		Where: []ovsdb.Cond{ovsdb.Equal("_row", rowUUID)},
		Row:   row,
	}}

	_, err = c.oc.Transact(ctx, c.db, ops)
	if err != nil {
		return fmt.Errorf("statebus: update FlowState %s segments: %w", rowUUID, err)
	}
	return nil
}

// UpdateFlowStateStatus pushes a flow lifecycle status transition (e.g.
// active -> expired as performed by GC).
func (c *Client) UpdateFlowStateStatus(ctx context.Context, rowUUID string, status FlowStatus) error {
	row, err := encodeFlowState(FlowStateRow{Status: status}, FieldStatus)
	if err != nil {
		return fmt.Errorf("statebus: encode FlowState status: %w", err)
	}

	ops := []ovsdb.TransactOp{ovsdb.Update{
		Table: "FlowState",
		Where: []ovsdb.Cond{ovsdb.Equal("_row", rowUUID)},
		Row:   row,
	}}

	_, err = c.oc.Transact(ctx, c.db, ops)
	if err != nil {
		return fmt.Errorf("statebus: update FlowState %s status: %w", rowUUID, err)
	}
	return nil
}

// encodeFlowState renders the columns selected by fields into an
// ovsdb.Row, JSON-encoding the compound columns (segments, sourceIPs,
// bsid) per spec.md §6 / the round-trip testable property.
func encodeFlowState(fs FlowStateRow, fields Field) (ovsdb.Row, error) {
	row := ovsdb.Row{}

	if fields&FieldDestination != 0 {
		row["destination"] = fs.Destination
	}
	if fields&FieldSource != 0 {
		row["source"] = fs.Source
	}
	if fields&FieldDstAddr != 0 {
		row["dstaddr"] = fs.DstAddr
	}
	if fields&FieldSegments != 0 {
		b, err := json.Marshal(fs.Segments)
		if err != nil {
			return nil, err
		}
		row["segments"] = json.RawMessage(b)
	}
	if fields&FieldSourceIPs != 0 {
		arr := make([][3]interface{}, 0, len(fs.SourceIPs))
		for _, s := range fs.SourceIPs {
			arr = append(arr, [3]interface{}{s.Priority, s.Addr, s.PrefixLen})
		}
		b, err := json.Marshal(arr)
		if err != nil {
			return nil, err
		}
		row["sourceIPs"] = json.RawMessage(b)
	}
	if fields&FieldBSID != 0 {
		b, err := json.Marshal(fs.BSID)
		if err != nil {
			return nil, err
		}
		row["bsid"] = json.RawMessage(b)
	}
	if fields&FieldRouter != 0 {
		row["router"] = fs.Router
	}
	if fields&FieldProxy != 0 {
		row["proxy"] = fs.Proxy
	}
	if fields&FieldRequestID != 0 {
		row["request_id"] = fs.RequestID
	}
	if fields&FieldBandwidth != 0 {
		row["bandwidth"] = fs.Bandwidth
	}
	if fields&FieldDelay != 0 {
		row["delay"] = fs.Delay
	}
	if fields&FieldTTL != 0 {
		row["ttl"] = fs.TTL
	}
	if fields&FieldIdle != 0 {
		row["idle"] = fs.Idle
	}
	if fields&FieldTimestamp != 0 {
		row["timestamp"] = fs.Timestamp
	}
	if fields&FieldStatus != 0 {
		row["status"] = string(fs.Status)
	}

	return row, nil
}

// DecodeFlowState parses a FlowState row's compound JSON columns back into
// a FlowStateRow, the inverse of encodeFlowState's JSON columns. It is used
// by tests that exercise the commit/reparse round trip.
func DecodeFlowState(r ovsdb.Row) (FlowStateRow, error) {
	var fs FlowStateRow

	fs.Destination = rowString(r, "destination")
	fs.Source = rowString(r, "source")
	fs.DstAddr = rowString(r, "dstaddr")
	fs.Router = rowString(r, "router")
	fs.Proxy = rowString(r, "proxy")
	fs.RequestID = rowString(r, "request_id")
	fs.Bandwidth = rowInt(r, "bandwidth")
	fs.Delay = rowInt(r, "delay")
	fs.TTL = rowInt(r, "ttl")
	fs.Idle = rowInt(r, "idle")
	fs.Status = FlowStatus(rowString(r, "status"))

	if ts, ok := r["timestamp"]; ok {
		switch v := ts.(type) {
		case float64:
			fs.Timestamp = int64(v)
		case int64:
			fs.Timestamp = v
		}
	}

	if raw, ok := r["segments"]; ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return fs, err
		}
		if err := json.Unmarshal(b, &fs.Segments); err != nil {
			return fs, err
		}
	}

	if raw, ok := r["bsid"]; ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return fs, err
		}
		if err := json.Unmarshal(b, &fs.BSID); err != nil {
			return fs, err
		}
	}

	if raw, ok := r["sourceIPs"]; ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return fs, err
		}
		var arr [][3]interface{}
		if err := json.Unmarshal(b, &arr); err != nil {
			return fs, err
		}
		for _, e := range arr {
			prio, _ := e[0].(float64)
			addr, _ := e[1].(string)
			plen, _ := e[2].(float64)
			fs.SourceIPs = append(fs.SourceIPs, SourceIP{
				Priority:  int(prio),
				Addr:      addr,
				PrefixLen: int(plen),
			})
		}
	}

	return fs, nil
}
