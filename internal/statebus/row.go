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

// Package statebus is the typed row layer above the raw ovsdb.Client: it
// defines the four logical tables the controller reads and writes
// (NodeState, LinkState, FlowReq, FlowState), decodes/encodes them against
// ovsdb.Row, and dispatches monitor notifications tagged with an Action.
package statebus

import (
	"fmt"

	"github.com/kphf1995cm/srn/ovsdb"
)

// Action tags a row delivered by a table monitor.
type Action int

const (
	// Initial rows are delivered once, synchronously, when a monitor is
	// first installed, reflecting the table's contents at that instant.
	Initial Action = iota
	Insert
	Modify
	Delete
)

func (a Action) String() string {
	switch a {
	case Initial:
		return "initial"
	case Insert:
		return "insert"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Status mirrors the FlowReq status column. Integer values are part of the
// wire contract shared with the proxy and must remain stable.
type Status uint8

const (
	StatusPending     Status = 0
	StatusAllowed     Status = 1
	StatusDenied      Status = 2
	StatusUnavailable Status = 3
	StatusNoRouter    Status = 4
	StatusNoPrefix    Status = 5
	StatusError       Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAllowed:
		return "allowed"
	case StatusDenied:
		return "denied"
	case StatusUnavailable:
		return "unavailable"
	case StatusNoRouter:
		return "no_router"
	case StatusNoPrefix:
		return "no_prefix"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// FlowStatus mirrors the committed-flow lifecycle status, distinct from the
// FlowReq Status above (the request's outcome code vs. the flow's ongoing
// state).
type FlowStatus string

const (
	FlowActive  FlowStatus = "active"
	FlowExpired FlowStatus = "expired"
	FlowOrphan  FlowStatus = "orphan"
)

// NodeStateRow mirrors the NodeState table: read-only router advertisements
// published by the data plane.
type NodeStateRow struct {
	UUID   string
	Name   string
	Addr   string
	PBSID  string
	Prefix string // ';'-separated list of "addr/len" prefix strings
}

func decodeNodeState(uuid string, r ovsdb.Row) NodeStateRow {
	return NodeStateRow{
		UUID:   uuid,
		Name:   rowString(r, "name"),
		Addr:   rowString(r, "addr"),
		PBSID:  rowString(r, "pbsid"),
		Prefix: rowString(r, "prefix"),
	}
}

// LinkStateRow mirrors the LinkState table: read-only bidirectional link
// advertisements.
type LinkStateRow struct {
	UUID   string
	Name1  string
	Addr1  string
	Name2  string
	Addr2  string
	BW     int
	AvaBW  int
	Delay  int
	Metric int
}

func decodeLinkState(uuid string, r ovsdb.Row) LinkStateRow {
	return LinkStateRow{
		UUID:   uuid,
		Name1:  rowString(r, "name1"),
		Addr1:  rowString(r, "addr1"),
		Name2:  rowString(r, "name2"),
		Addr2:  rowString(r, "addr2"),
		BW:     rowInt(r, "bw"),
		AvaBW:  rowInt(r, "ava_bw"),
		Delay:  rowInt(r, "delay"),
		Metric: rowInt(r, "metric"),
	}
}

// FlowReqRow mirrors the FlowReq table: the controller reads every column
// and writes only Status back.
//
// Duplicate request_id handling is undefined upstream; the controller does
// not deduplicate (at-least-once ingest).
type FlowReqRow struct {
	UUID        string
	Destination string
	DstAddr     string
	Source      string
	Bandwidth   int
	Delay       int
	Router      string
	Proxy       string
	RequestID   string
	Status      Status
}

func decodeFlowReq(uuid string, r ovsdb.Row) FlowReqRow {
	return FlowReqRow{
		UUID:        uuid,
		Destination: rowString(r, "destination"),
		DstAddr:     rowString(r, "dstaddr"),
		Source:      rowString(r, "source"),
		Bandwidth:   rowInt(r, "bandwidth"),
		Delay:       rowInt(r, "delay"),
		Router:      rowString(r, "router"),
		Proxy:       rowString(r, "proxy"),
		RequestID:   rowString(r, "request_id"),
		Status:      Status(rowInt(r, "status")),
	}
}

// SourceIP is one element of FlowStateRow.SourceIPs: [priority, addr,
// prefix_len], matching the JSON shape pinned by the round-trip property.
type SourceIP struct {
	Priority  int
	Addr      string
	PrefixLen int
}

// FlowStateRow mirrors a committed Flow (write-only from the controller's
// point of view). Segments is a list of segment lists, one per SrcPrefix;
// BSID is one BSID string per SrcPrefix, in the same order; a SrcPrefix
// that shares another's BSID repeats it.
type FlowStateRow struct {
	UUID        string
	Destination string
	Source      string
	DstAddr     string
	Segments    [][]string
	SourceIPs   []SourceIP
	BSID        []string
	Router      string
	Proxy       string
	RequestID   string
	Bandwidth   int
	Delay       int
	TTL         int
	Idle        int
	Timestamp   int64
	Status      FlowStatus
}

// Field is a bitmask selecting which FlowStateRow columns a commit writes.
// FE_ALL (a full create) writes every column; a recompute writes only
// Segments, matching the source's flow_to_flowentry fields argument.
type Field uint32

const (
	FieldDestination Field = 1 << iota
	FieldSource
	FieldDstAddr
	FieldSegments
	FieldSourceIPs
	FieldBSID
	FieldRouter
	FieldProxy
	FieldRequestID
	FieldBandwidth
	FieldDelay
	FieldTTL
	FieldIdle
	FieldTimestamp
	FieldStatus

	FieldAll Field = 1<<iota - 1
)

func rowString(r ovsdb.Row, key string) string {
	v, ok := r[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func rowInt(r ovsdb.Row, key string) int {
	v, ok := r[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// ErrUnknownAction describes a monitor update that carries a row-update
// entry with neither Old nor New populated in a way the table decoder
// recognizes. The monitor dispatch loop logs and drops such updates
// without returning this error, so it is never propagated to the requester.
var ErrUnknownAction = fmt.Errorf("statebus: update with no recognizable old/new row")
