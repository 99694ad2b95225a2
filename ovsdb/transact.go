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
)

// A Cond is a conditional expression which is evaluated by the OVSDB server
// in a transaction.
type Cond struct {
	Column, Function, Value string
}

// Equal creates a Cond that ensures a column's value equals the
// specified value.
func Equal(column, value string) Cond {
	return Cond{
		Column:   column,
		Function: "==",
		Value:    value,
	}
}

// MarshalJSON implements json.Marshaler.
func (c Cond) MarshalJSON() ([]byte, error) {
	// Conditionals are expected in three element arrays.
	return json.Marshal([3]string{
		c.Column,
		c.Function,
		c.Value,
	})
}

// A TransactOp is an operation that can be applied with Client.Transact.
type TransactOp interface {
	json.Marshaler
}

var (
	_ TransactOp = Select{}
	_ TransactOp = Insert{}
	_ TransactOp = Update{}
)

// Select is a TransactOp which fetches information from a database.
type Select struct {
	// The name of the table to select from.
	Table string

	// Zero or more Conds for conditional select.
	Where []Cond
}

// MarshalJSON implements json.Marshaler.
func (s Select) MarshalJSON() ([]byte, error) {
	// Send an empty array instead of nil if no where clause.
	where := s.Where
	if where == nil {
		where = []Cond{}
	}

	sel := struct {
		Op    string `json:"op"`
		Table string `json:"table"`
		Where []Cond `json:"where"`
	}{
		Op:    "select",
		Table: s.Table,
		Where: where,
	}

	return json.Marshal(sel)
}

// Insert is a TransactOp which inserts a new row into a table. UUIDName, if
// set, lets later ops in the same transaction refer back to the new row via
// a ["named-uuid", UUIDName] value.
type Insert struct {
	Table    string
	Row      Row
	UUIDName string
}

// MarshalJSON implements json.Marshaler.
func (i Insert) MarshalJSON() ([]byte, error) {
	ins := struct {
		Op       string `json:"op"`
		Table    string `json:"table"`
		Row      Row    `json:"row"`
		UUIDName string `json:"uuid-name,omitempty"`
	}{
		Op:       "insert",
		Table:    i.Table,
		Row:      i.Row,
		UUIDName: i.UUIDName,
	}

	return json.Marshal(ins)
}

// Update is a TransactOp which updates the columns named in Row on every
// row of Table matching every Cond in Where.
type Update struct {
	Table string
	Where []Cond
	Row   Row
}

// MarshalJSON implements json.Marshaler.
func (u Update) MarshalJSON() ([]byte, error) {
	where := u.Where
	if where == nil {
		where = []Cond{}
	}

	upd := struct {
		Op    string `json:"op"`
		Table string `json:"table"`
		Where []Cond `json:"where"`
		Row   Row    `json:"row"`
	}{
		Op:    "update",
		Table: u.Table,
		Where: where,
		Row:   u.Row,
	}

	return json.Marshal(upd)
}

// A transactArg is used to properly JSON marshal the arguments for a
// transact RPC.
type transactArg struct {
	Database string
	Ops      []TransactOp
}

// MarshalJSON implements json.Marshaler.
func (t transactArg) MarshalJSON() ([]byte, error) {
	out := []interface{}{
		t.Database,
	}

	for _, op := range t.Ops {
		out = append(out, op)
	}

	return json.Marshal(out)
}

// An OpResult is the raw per-operation result of a transaction: a select
// yields a "rows" array, an insert yields a "uuid" pair, an update yields a
// "count". Callers pick the field relevant to the op they issued.
type OpResult struct {
	Rows  []Row             `json:"rows,omitempty"`
	UUID  [2]json.RawMessage `json:"uuid,omitempty"`
	Count int               `json:"count,omitempty"`
	Error string            `json:"error,omitempty"`
	Details string          `json:"details,omitempty"`
}

// Transact performs one or more TransactOps against database db as a single
// OVSDB transaction, returning one OpResult per op, in order.
func (c *Client) Transact(ctx context.Context, db string, ops []TransactOp) ([]OpResult, error) {
	var results []OpResult

	arg := transactArg{Database: db, Ops: ops}

	raw, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}

	var args []interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	if err := c.call(ctx, "transact", &results, args...); err != nil {
		return nil, err
	}

	return results, nil
}

// TransactResult carries the outcome of an asynchronous transaction.
type TransactResult struct {
	Results []OpResult
	Err     error
}

// TransactAsync performs Transact in a new goroutine and reports its result
// on the returned channel, which is closed after the single send. It
// satisfies the "asynchronous row insert/update transaction" contract;
// callers that need the outcome before proceeding should use Transact.
func (c *Client) TransactAsync(ctx context.Context, db string, ops []TransactOp) <-chan TransactResult {
	out := make(chan TransactResult, 1)

	go func() {
		defer close(out)

		res, err := c.Transact(ctx, db, ops)
		out <- TransactResult{Results: res, Err: err}
	}()

	return out
}
