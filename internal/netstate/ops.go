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

package netstate

// graphOps supplies graph.Ops for the Router/Link payload types, mirroring
// g_ops_srdns in the source: node identity is the router name, edge
// identity is the endpoint address pair.
type graphOps struct{}

func (graphOps) NodeDataEquals(a, b interface{}) bool {
	ra, ok := a.(*Router)
	if !ok {
		return false
	}
	rb, ok := b.(*Router)
	if !ok {
		return false
	}
	return ra.Name == rb.Name
}

func (graphOps) EdgeDataEquals(a, b interface{}) bool {
	la, ok := a.(*Link)
	if !ok {
		return false
	}
	lb, ok := b.(*Link)
	if !ok {
		return false
	}
	return la.Local == lb.Local && la.Remote == lb.Remote
}

// NodeDataCopy returns the Router unchanged: routers are treated as
// immutable once published, so a deepcopy's node payload may safely share
// the original Router pointer with the graph it was copied from.
func (graphOps) NodeDataCopy(data interface{}) interface{} {
	return data
}

// EdgeDataCopy returns a fresh *Link with RefCount reset to 2, matching
// the source's "deepcopy increments link refcount back to 2" behavior.
func (graphOps) EdgeDataCopy(data interface{}) interface{} {
	l := data.(*Link)
	cp := *l
	cp.RefCount = 2
	return &cp
}

// EdgeDestroy decrements the shared Link's refcount. It never frees
// anything explicitly — Go reclaims the Link once every holder (both
// directed edges, and the copy's own graph) drops its reference — but the
// decrement is kept for parity with the source and so tests can observe
// it reaching zero once both directions of a link are removed.
func (graphOps) EdgeDestroy(data interface{}) {
	l, ok := data.(*Link)
	if !ok {
		return
	}
	l.RefCount--
}
