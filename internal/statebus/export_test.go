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

import "github.com/kphf1995cm/srn/ovsdb"

// EncodeFlowStateForTest exposes encodeFlowState to the external test
// package, which must exercise the commit/reparse round trip without
// reaching into unexported identifiers.
func EncodeFlowStateForTest(fs FlowStateRow, fields Field) (ovsdb.Row, error) {
	return encodeFlowState(fs, fields)
}
