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

package flowmgr

import "github.com/kphf1995cm/srn/internal/statebus"

// flowToRow renders every FlowState column from fl, mirroring
// flow_to_flowentry(fl, fe, FE_ALL) as used by the initial commit.
func flowToRow(fl *Flow) statebus.FlowStateRow {
	return statebus.FlowStateRow{
		UUID:        fl.UUID,
		Destination: fl.Dst,
		Source:      fl.Src,
		DstAddr:     fl.DstAddr.String(),
		Segments:    segmentsToColumn(fl.SrcPrefixes),
		SourceIPs:   sourceIPsToColumn(fl.SrcPrefixes),
		BSID:        bsidsToColumn(fl.SrcPrefixes),
		Router:      fl.SrcRT.Name,
		Proxy:       fl.Proxy,
		RequestID:   fl.RequestID,
		Bandwidth:   int(fl.BW),
		Delay:       int(fl.Delay),
		TTL:         int(fl.TTL / 1e9),
		Idle:        int(fl.Idle / 1e9),
		Timestamp:   fl.Timestamp.Unix(),
		Status:      fl.Status,
	}
}

func segmentsToColumn(prefixes []*SrcPrefix) [][]string {
	out := make([][]string, len(prefixes))
	for i, p := range prefixes {
		segs := make([]string, len(p.Segments))
		for j, s := range p.Segments {
			segs[j] = s.String()
		}
		out[i] = segs
	}
	return out
}

func sourceIPsToColumn(prefixes []*SrcPrefix) []statebus.SourceIP {
	out := make([]statebus.SourceIP, len(prefixes))
	for i, p := range prefixes {
		out[i] = statebus.SourceIP{
			Priority:  p.Priority,
			Addr:      p.Addr.String(),
			PrefixLen: int(p.PrefixLen),
		}
	}
	return out
}

func bsidsToColumn(prefixes []*SrcPrefix) []string {
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.BSID.String()
	}
	return out
}
