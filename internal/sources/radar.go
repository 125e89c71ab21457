// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package sources

const radarEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: ["VV"] }],
    output: { bands: 1, sampleType: "FLOAT32" },
    mosaicking: "ORBIT"
  };
}
function evaluatePixel(samples) {
  if (!samples || samples.length === 0) return [0];
  let arr = [];
  for (let i = 0; i < samples.length; i++) {
    arr.push(samples[i].VV);
  }
  arr.sort(function(a, b){ return a - b; });
  let mid = Math.floor(arr.length / 2);
  let med = arr.length % 2 === 1 ? arr[mid] : (arr[mid - 1] + arr[mid]) / 2.0;
  return [med];
}`

// newRadar builds the Sentinel-1 GRD monthly VV median composite source.
func newRadar(client *cdseClient) *cdseAdapter {
	return &cdseAdapter{
		name:       SourceRadar,
		client:     client,
		fileName:   "sentinel1_vv_median_20m.tif",
		resolution: 20,
		width:      1620,
		height:     1665,
		evalscript: radarEvalscript,
		data: func(req Request) processData {
			return processData{
				Type: "sentinel-1-grd",
				DataFilter: map[string]any{
					"timeRange":       timeRange(req),
					"acquisitionMode": "IW",
					"polarization":    "DV",
				},
				Processing: map[string]any{"orthorectify": true},
			}
		},
	}
}
