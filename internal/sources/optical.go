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

const opticalEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: ["B02", "B03", "B04", "B08", "SCL"] }],
    output: { bands: 4, sampleType: "FLOAT32" },
    mosaicking: "ORBIT"
  };
}
function evaluatePixel(samples) {
  if (!samples || samples.length === 0) return [0,0,0,0];
  let blue = []; let green = []; let red = []; let nir = [];
  for (let i = 0; i < samples.length; i++) {
    let s = samples[i];
    if (s.SCL === 3 || s.SCL === 8 || s.SCL === 9 || s.SCL === 10 || s.SCL === 11) continue;
    blue.push(s.B02); green.push(s.B03); red.push(s.B04); nir.push(s.B08);
  }
  function med(a){
    if (a.length === 0) return 0;
    a.sort(function(x,y){ return x-y; });
    let m = Math.floor(a.length/2);
    return a.length % 2 === 1 ? a[m] : (a[m-1]+a[m])/2.0;
  }
  return [med(red), med(green), med(blue), med(nir)];
}`

const defaultMaxCloudCoverage = 40

// newOptical builds the Sentinel-2 L2A cloud-masked RGBN median source.
// Cloud shadow, cloud and cirrus pixels (SCL 3, 8, 9, 10, 11) are dropped
// before the median.
func newOptical(client *cdseClient, maxCloud int) *cdseAdapter {
	if maxCloud <= 0 || maxCloud > 100 {
		maxCloud = defaultMaxCloudCoverage
	}
	return &cdseAdapter{
		name:       SourceOptical,
		client:     client,
		fileName:   "sentinel2_rgbn_median_30m.tif",
		resolution: 30,
		width:      1080,
		height:     1110,
		evalscript: opticalEvalscript,
		data: func(req Request) processData {
			return processData{
				Type: "sentinel-2-l2a",
				DataFilter: map[string]any{
					"timeRange":        timeRange(req),
					"maxCloudCoverage": maxCloud,
				},
			}
		},
	}
}
