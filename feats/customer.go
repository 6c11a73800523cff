// Copyright 2025 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2025 Department of Linguistics,
// Faculty of Arts, Charles University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package feats

import (
	"gonum.org/v1/gonum/stat"
)

// CustomerStats holds aggregates of historical turnaround
// of a single customer.
type CustomerStats struct {
	Mean  float64 `json:"mean" msgpack:"mean"`
	Std   float64 `json:"std" msgpack:"std"`
	Count int     `json:"count" msgpack:"count"`
}

// ComputeCustomerStats calculates per customer label statistics.
// The customerIDs and labels slices must be of the same length.
// Rows without a customer ID are ignored. For customers with
// a single order, the std is zero.
func ComputeCustomerStats(customerIDs []string, labels []float64) map[string]CustomerStats {
	groups := make(map[string][]float64)
	for i, cid := range customerIDs {
		if cid == "" {
			continue
		}
		groups[cid] = append(groups[cid], labels[i])
	}
	ans := make(map[string]CustomerStats, len(groups))
	for cid, vals := range groups {
		cs := CustomerStats{Count: len(vals)}
		if len(vals) > 1 {
			cs.Mean, cs.Std = stat.MeanStdDev(vals, nil)

		} else {
			cs.Mean = vals[0]
		}
		ans[cid] = cs
	}
	return ans
}

// ApplyCustomerStats overwrites the customer aggregate fields
// of the vector. Customers not present in the stats keep
// zero values.
func (v Vector) ApplyCustomerStats(stats map[string]CustomerStats) {
	cs, ok := stats[v.CustomerID]
	if !ok {
		v.Values[CustomerMeanDays] = 0
		v.Values[CustomerStdDays] = 0
		v.Values[CustomerOrderCount] = 0
		return
	}
	v.Values[CustomerMeanDays] = cs.Mean
	v.Values[CustomerStdDays] = cs.Std
	v.Values[CustomerOrderCount] = float64(cs.Count)
}
