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

package training

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/feats"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// MinUsableRows is the minimum number of labelled rows
// (after outlier filtering) needed to train a model.
const MinUsableRows = 10

var (
	ErrInsufficientData = errors.New("insufficient training data")
	ErrNoFeatures       = errors.New("no usable feature columns")
)

// Row is a single labelled training example.
type Row struct {
	Vector      feats.Vector
	Label       float64
	Weight      float64
	CompletedAt time.Time
}

// Dataset is a prepared, split and leakage-safe set of training rows.
type Dataset struct {
	Train         []Row
	Holdout       []Row
	CustomerStats map[string]feats.CustomerStats
	Columns       []string

	UsableRows  int
	NumOpen     int
	NumNoIntake int
	NumNegative int
	NumOutliers int
}

// ExcludedRows returns number of history records which did not make it
// into the dataset.
func (ds *Dataset) ExcludedRows() int {
	return ds.NumOpen + ds.NumNoIntake + ds.NumNegative + ds.NumOutliers
}

type labelled struct {
	rec   orders.Record
	label float64
}

// selectLabelled computes labels for closed orders and removes rows
// with negative duration and rows with duration above mean + k·std.
func selectLabelled(history []orders.Record, outlierSigmas float64, ds *Dataset) []labelled {
	candidates := make([]labelled, 0, len(history))
	for _, rec := range history {
		if !rec.IsClosed() {
			ds.NumOpen++
			continue
		}
		days, ok := rec.DurationDays()
		if !ok {
			ds.NumNoIntake++
			continue
		}
		if days < 0 {
			ds.NumNegative++
			continue
		}
		candidates = append(candidates, labelled{rec: rec, label: days})
	}
	if len(candidates) < 2 {
		return candidates
	}
	labels := make([]float64, len(candidates))
	for i, c := range candidates {
		labels[i] = c.label
	}
	mean, std := stat.MeanStdDev(labels, nil)
	limit := mean + outlierSigmas*std
	ans := make([]labelled, 0, len(candidates))
	for _, c := range candidates {
		if c.label > limit {
			ds.NumOutliers++
			continue
		}
		ans = append(ans, c)
	}
	return ans
}

// historySpan returns the earliest and the latest completion date.
func historySpan(rows []Row) (time.Time, time.Time) {
	if len(rows) == 0 {
		return time.Time{}, time.Time{}
	}
	tMin, tMax := rows[0].CompletedAt, rows[0].CompletedAt
	for _, r := range rows {
		if r.CompletedAt.Before(tMin) {
			tMin = r.CompletedAt
		}
		if r.CompletedAt.After(tMax) {
			tMax = r.CompletedAt
		}
	}
	return tMin, tMax
}

// recencyWeights sets weights growing exponentially with the completion
// date relative to the [tMin, tMax] history span. The weights are normalized
// to mean 1. With zero span, all the weights are 1.
func recencyWeights(rows []Row, tMin, tMax time.Time, decay float64) {
	if len(rows) == 0 {
		return
	}
	span := tMax.Sub(tMin).Seconds()
	if span <= 0 {
		for i := range rows {
			rows[i].Weight = 1
		}
		return
	}
	var sum float64
	for i, r := range rows {
		rows[i].Weight = math.Exp(decay * r.CompletedAt.Sub(tMin).Seconds() / span)
		sum += rows[i].Weight
	}
	mean := sum / float64(len(rows))
	for i := range rows {
		rows[i].Weight /= mean
	}
}

// splitRows shuffles the rows deterministically (based on the seed)
// and separates the holdout part. The holdout gets at least one row
// and the training part keeps at least one row.
func splitRows(rows []Row, ratio float64, seed uint64) (train, holdout []Row) {
	n := len(rows)
	nHoldout := int(math.Round(float64(n) * ratio))
	if nHoldout < 1 {
		nHoldout = 1
	}
	if nHoldout > n-1 {
		nHoldout = n - 1
	}
	rnd := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rnd.Perm(n)
	holdout = make([]Row, 0, nHoldout)
	train = make([]Row, 0, n-nHoldout)
	for i, idx := range perm {
		if i < nHoldout {
			holdout = append(holdout, rows[idx])

		} else {
			train = append(train, rows[idx])
		}
	}
	return
}

// nonConstantColumns returns declared features which vary across rows.
func nonConstantColumns(rows []Row) []string {
	ans := make([]string, 0, len(feats.Names()))
	for _, name := range feats.Names() {
		first := rows[0].Vector.Get(name)
		for _, r := range rows[1:] {
			if r.Vector.Get(name) != first {
				ans = append(ans, name)
				break
			}
		}
	}
	return ans
}

// PrepareDataset performs all the data preparation steps of training:
//
//  1. labelling of closed orders + removal of negative durations and outliers
//  2. feature engineering with progress fields reset to their order
//     creation time state
//  3. train/holdout split (interactive mode only)
//  4. recency weights
//  5. customer statistics computed from the training part only (or from
//     all the data in the cron mode) and applied to both parts
//  6. selection of non-constant feature columns
func PrepareDataset(history []orders.Record, mode string, asOf time.Time, opts Options) (*Dataset, error) {
	if mode != model.ModeInteractive && mode != model.ModeCron {
		return nil, fmt.Errorf("unknown training mode '%s'", mode)
	}
	ds := &Dataset{}
	selected := selectLabelled(history, opts.OutlierSigmas, ds)
	ds.UsableRows = len(selected)
	if len(selected) < MinUsableRows {
		return ds, fmt.Errorf(
			"%w: %d usable rows, at least %d required", ErrInsufficientData, len(selected), MinUsableRows)
	}

	rows := make([]Row, len(selected))
	for i, s := range selected {
		vec := feats.EngineerOne(s.rec, asOf)
		vec.ResetProgress()
		rows[i] = Row{
			Vector:      vec,
			Label:       s.label,
			CompletedAt: *s.rec.CompletionDate,
		}
	}

	tMin, tMax := historySpan(rows)
	if mode == model.ModeInteractive {
		ds.Train, ds.Holdout = splitRows(rows, opts.HoldoutRatio, opts.Seed)

	} else {
		ds.Train = rows
	}
	recencyWeights(ds.Train, tMin, tMax, opts.RecencyDecay)

	customerIDs := make([]string, len(ds.Train))
	labels := make([]float64, len(ds.Train))
	for i, r := range ds.Train {
		customerIDs[i] = r.Vector.CustomerID
		labels[i] = r.Label
	}
	ds.CustomerStats = feats.ComputeCustomerStats(customerIDs, labels)
	for _, r := range ds.Train {
		r.Vector.ApplyCustomerStats(ds.CustomerStats)
	}
	for _, r := range ds.Holdout {
		r.Vector.ApplyCustomerStats(ds.CustomerStats)
	}

	ds.Columns = nonConstantColumns(ds.Train)
	if len(ds.Columns) == 0 {
		return ds, ErrNoFeatures
	}
	log.Debug().
		Int("train", len(ds.Train)).
		Int("holdout", len(ds.Holdout)).
		Int("excluded", ds.ExcludedRows()).
		Strs("columns", ds.Columns).
		Msg("prepared training dataset")
	return ds, nil
}
