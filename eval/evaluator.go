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

package eval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/metrics"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/andrewimpellitteri/awning-wo-sub000/prediction"
	"github.com/rs/zerolog/log"
)

// SnapshotEvaluation compares predictions of a single snapshot with
// the realized turnaround of orders which are closed now.
type SnapshotEvaluation struct {
	Key          string             `json:"key"`
	Date         string             `json:"date"`
	NumRows      int                `json:"numRows"`
	NumEvaluated int                `json:"numEvaluated"`
	NumOpen      int                `json:"numOpen"`
	NumSkipped   int                `json:"numSkipped"`
	MAE          float64            `json:"mae"`
	RMSE         float64            `json:"rmse"`
	MAECI        ConfidenceInterval `json:"maeCi95"`
	Models       []string           `json:"models"`
}

type evaluatedRow struct {
	absError     float64
	modelAgeDays int
}

// Report is the result of evaluation of all the stored snapshots.
type Report struct {
	GeneratedAt  time.Time            `json:"generatedAt"`
	Snapshots    []SnapshotEvaluation `json:"snapshots"`
	NumEvaluated int                  `json:"numEvaluated"`
	NumSkipped   int                  `json:"numSkipped"`
	Trend        Trend                `json:"trend"`
	Staleness    Staleness            `json:"staleness"`
}

// ProgressReporter is notified after each processed snapshot.
type ProgressReporter interface {
	Add(num int) error
}

func modelAgeDays(row prediction.SnapshotRow) int {
	days := math.Floor(row.GeneratedAt.Sub(row.ModelTrainedAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return int(days)
}

// EvaluateSnapshot joins snapshot rows with the current state of orders.
// Rows of still open orders are counted but not evaluated. Rows which
// cannot be joined (unknown order, missing intake date) are skipped
// and counted.
func EvaluateSnapshot(snap *prediction.Snapshot, ordersByID map[string]orders.Record) (SnapshotEvaluation, []evaluatedRow) {
	ans := SnapshotEvaluation{
		Key:        snap.Key,
		Date:       snap.Date.Format(artifact.SnapshotDateFmt),
		NumRows:    len(snap.Rows),
		NumSkipped: snap.NumInvalidRows,
	}
	rows := make([]evaluatedRow, 0, len(snap.Rows))
	absErrors := make([]float64, 0, len(snap.Rows))
	models := make(map[string]bool)
	for _, row := range snap.Rows {
		rec, ok := ordersByID[row.OrderID]
		if !ok {
			ans.NumSkipped++
			continue
		}
		if !rec.IsClosed() {
			ans.NumOpen++
			continue
		}
		actual, ok := rec.DurationDays()
		if !ok {
			ans.NumSkipped++
			continue
		}
		e := math.Abs(row.PredictedDays - actual)
		absErrors = append(absErrors, e)
		rows = append(rows, evaluatedRow{absError: e, modelAgeDays: modelAgeDays(row)})
		models[row.ModelName] = true
	}
	ans.NumEvaluated = len(absErrors)
	ans.MAE, ans.RMSE, ans.MAECI = ErrorStats(absErrors)
	ans.Models = make([]string, 0, len(models))
	for m := range models {
		ans.Models = append(ans.Models, m)
	}
	sort.Strings(ans.Models)
	return ans, rows
}

// BuildReport aggregates evaluations of individual snapshots (expected
// in chronological order). Snapshots with no evaluated rows do not
// enter the trend.
func BuildReport(evals []SnapshotEvaluation, rows []evaluatedRow, generatedAt time.Time) Report {
	ans := Report{
		GeneratedAt: generatedAt,
		Snapshots:   evals,
	}
	series := make([]float64, 0, len(evals))
	for _, ev := range evals {
		ans.NumEvaluated += ev.NumEvaluated
		ans.NumSkipped += ev.NumSkipped
		if ev.NumEvaluated > 0 {
			series = append(series, ev.MAE)
		}
	}
	ans.Trend = FitTrend(series)
	ages := make([]int, len(rows))
	errs := make([]float64, len(rows))
	for i, r := range rows {
		ages[i] = r.modelAgeDays
		errs[i] = r.absError
	}
	ans.Staleness = AnalyzeStaleness(ages, errs)
	return ans
}

type Evaluator struct {
	store    artifact.Store
	source   orders.Source
	clock    func() time.Time
	progress ProgressReporter
}

func (ev *Evaluator) SetProgressReporter(pr ProgressReporter) {
	ev.progress = pr
}

// NumSnapshots returns the number of stored snapshots.
func (ev *Evaluator) NumSnapshots(ctx context.Context) (int, error) {
	infos, err := prediction.ListSnapshots(ctx, ev.store)
	if err != nil {
		return 0, err
	}
	return len(infos), nil
}

// Report evaluates all the stored snapshots against the current
// order state. With no snapshots, an empty report is returned.
// A snapshot which cannot be read is logged and left out.
func (ev *Evaluator) Report(ctx context.Context) (Report, error) {
	infos, err := prediction.ListSnapshots(ctx, ev.store)
	if err != nil {
		return Report{}, fmt.Errorf("failed to evaluate snapshots: %w", err)
	}
	history, err := ev.source.FetchAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to evaluate snapshots: %w", err)
	}
	byID := orders.IndexByID(history)

	evals := make([]SnapshotEvaluation, 0, len(infos))
	allRows := make([]evaluatedRow, 0, 256)
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		snap, err := prediction.ReadSnapshot(ctx, ev.store, info)
		if err != nil {
			log.Warn().Err(err).Str("key", info.Key).Msg("skipping unreadable snapshot")
			continue
		}
		se, rows := EvaluateSnapshot(snap, byID)
		evals = append(evals, se)
		allRows = append(allRows, rows...)
		if se.NumSkipped > 0 {
			metrics.SkippedRows.WithLabelValues("evaluation", "join").Add(float64(se.NumSkipped))
		}
		if ev.progress != nil {
			ev.progress.Add(1)
		}
	}
	report := BuildReport(evals, allRows, ev.clock())
	metrics.EvaluationRuns.Inc()
	log.Info().
		Int("snapshots", len(evals)).
		Int("evaluated", report.NumEvaluated).
		Int("skipped", report.NumSkipped).
		Str("trend", report.Trend.Direction).
		Bool("degradesWithAge", report.Staleness.DegradesWithAge).
		Msg("evaluated prediction snapshots")
	return report, nil
}

func NewEvaluator(store artifact.Store, source orders.Source, clock func() time.Time) *Evaluator {
	if clock == nil {
		clock = time.Now
	}
	return &Evaluator{store: store, source: source, clock: clock}
}
