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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnaround_model_cache_hits_total",
		Help: "Model cache lookups served without store I/O",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnaround_model_cache_misses_total",
		Help: "Model cache lookups requiring a store read",
	})
	CacheRefillFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnaround_model_cache_refill_failures_total",
		Help: "Failed attempts to load a model from the artifact store",
	})
	PredictionsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnaround_predictions_total",
		Help: "Predictions produced (single and batch)",
	})
	SkippedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnaround_skipped_rows_total",
		Help: "Rows skipped during batch prediction or evaluation",
	}, []string{"stage", "reason"})
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnaround_training_runs_total",
		Help: "Training runs by mode and outcome",
	}, []string{"mode", "outcome"})
	TrainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turnaround_training_duration_seconds",
		Help:    "Duration of training runs",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	SnapshotRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnaround_snapshot_rows_total",
		Help: "Rows written into prediction snapshots",
	})
	EvaluationRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnaround_evaluation_runs_total",
		Help: "Snapshot evaluation reports computed",
	})
)
