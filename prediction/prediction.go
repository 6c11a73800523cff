// Copyright 2024 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2024 Institute of the Czech National Corpus,
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

package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/feats"
	"github.com/andrewimpellitteri/awning-wo-sub000/metrics"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoModel        = errors.New("no trained model available")
	ErrSnapshotExists = errors.New("snapshot for the date already exists")
)

type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipClosed     SkipReason = "order_closed"
	SkipNoFeatures SkipReason = "no_features"
)

// Prediction is a point estimate of turnaround in days. The Lower
// and Upper bounds are point ∓ a configured constant. They do NOT
// express the model's uncertainty, they are a rough engineering
// approximation (lower bound is clamped at zero).
type Prediction struct {
	OrderID        string    `json:"orderId"`
	Days           float64   `json:"days"`
	Lower          float64   `json:"lower"`
	Upper          float64   `json:"upper"`
	ModelName      string    `json:"modelName"`
	ModelTrainedAt time.Time `json:"modelTrainedAt"`
}

// Result is an outcome of a prediction for a single order
// within a batch. Either Prediction is set or Skip is non-empty.
type Result struct {
	OrderID    string      `json:"orderId"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Skip       SkipReason  `json:"skip,omitempty"`
}

func (r Result) Skipped() bool {
	return r.Skip != SkipNone
}

// Summary describes a generated snapshot.
type Summary struct {
	Key         string    `json:"key"`
	Date        string    `json:"date"`
	GeneratedAt time.Time `json:"generatedAt"`
	ModelName   string    `json:"modelName"`
	NumOpen     int       `json:"numOpen"`
	Generated   int       `json:"generated"`
	Skipped     int       `json:"skipped"`
}

// ModelProvider provides the currently active model.
// The model cache is the standard implementation.
type ModelProvider interface {
	Get(ctx context.Context) (*model.TrainedModel, error)
}

type Service struct {
	models    ModelProvider
	store     artifact.Store
	source    orders.Source
	halfWidth float64
	clock     func() time.Time
}

func (svc *Service) activeModel(ctx context.Context) (*model.TrainedModel, error) {
	tm, err := svc.models.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoModel, err)
	}
	return tm, nil
}

func (svc *Service) predict(tm *model.TrainedModel, vec feats.Vector) Prediction {
	days := math.Max(0, tm.Score(vec))
	return Prediction{
		OrderID:        vec.OrderID,
		Days:           days,
		Lower:          math.Max(0, days-svc.halfWidth),
		Upper:          days + svc.halfWidth,
		ModelName:      tm.Metadata.Name,
		ModelTrainedAt: tm.Metadata.TrainedAt,
	}
}

// PredictOne estimates turnaround of a single order using the
// cached model. The record's features are aligned to the model's
// feature schema and customer aggregates come from the model's
// training run.
func (svc *Service) PredictOne(ctx context.Context, rec orders.Record) (Prediction, error) {
	tm, err := svc.activeModel(ctx)
	if err != nil {
		return Prediction{}, err
	}
	ans := svc.predict(tm, feats.EngineerOne(rec, svc.clock()))
	metrics.PredictionsServed.Inc()
	return ans, nil
}

// PredictBatch predicts all the open orders in recs. Closed orders and
// orders with no usable features are skipped, not failed.
func (svc *Service) PredictBatch(tm *model.TrainedModel, recs []orders.Record, asOf time.Time) []Result {
	ans := make([]Result, len(recs))
	for i, rec := range recs {
		ans[i].OrderID = rec.ID
		if rec.IsClosed() {
			ans[i].Skip = SkipClosed
			continue
		}
		vec := feats.EngineerOne(rec, asOf)
		if vec.Empty() {
			ans[i].Skip = SkipNoFeatures
			continue
		}
		pred := svc.predict(tm, vec)
		ans[i].Prediction = &pred
	}
	return ans
}

// GenerateSnapshot predicts all the open orders and stores the result
// as a dated snapshot. An existing snapshot for the same date is never
// overwritten (ErrSnapshotExists).
func (svc *Service) GenerateSnapshot(ctx context.Context) (Summary, error) {
	now := svc.clock()
	key := artifact.SnapshotKey(now)
	_, err := svc.store.Get(ctx, key)
	if err == nil {
		return Summary{}, fmt.Errorf("%w: %s", ErrSnapshotExists, key)

	} else if !errors.Is(err, artifact.ErrNotFound) {
		return Summary{}, fmt.Errorf("failed to check existing snapshot: %w", err)
	}

	tm, err := svc.activeModel(ctx)
	if err != nil {
		return Summary{}, err
	}
	open, err := svc.source.FetchOpen(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch open orders: %w", err)
	}

	results := svc.PredictBatch(tm, open, now)
	rows := make([]SnapshotRow, 0, len(results))
	skipped := make(map[SkipReason]int)
	for _, res := range results {
		if res.Skipped() {
			skipped[res.Skip]++
			continue
		}
		rows = append(rows, SnapshotRow{
			OrderID:        res.OrderID,
			PredictedDays:  res.Prediction.Days,
			ModelName:      res.Prediction.ModelName,
			ModelTrainedAt: res.Prediction.ModelTrainedAt,
			GeneratedAt:    now,
		})
	}
	data, err := EncodeSnapshot(rows)
	if err != nil {
		return Summary{}, err
	}
	if err := svc.store.Put(ctx, key, data); err != nil {
		return Summary{}, fmt.Errorf("failed to store snapshot: %w", err)
	}

	var numSkipped int
	for reason, cnt := range skipped {
		metrics.SkippedRows.WithLabelValues("prediction", string(reason)).Add(float64(cnt))
		numSkipped += cnt
	}
	metrics.PredictionsServed.Add(float64(len(rows)))
	metrics.SnapshotRows.Add(float64(len(rows)))

	log.Info().
		Str("key", key).
		Str("model", tm.Metadata.Name).
		Int("generated", len(rows)).
		Int("skipped", numSkipped).
		Msg("stored prediction snapshot")
	return Summary{
		Key:         key,
		Date:        now.Format(artifact.SnapshotDateFmt),
		GeneratedAt: now,
		ModelName:   tm.Metadata.Name,
		NumOpen:     len(open),
		Generated:   len(rows),
		Skipped:     numSkipped,
	}, nil
}

func NewService(
	models ModelProvider,
	store artifact.Store,
	source orders.Source,
	intervalHalfWidth float64,
	clock func() time.Time,
) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		models:    models,
		store:     store,
		source:    source,
		halfWidth: intervalHalfWidth,
		clock:     clock,
	}
}
