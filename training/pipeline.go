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
	"context"
	"fmt"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/registry"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const fullDataNote = "full-data training: metrics are computed on the training set " +
	"and make no generalization claim"

type Options struct {
	ConfigName    string
	ModelType     string
	HoldoutRatio  float64
	RecencyDecay  float64
	OutlierSigmas float64
	RidgeLambda   float64
	Seed          uint64
}

func DefaultOptions() Options {
	return Options{
		ConfigName:    "turnaround",
		ModelType:     "ridge",
		HoldoutRatio:  0.2,
		RecencyDecay:  2.0,
		OutlierSigmas: 3.0,
		RidgeLambda:   1.0,
		Seed:          42,
	}
}

func OptionsFromConf(conf cnf.TrainingConf) Options {
	return Options{
		ConfigName:    conf.ConfigName,
		ModelType:     conf.ModelType,
		HoldoutRatio:  conf.HoldoutRatio,
		RecencyDecay:  conf.RecencyDecay,
		OutlierSigmas: conf.OutlierSigmas,
		RidgeLambda:   conf.RidgeLambda,
		Seed:          conf.Seed,
	}
}

func design(rows []Row, columns []string) (x [][]float64, y []float64, w []float64) {
	x = make([][]float64, len(rows))
	y = make([]float64, len(rows))
	w = make([]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Vector.Project(columns)
		y[i] = r.Label
		w[i] = r.Weight
	}
	return
}

// Train prepares the data, fits a weighted regression and evaluates it.
// In the interactive mode, metrics are calculated on the holdout part.
// In the cron mode, all the data are used for fitting and the metrics
// are calculated on the training set (the metadata say so).
// The asOf value is used as the reference time for features and as the
// training timestamp.
func Train(
	ctx context.Context,
	history []orders.Record,
	mode string,
	asOf time.Time,
	opts Options,
) (*model.TrainedModel, error) {
	ds, err := PrepareDataset(history, mode, asOf, opts)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(opts.ModelType, registry.Options{RidgeLambda: opts.RidgeLambda})
	if err != nil {
		return nil, err
	}
	x, y, w := design(ds.Train, ds.Columns)
	if err := reg.Fit(ctx, x, y, w); err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}

	evalRows := ds.Holdout
	scope := model.ScopeHoldout
	var notes string
	if mode == model.ModeCron {
		evalRows = ds.Train
		scope = model.ScopeTraining
		notes = fullDataNote
	}
	predicted := make([]float64, len(evalRows))
	actual := make([]float64, len(evalRows))
	for i, r := range evalRows {
		predicted[i] = reg.Predict(r.Vector.Project(ds.Columns))
		actual[i] = r.Label
	}
	mae, rmse, r2 := model.Metrics(predicted, actual)

	tm := &model.TrainedModel{
		Regressor:     reg,
		CustomerStats: ds.CustomerStats,
		Metadata: model.Metadata{
			ConfigName:      opts.ConfigName,
			ModelType:       reg.Type(),
			RunID:           uuid.NewString(),
			FeatureColumns:  ds.Columns,
			MAE:             mae,
			RMSE:            rmse,
			R2:              r2,
			MetricsScope:    scope,
			TrainingSamples: len(ds.Train),
			HoldoutSamples:  len(ds.Holdout),
			UsableRows:      ds.UsableRows,
			ExcludedRows:    ds.ExcludedRows(),
			TrainedAt:       asOf,
			TrainingMode:    mode,
			Notes:           notes,
		},
	}
	log.Info().
		Str("mode", mode).
		Str("modelType", reg.Type()).
		Int("trainingSamples", len(ds.Train)).
		Int("holdoutSamples", len(ds.Holdout)).
		Int("excluded", ds.ExcludedRows()).
		Float64("mae", mae).
		Float64("rmse", rmse).
		Float64("r2", r2).
		Msg("model trained")
	return tm, nil
}
