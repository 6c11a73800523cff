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

package model

import (
	"context"
	"math"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/feats"
)

const (
	ModeInteractive = "interactive"
	ModeCron        = "cron"

	ScopeHoldout  = "holdout"
	ScopeTraining = "training"
)

// Regressor is a weighted regression model operating on
// dense feature rows.
type Regressor interface {

	// Fit trains the model. The weights slice may be nil in which
	// case all the rows have the same weight.
	Fit(ctx context.Context, x [][]float64, y []float64, weights []float64) error

	Predict(row []float64) float64

	// Type returns an identifier used by the registry
	// to restore the model.
	Type() string

	GetInfo() string
}

// Metadata describes a trained model. FeatureColumns is the
// authoritative scoring schema - any feature vector is projected
// to these columns before it is passed to the regressor.
type Metadata struct {
	Name            string    `json:"name"`
	ConfigName      string    `json:"config_name"`
	ModelType       string    `json:"model_type"`
	RunID           string    `json:"run_id"`
	FeatureColumns  []string  `json:"feature_columns"`
	MAE             float64   `json:"mae"`
	RMSE            float64   `json:"rmse"`
	R2              float64   `json:"r2"`
	MetricsScope    string    `json:"metrics_scope"`
	TrainingSamples int       `json:"training_samples"`
	HoldoutSamples  int       `json:"holdout_samples"`
	UsableRows      int       `json:"usable_rows"`
	ExcludedRows    int       `json:"excluded_rows"`
	TrainedAt       time.Time `json:"trained_at"`
	TrainingMode    string    `json:"training_mode"`
	Notes           string    `json:"notes,omitempty"`
}

// TrainedModel is a regressor along with everything needed
// to score a new order the same way the training data were
// prepared.
type TrainedModel struct {
	Regressor     Regressor
	CustomerStats map[string]feats.CustomerStats
	Metadata      Metadata
}

// Score returns a raw (unclamped) prediction for the vector.
// The vector is not modified.
func (tm *TrainedModel) Score(vec feats.Vector) float64 {
	v := vec.Clone()
	v.ApplyCustomerStats(tm.CustomerStats)
	return tm.Regressor.Predict(v.Project(tm.Metadata.FeatureColumns))
}

// -----

// Metrics calculates MAE, RMSE and R² of predictions. With no data,
// all the values are zero. R² is zero when the actual values have
// no variance.
func Metrics(predicted, actual []float64) (mae, rmse, r2 float64) {
	n := len(actual)
	if n == 0 {
		return 0, 0, 0
	}
	var sumActual float64
	for _, v := range actual {
		sumActual += v
	}
	meanActual := sumActual / float64(n)

	var sumSquaredResiduals, sumAbsResiduals, sumSquaredTotal float64
	for i := 0; i < n; i++ {
		residual := predicted[i] - actual[i]
		sumSquaredResiduals += residual * residual
		sumAbsResiduals += math.Abs(residual)
		sumSquaredTotal += (actual[i] - meanActual) * (actual[i] - meanActual)
	}
	mae = sumAbsResiduals / float64(n)
	rmse = math.Sqrt(sumSquaredResiduals / float64(n))
	if sumSquaredTotal > 0 {
		r2 = 1.0 - (sumSquaredResiduals / sumSquaredTotal)
	}
	return mae, rmse, r2
}
