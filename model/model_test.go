package model

import (
	"context"
	"testing"

	"github.com/andrewimpellitteri/awning-wo-sub000/feats"
	"github.com/stretchr/testify/assert"
)

type sumRegressor struct{}

func (r sumRegressor) Fit(ctx context.Context, x [][]float64, y []float64, w []float64) error {
	return nil
}

func (r sumRegressor) Predict(row []float64) float64 {
	var ans float64
	for _, v := range row {
		ans += v
	}
	return ans
}

func (r sumRegressor) Type() string    { return "sum" }
func (r sumRegressor) GetInfo() string { return "sum" }

func TestMetrics(t *testing.T) {
	mae, rmse, r2 := Metrics([]float64{2, 4, 6}, []float64{1, 4, 7})
	assert.InDelta(t, 2.0/3.0, mae, 1e-9)
	assert.InDelta(t, 0.8164965, rmse, 1e-6)
	assert.InDelta(t, 1-2.0/18.0, r2, 1e-9)
}

func TestMetricsZeroVariance(t *testing.T) {
	mae, _, r2 := Metrics([]float64{4, 6}, []float64{5, 5})
	assert.Equal(t, 1.0, mae)
	assert.Equal(t, 0.0, r2)
}

func TestMetricsEmpty(t *testing.T) {
	mae, rmse, r2 := Metrics(nil, nil)
	assert.Zero(t, mae)
	assert.Zero(t, rmse)
	assert.Zero(t, r2)
}

func TestScoreUsesSchemaAndCustomerStats(t *testing.T) {
	tm := &TrainedModel{
		Regressor: sumRegressor{},
		CustomerStats: map[string]feats.CustomerStats{
			"c1": {Mean: 10, Std: 2, Count: 4},
		},
		Metadata: Metadata{
			FeatureColumns: []string{feats.RushAny, feats.CustomerMeanDays, "retired_feature"},
		},
	}
	vec := feats.Vector{
		CustomerID: "c1",
		Values: map[string]float64{
			feats.RushAny:         1,
			feats.InstructionsLen: 100,
		},
	}
	assert.Equal(t, 11.0, tm.Score(vec))
	_, touched := vec.Values[feats.CustomerMeanDays]
	assert.False(t, touched)
}
