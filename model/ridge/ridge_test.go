package ridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitRecoversLinearRelation(t *testing.T) {
	x := make([][]float64, 0, 50)
	y := make([]float64, 0, 50)
	for i := 0; i < 50; i++ {
		a := float64(i % 10)
		b := float64(i % 7)
		x = append(x, []float64{a, b})
		y = append(y, 3+2*a-0.5*b)
	}
	m := NewModel(1e-6)
	require.NoError(t, m.Fit(context.Background(), x, y, nil))
	assert.InDelta(t, 2.0, m.Coefficients[0], 1e-3)
	assert.InDelta(t, -0.5, m.Coefficients[1], 1e-3)
	assert.InDelta(t, 3.0, m.Intercept, 1e-3)
	assert.InDelta(t, 3+2*4-0.5*2, m.Predict([]float64{4, 2}), 1e-3)
}

func TestFitConstantTarget(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}}
	y := []float64{5, 5, 5, 5}
	m := NewModel(1)
	require.NoError(t, m.Fit(context.Background(), x, y, []float64{1, 1, 1, 1}))
	assert.InDelta(t, 5.0, m.Predict([]float64{10}), 1e-9)
}

func TestWeightsShiftFit(t *testing.T) {
	x := [][]float64{{0}, {0}, {1}, {1}}
	y := []float64{0, 10, 0, 10}
	m := NewModel(1e-9)
	require.NoError(t, m.Fit(context.Background(), x, y, []float64{1, 3, 1, 3}))
	assert.InDelta(t, 7.5, m.Predict([]float64{0}), 1e-6)
}

func TestFitEmpty(t *testing.T) {
	m := NewModel(1)
	assert.Error(t, m.Fit(context.Background(), nil, nil, nil))
}

func TestFitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewModel(1)
	err := m.Fit(ctx, [][]float64{{1}, {2}}, []float64{1, 2}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
