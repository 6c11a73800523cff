package huber

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuberIsRobustToOutlier(t *testing.T) {
	x := make([][]float64, 0, 41)
	y := make([]float64, 0, 41)
	for i := 0; i < 40; i++ {
		v := float64(i % 10)
		x = append(x, []float64{v})
		y = append(y, 1+v)
	}
	x = append(x, []float64{5})
	y = append(y, 500)

	m := NewModel()
	m.MaxIterations = 20000
	require.NoError(t, m.Fit(context.Background(), x, y, nil))
	// least squares would end up around 18
	assert.InDelta(t, 6.0, m.Predict([]float64{5}), 4.0)
}

func TestHuberLossShape(t *testing.T) {
	m := NewModel()
	assert.InDelta(t, 0.5, m.huberLoss(1), 1e-9)
	assert.InDelta(t, m.Delta*(10-0.5*m.Delta), m.huberLoss(-10), 1e-9)
	assert.Equal(t, m.Delta, m.huberDerivative(100))
	assert.Equal(t, -m.Delta, m.huberDerivative(-100))
}

func TestHuberEmpty(t *testing.T) {
	m := NewModel()
	assert.Error(t, m.Fit(context.Background(), [][]float64{}, nil, nil))
}
