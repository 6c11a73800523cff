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

package huber

import (
	"context"
	"fmt"
	"math"
)

const (
	ModelType = "huber"

	ctxCheckInterval = 100
)

// Model is a weighted Huber regression fitted by gradient descent
// on normalized data. The stored parameters are on the original
// scale of features and target.
type Model struct {
	Delta         float64 `msgpack:"delta"`
	LearningRate  float64 `msgpack:"learningRate"`
	MaxIterations int     `msgpack:"maxIterations"`
	Tolerance     float64 `msgpack:"tolerance"`

	Coefficients []float64 `msgpack:"coefficients"`
	Intercept    float64   `msgpack:"intercept"`

	// normalization parameters
	featureMeans []float64
	featureStds  []float64
	targetMean   float64
	targetStd    float64
}

func NewModel() *Model {
	return &Model{
		Delta:         1.35,
		LearningRate:  0.05,
		MaxIterations: 5000,
		Tolerance:     1e-7,
	}
}

func (m *Model) Type() string {
	return ModelType
}

func (m *Model) GetInfo() string {
	return fmt.Sprintf(
		"Huber regression (delta: %01.2f, num. coefficients: %d)", m.Delta, len(m.Coefficients))
}

// huberLoss calculates the Huber loss for a single residual
func (m *Model) huberLoss(residual float64) float64 {
	absResidual := math.Abs(residual)
	if absResidual <= m.Delta {
		return 0.5 * residual * residual
	}
	return m.Delta * (absResidual - 0.5*m.Delta)
}

// huberDerivative calculates the derivative of Huber loss
func (m *Model) huberDerivative(residual float64) float64 {
	if math.Abs(residual) <= m.Delta {
		return residual
	}
	if residual > 0 {
		return m.Delta
	}
	return -m.Delta
}

func (m *Model) computeNormalizationParams(features [][]float64, targets []float64) {
	n := len(features)
	numFeatures := len(features[0])
	m.featureMeans = make([]float64, numFeatures)
	m.featureStds = make([]float64, numFeatures)

	for i := 0; i < n; i++ {
		for j := 0; j < numFeatures; j++ {
			m.featureMeans[j] += features[i][j]
		}
	}
	for j := 0; j < numFeatures; j++ {
		m.featureMeans[j] /= float64(n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < numFeatures; j++ {
			diff := features[i][j] - m.featureMeans[j]
			m.featureStds[j] += diff * diff
		}
	}
	for j := 0; j < numFeatures; j++ {
		m.featureStds[j] = math.Sqrt(m.featureStds[j] / float64(n))
		if m.featureStds[j] < 1e-10 {
			m.featureStds[j] = 1.0
		}
	}

	m.targetMean = 0.0
	for _, t := range targets {
		m.targetMean += t
	}
	m.targetMean /= float64(n)
	m.targetStd = 0.0
	for _, t := range targets {
		diff := t - m.targetMean
		m.targetStd += diff * diff
	}
	m.targetStd = math.Sqrt(m.targetStd / float64(n))
	if m.targetStd < 1e-10 {
		m.targetStd = 1.0
	}
}

// denormalize converts normalized parameters (last one is the bias)
// back to the original scale
func (m *Model) denormalize(params []float64) {
	p := len(params) - 1
	m.Coefficients = make([]float64, p)
	for j := 0; j < p; j++ {
		m.Coefficients[j] = params[j] * m.targetStd / m.featureStds[j]
	}
	m.Intercept = params[p]*m.targetStd + m.targetMean
	for j := 0; j < p; j++ {
		m.Intercept -= m.Coefficients[j] * m.featureMeans[j]
	}
}

func (m *Model) Fit(ctx context.Context, x [][]float64, y []float64, weights []float64) error {
	n := len(x)
	if n == 0 || len(x[0]) == 0 {
		return fmt.Errorf("failed to fit huber model: empty design matrix")
	}
	if len(y) != n {
		return fmt.Errorf("failed to fit huber model: %d rows but %d targets", n, len(y))
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	var wSum float64
	for _, w := range weights {
		wSum += w
	}

	m.computeNormalizationParams(x, y)
	p := len(x[0])
	normFeats := make([][]float64, n)
	normTargets := make([]float64, n)
	for i := 0; i < n; i++ {
		normFeats[i] = make([]float64, p+1)
		for j := 0; j < p; j++ {
			normFeats[i][j] = (x[i][j] - m.featureMeans[j]) / m.featureStds[j]
		}
		normFeats[i][p] = 1.0 // bias
		normTargets[i] = (y[i] - m.targetMean) / m.targetStd
	}

	params := make([]float64, p+1)
	prevLoss := math.MaxFloat64
	for iter := 0; iter < m.MaxIterations; iter++ {
		if iter%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		gradients := make([]float64, p+1)
		var totalLoss float64
		for i := 0; i < n; i++ {
			var predicted float64
			for j, f := range normFeats[i] {
				predicted += params[j] * f
			}
			residual := predicted - normTargets[i]
			totalLoss += weights[i] * m.huberLoss(residual)
			derivative := weights[i] * m.huberDerivative(residual)
			for j, f := range normFeats[i] {
				gradients[j] += derivative * f
			}
		}
		for j := range gradients {
			params[j] -= m.LearningRate * gradients[j] / wSum
		}
		avgLoss := totalLoss / wSum
		if math.Abs(prevLoss-avgLoss) < m.Tolerance {
			break
		}
		prevLoss = avgLoss
	}
	m.denormalize(params)
	return nil
}

func (m *Model) Predict(row []float64) float64 {
	ans := m.Intercept
	for j, c := range m.Coefficients {
		if j < len(row) {
			ans += c * row[j]
		}
	}
	return ans
}
