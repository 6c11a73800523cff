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

package ridge

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

const (
	ModelType = "ridge"

	// ctxCheckInterval specifies how often (in rows) we look at
	// the context when accumulating the design matrix
	ctxCheckInterval = 100
)

var ErrSingular = errors.New("ridge system is not positive definite")

// Model is a weighted ridge regression. Features are standardized
// before fitting and the intercept is not penalized. The stored
// coefficients are on the original feature scale.
type Model struct {
	Lambda       float64   `msgpack:"lambda"`
	Coefficients []float64 `msgpack:"coefficients"`
	Intercept    float64   `msgpack:"intercept"`
}

func NewModel(lambda float64) *Model {
	return &Model{Lambda: lambda}
}

func (m *Model) Type() string {
	return ModelType
}

func (m *Model) GetInfo() string {
	return fmt.Sprintf("Ridge regression (lambda: %01.2f, num. coefficients: %d)", m.Lambda, len(m.Coefficients))
}

func weightedMoments(x [][]float64, y, w []float64) (mu, sd []float64, yMean float64) {
	p := len(x[0])
	mu = make([]float64, p)
	sd = make([]float64, p)
	var wSum float64
	for i := range x {
		wSum += w[i]
		yMean += w[i] * y[i]
		for j := 0; j < p; j++ {
			mu[j] += w[i] * x[i][j]
		}
	}
	yMean /= wSum
	for j := range mu {
		mu[j] /= wSum
	}
	for i := range x {
		for j := 0; j < p; j++ {
			d := x[i][j] - mu[j]
			sd[j] += w[i] * d * d
		}
	}
	for j := range sd {
		sd[j] = math.Sqrt(sd[j] / wSum)
		if sd[j] < 1e-10 {
			sd[j] = 1.0
		}
	}
	return
}

func (m *Model) Fit(ctx context.Context, x [][]float64, y []float64, weights []float64) error {
	n := len(x)
	if n == 0 || len(x[0]) == 0 {
		return fmt.Errorf("failed to fit ridge model: empty design matrix")
	}
	if len(y) != n {
		return fmt.Errorf("failed to fit ridge model: %d rows but %d targets", n, len(y))
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	p := len(x[0])
	mu, sd, yMean := weightedMoments(x, y, weights)

	// rows are scaled by sqrt(w) so that ZᵀZ = ZᵀWZ
	z := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if i%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		sw := math.Sqrt(weights[i])
		for j := 0; j < p; j++ {
			z.Set(i, j, sw*(x[i][j]-mu[j])/sd[j])
		}
		yc.SetVec(i, sw*(y[i]-yMean))
	}

	var gram mat.SymDense
	gram.SymOuterK(1, z.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+m.Lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(z.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return ErrSingular
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return fmt.Errorf("failed to fit ridge model: %w", err)
	}

	m.Coefficients = make([]float64, p)
	m.Intercept = yMean
	for j := 0; j < p; j++ {
		m.Coefficients[j] = beta.AtVec(j) / sd[j]
		m.Intercept -= m.Coefficients[j] * mu[j]
	}
	log.Debug().
		Int("rows", n).
		Int("features", p).
		Float64("intercept", m.Intercept).
		Msg("fitted ridge model")
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
